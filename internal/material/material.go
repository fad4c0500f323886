package material

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Summary struct {
	ID              int64  `json:"id"`
	StudyMaterialID int64  `json:"study_material_id"`
	Content         string `json:"content"`
	DetailLevel     string `json:"detail_level,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type FlashcardSet struct {
	ID              int64       `json:"id"`
	StudyMaterialID int64       `json:"study_material_id"`
	Cards           []Flashcard `json:"cards"`
	CreatedAt       string      `json:"created_at"`
}

type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

type Quiz struct {
	ID              int64          `json:"id"`
	StudyMaterialID int64          `json:"study_material_id"`
	Questions       []QuizQuestion `json:"questions"`
	CreatedAt       string         `json:"created_at"`
}

// Material is the canonical study-material record. ID and UploadDate are
// backend-assigned and immutable; UpdatedAt advances on every backend
// mutation. Timestamps are ISO 8601 strings as the backend serves them.
type Material struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"user_id,omitempty"`
	FileName         string         `json:"file_name"`
	UploadDate       string         `json:"upload_date"`
	ProcessingStatus Status         `json:"processing_status"`
	UpdatedAt        string         `json:"updated_at"`
	Summaries        []Summary      `json:"summaries,omitempty"`
	FlashcardSets    []FlashcardSet `json:"flashcard_sets,omitempty"`
	Quizzes          []Quiz         `json:"quizzes,omitempty"`
}

func (m Material) Clone() Material {
	out := m
	if m.Summaries != nil {
		out.Summaries = append([]Summary(nil), m.Summaries...)
	}
	if m.FlashcardSets != nil {
		out.FlashcardSets = make([]FlashcardSet, len(m.FlashcardSets))
		for i, set := range m.FlashcardSets {
			cloned := set
			if set.Cards != nil {
				cloned.Cards = append([]Flashcard(nil), set.Cards...)
			}
			out.FlashcardSets[i] = cloned
		}
	}
	if m.Quizzes != nil {
		out.Quizzes = make([]Quiz, len(m.Quizzes))
		for i, quiz := range m.Quizzes {
			cloned := quiz
			if quiz.Questions != nil {
				cloned.Questions = make([]QuizQuestion, len(quiz.Questions))
				for j, q := range quiz.Questions {
					clonedQ := q
					if q.Options != nil {
						clonedQ.Options = append([]string(nil), q.Options...)
					}
					cloned.Questions[j] = clonedQ
				}
			}
			out.Quizzes[i] = cloned
		}
	}
	return out
}

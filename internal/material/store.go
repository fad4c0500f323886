package material

import (
	"sync"
)

// Store holds the canonical in-memory material list. Records keep their
// insertion position when replaced; new ids are appended. Every writer
// (poller, push listener, mutation gateway) funnels through Reconcile or
// one of the append helpers, so a record is always replaced whole and
// never field-merged across two versions.
type Store struct {
	mu      sync.RWMutex
	records []Material
	index   map[int64]int
}

func NewStore() *Store {
	return &Store{
		index: map[int64]int{},
	}
}

// Reconcile applies incoming records: an existing id is replaced in
// place, an unknown id is appended. Calling with no records is a no-op.
// The last call for a given id wins.
func (s *Store) Reconcile(records ...Material) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if pos, ok := s.index[record.ID]; ok {
			s.records[pos] = record.Clone()
			continue
		}
		s.index[record.ID] = len(s.records)
		s.records = append(s.records, record.Clone())
	}
}

// Replace swaps the entire list atomically. Duplicate ids in the input
// collapse to the last occurrence.
func (s *Store) Replace(records []Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records[:0]
	s.index = make(map[int64]int, len(records))
	for _, record := range records {
		if pos, ok := s.index[record.ID]; ok {
			s.records[pos] = record.Clone()
			continue
		}
		s.index[record.ID] = len(s.records)
		s.records = append(s.records, record.Clone())
	}
}

// Remove deletes the record with the given id. Removing an absent id is
// a no-op and reports false.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.records = append(s.records[:pos], s.records[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.records); i++ {
		s.index[s.records[i].ID] = i
	}
	return true
}

// AppendSummary attaches a generated summary to its parent. The call
// reports false and leaves the store untouched when the parent is not
// present or the summary id was already applied; a child event never
// creates a partial parent record.
func (s *Store) AppendSummary(summary Summary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[summary.StudyMaterialID]
	if !ok {
		return false
	}
	for _, existing := range s.records[pos].Summaries {
		if existing.ID == summary.ID {
			return false
		}
	}
	s.records[pos].Summaries = append(s.records[pos].Summaries, summary)
	return true
}

func (s *Store) AppendFlashcardSet(set FlashcardSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[set.StudyMaterialID]
	if !ok {
		return false
	}
	for _, existing := range s.records[pos].FlashcardSets {
		if existing.ID == set.ID {
			return false
		}
	}
	cloned := set
	if set.Cards != nil {
		cloned.Cards = append([]Flashcard(nil), set.Cards...)
	}
	s.records[pos].FlashcardSets = append(s.records[pos].FlashcardSets, cloned)
	return true
}

func (s *Store) AppendQuiz(quiz Quiz) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[quiz.StudyMaterialID]
	if !ok {
		return false
	}
	for _, existing := range s.records[pos].Quizzes {
		if existing.ID == quiz.ID {
			return false
		}
	}
	s.records[pos].Quizzes = append(s.records[pos].Quizzes, quiz)
	return true
}

func (s *Store) Get(id int64) (Material, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return Material{}, false
	}
	return s.records[pos].Clone(), true
}

// List returns the records in store order. The result is a deep copy;
// mutating it cannot corrupt store state.
func (s *Store) List() []Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Material, len(s.records))
	for i, record := range s.records {
		out[i] = record.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

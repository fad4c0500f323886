package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studykit/studysync/internal/material"
)

type ServerConfig struct {
	JWTSecret       string
	MaxBodyBytes    int64
	RateLimitMax    int
	RateLimitWindow time.Duration
	// ProcessDelay is how long an uploaded material stays pending before
	// the server flips it to completed. Zero completes it immediately.
	ProcessDelay time.Duration
}

// Server is the development backend the sync core talks to: an in-memory
// per-user material catalog with the same REST surface and push events
// as the production service.
type Server struct {
	cfg         ServerConfig
	hub         *eventHub
	rateLimiter *rateLimiter

	mu        sync.Mutex
	materials map[int64][]material.Material
	nextID    int64
	nextChild int64
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[int64]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer() *Server {
	return NewServerWithConfig(ServerConfig{})
}

func NewServerWithConfig(cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[int64]rateEntry{},
		}
	}
	return &Server{
		cfg:         cfg,
		hub:         newEventHub(),
		rateLimiter: limiter,
		materials:   map[int64][]material.Material{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if (r.URL.Path == "/" || r.URL.Path == "/dashboard") && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	claims, authErr := authorize(r.Header.Get("Authorization"), r.URL.Query().Get("token"), s.cfg.JWTSecret, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}

	if r.URL.Path == "/ws/events" && r.Method == http.MethodGet {
		s.hub.serveWS(w, r, claims.UserID)
		return
	}

	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.UserID, time.Now()) {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RateLimitWindow/time.Second)))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", getCorrelationID(r))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" || parts[2] != "study-materials" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	switch {
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.handleList(w, r, claims.UserID)
	case len(parts) == 3 && r.Method == http.MethodPost:
		s.handleUpload(w, r, claims.UserID)
	case len(parts) == 4 && parts[3] == "updates" && r.Method == http.MethodGet:
		s.handleUpdates(w, r, claims.UserID)
	case len(parts) == 4 && r.Method == http.MethodPut:
		s.handleUpdate(w, r, claims.UserID, parts[3])
	case len(parts) == 4 && r.Method == http.MethodDelete:
		s.handleDelete(w, r, claims.UserID, parts[3])
	case len(parts) == 5 && parts[4] == "summarize" && r.Method == http.MethodPost:
		s.handleSummarize(w, r, claims.UserID, parts[3])
	case len(parts) == 5 && parts[4] == "flashcards" && r.Method == http.MethodPost:
		s.handleFlashcards(w, r, claims.UserID, parts[3])
	case len(parts) == 5 && parts[4] == "quiz" && r.Method == http.MethodPost:
		s.handleQuiz(w, r, claims.UserID, parts[3])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	records := s.materials[userID]
	out := make([]material.Material, 0, len(records))
	for _, record := range records {
		out = append(out, record.Clone())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request, userID int64) {
	sinceRaw := r.URL.Query().Get("since")
	if sinceRaw == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "since query parameter is required", getCorrelationID(r))
		return
	}
	since, err := time.Parse(time.RFC3339Nano, sinceRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "since must be an RFC 3339 timestamp", getCorrelationID(r))
		return
	}

	s.mu.Lock()
	out := make([]material.Material, 0)
	for _, record := range s.materials[userID] {
		updatedAt, err := time.Parse(time.RFC3339Nano, record.UpdatedAt)
		if err != nil {
			continue
		}
		if !updatedAt.Before(since) {
			out = append(out, record.Clone())
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body", getCorrelationID(r))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field is required", getCorrelationID(r))
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable file", getCorrelationID(r))
		return
	}
	fileName := strings.TrimSpace(header.Filename)
	if fileName == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_file_name", "file name must not be empty", getCorrelationID(r))
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	s.nextID++
	record := material.Material{
		ID:               s.nextID,
		UserID:           userID,
		FileName:         fileName,
		UploadDate:       now,
		ProcessingStatus: material.StatusPending,
		UpdatedAt:        now,
	}
	s.materials[userID] = append(s.materials[userID], record)
	created := record.Clone()
	s.mu.Unlock()

	s.hub.publish(userID, material.EventMaterialCreated, created)
	s.scheduleProcessing(userID, created.ID)

	writeJSON(w, http.StatusCreated, created)
}

// scheduleProcessing emulates the ingestion pipeline: after ProcessDelay
// the material flips from pending to completed and an update event goes
// out over the push channel.
func (s *Server) scheduleProcessing(userID, id int64) {
	complete := func() {
		updated, ok := s.mutate(userID, id, func(record *material.Material) {
			record.ProcessingStatus = material.StatusCompleted
		})
		if ok {
			s.hub.publish(userID, material.EventMaterialUpdated, updated)
		}
	}
	if s.cfg.ProcessDelay > 0 {
		time.AfterFunc(s.cfg.ProcessDelay, complete)
		return
	}
	complete()
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, userID int64, rawID string) {
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	var patch struct {
		FileName         *string          `json:"file_name"`
		ProcessingStatus *material.Status `json:"processing_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", getCorrelationID(r))
		return
	}
	if patch.FileName != nil && strings.TrimSpace(*patch.FileName) == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_file_name", "file name must not be empty", getCorrelationID(r))
		return
	}
	if patch.ProcessingStatus != nil && !patch.ProcessingStatus.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "invalid_status", fmt.Sprintf("unknown processing status %q", *patch.ProcessingStatus), getCorrelationID(r))
		return
	}

	updated, ok := s.mutate(userID, id, func(record *material.Material) {
		if patch.FileName != nil {
			record.FileName = strings.TrimSpace(*patch.FileName)
		}
		if patch.ProcessingStatus != nil {
			record.ProcessingStatus = *patch.ProcessingStatus
		}
	})
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "study material not found", getCorrelationID(r))
		return
	}

	s.hub.publish(userID, material.EventMaterialUpdated, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, userID int64, rawID string) {
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	s.mu.Lock()
	records := s.materials[userID]
	index := -1
	for i, record := range records {
		if record.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "study material not found", getCorrelationID(r))
		return
	}
	s.materials[userID] = append(records[:index], records[index+1:]...)
	s.mu.Unlock()

	s.hub.publish(userID, material.EventMaterialDeleted, material.DeletedPayload{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request, userID int64, rawID string) {
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	var req struct {
		DetailLevel string `json:"detail_level"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.DetailLevel == "" {
		req.DetailLevel = "standard"
	}

	var summary material.Summary
	updated, ok := s.mutate(userID, id, func(record *material.Material) {
		s.nextChild++
		summary = material.Summary{
			ID:              s.nextChild,
			StudyMaterialID: record.ID,
			Content:         fmt.Sprintf("Summary of %s", record.FileName),
			DetailLevel:     req.DetailLevel,
			CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
		}
		record.Summaries = append(record.Summaries, summary)
	})
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "study material not found", getCorrelationID(r))
		return
	}

	s.hub.publish(userID, material.EventSummaryCreated, summary)
	s.hub.publish(userID, material.EventMaterialUpdated, updated)
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request, userID int64, rawID string) {
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var set material.FlashcardSet
	updated, ok := s.mutate(userID, id, func(record *material.Material) {
		s.nextChild++
		set = material.FlashcardSet{
			ID:              s.nextChild,
			StudyMaterialID: record.ID,
			Cards: []material.Flashcard{
				{Question: fmt.Sprintf("What is %s about?", record.FileName), Answer: "See the summary."},
			},
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		record.FlashcardSets = append(record.FlashcardSets, set)
	})
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "study material not found", getCorrelationID(r))
		return
	}

	s.hub.publish(userID, material.EventFlashcardsCreated, set)
	s.hub.publish(userID, material.EventMaterialUpdated, updated)
	writeJSON(w, http.StatusCreated, set)
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request, userID int64, rawID string) {
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var quiz material.Quiz
	updated, ok := s.mutate(userID, id, func(record *material.Material) {
		s.nextChild++
		quiz = material.Quiz{
			ID:              s.nextChild,
			StudyMaterialID: record.ID,
			Questions: []material.QuizQuestion{
				{
					Question: "Which document does this quiz cover?",
					Options:  []string{record.FileName, "unknown"},
					Answer:   record.FileName,
				},
			},
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}
		record.Quizzes = append(record.Quizzes, quiz)
	})
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "study material not found", getCorrelationID(r))
		return
	}

	s.hub.publish(userID, material.EventQuizCreated, quiz)
	s.hub.publish(userID, material.EventMaterialUpdated, updated)
	writeJSON(w, http.StatusCreated, quiz)
}

// mutate applies fn to the record in place and stamps a fresh updated_at.
// It returns a deep copy of the mutated record.
func (s *Server) mutate(userID, id int64, fn func(*material.Material)) (material.Material, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.materials[userID]
	for i := range records {
		if records[i].ID != id {
			continue
		}
		fn(&records[i])
		records[i].UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		return records[i].Clone(), true
	}
	return material.Material{}, false
}

func (l *rateLimiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[userID]
	if !ok || now.After(entry.resetAt) {
		l.entries[userID] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[userID] = entry
	return true
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

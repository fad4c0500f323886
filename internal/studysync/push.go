package studysync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/studykit/studysync/internal/material"
)

// PushListener applies real-time events to the store as they arrive,
// independent of poll timing. Every payload is schema-checked before it
// touches the store; a bad payload or a dropped connection never crashes
// the store. The connection is redialed with capped backoff until the
// listener is closed.
type PushListener struct {
	url       string
	store     *material.Store
	validator *material.EventValidator
	logger    Logger

	backoffBase time.Duration
	backoffMax  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPushListener(eventsURL string, store *material.Store, logger Logger) (*PushListener, error) {
	eventsURL = strings.TrimSpace(eventsURL)
	if eventsURL == "" {
		return nil, fmt.Errorf("events url is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	validator, err := material.NewEventValidator()
	if err != nil {
		return nil, err
	}
	return &PushListener{
		url:         eventsURL,
		store:       store,
		validator:   validator,
		logger:      logger,
		backoffBase: 250 * time.Millisecond,
		backoffMax:  10 * time.Second,
	}, nil
}

func (l *PushListener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go l.run(runCtx, done)
}

// Close tears down everything Start set up: the read loop exits, the
// socket is closed, and no further events are applied.
func (l *PushListener) Close() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (l *PushListener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	delay := l.backoffBase
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.Dial(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logf("push channel dial failed: %v", err)
			if waitWithContext(ctx, delay) != nil {
				return
			}
			delay *= 2
			if delay > l.backoffMax {
				delay = l.backoffMax
			}
			continue
		}
		delay = l.backoffBase
		l.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		l.logf("push channel disconnected, reconnecting")
		if waitWithContext(ctx, delay) != nil {
			return
		}
	}
}

func (l *PushListener) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				l.logf("push channel read failed: %v", err)
			}
			return
		}
		if err := l.handle(data); err != nil {
			l.logf("push event skipped: %v", err)
		}
	}
}

// handle parses, validates, and applies one event envelope. It is the
// single merge path for the push channel; every event type lands on the
// same store entry points the poller uses.
func (l *PushListener) handle(raw []byte) error {
	var envelope material.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}
	if err := l.validator.Validate(envelope.Event, envelope.Data); err != nil {
		if errors.Is(err, material.ErrUnknownEvent) {
			return err
		}
		return fmt.Errorf("%s payload rejected: %w", envelope.Event, err)
	}

	switch envelope.Event {
	case material.EventMaterialCreated, material.EventMaterialUpdated:
		var record material.Material
		if err := json.Unmarshal(envelope.Data, &record); err != nil {
			return err
		}
		l.store.Reconcile(record)
	case material.EventMaterialDeleted:
		var payload material.DeletedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return err
		}
		l.store.Remove(payload.ID)
	case material.EventSummaryCreated:
		var summary material.Summary
		if err := json.Unmarshal(envelope.Data, &summary); err != nil {
			return err
		}
		if !l.store.AppendSummary(summary) {
			l.logf("dropping summary %d: parent %d not present", summary.ID, summary.StudyMaterialID)
		}
	case material.EventFlashcardsCreated:
		var set material.FlashcardSet
		if err := json.Unmarshal(envelope.Data, &set); err != nil {
			return err
		}
		if !l.store.AppendFlashcardSet(set) {
			l.logf("dropping flashcard set %d: parent %d not present", set.ID, set.StudyMaterialID)
		}
	case material.EventQuizCreated:
		var quiz material.Quiz
		if err := json.Unmarshal(envelope.Data, &quiz); err != nil {
			return err
		}
		if !l.store.AppendQuiz(quiz) {
			l.logf("dropping quiz %d: parent %d not present", quiz.ID, quiz.StudyMaterialID)
		}
	}
	return nil
}

func (l *PushListener) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

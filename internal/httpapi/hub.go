package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/studykit/studysync/internal/material"
)

// eventHub fans push events out to the websocket connections of a single
// user. Slow consumers are dropped rather than allowed to stall the
// publisher.
type eventHub struct {
	mu          sync.Mutex
	subscribers map[int64]map[*subscriber]struct{}
}

type subscriber struct {
	userID int64
	msgs   chan []byte
	close  func()
}

func newEventHub() *eventHub {
	return &eventHub{subscribers: map[int64]map[*subscriber]struct{}{}}
}

func (h *eventHub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.userID]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.subscribers[sub.userID] = set
	}
	set[sub] = struct{}{}
}

func (h *eventHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.userID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.userID)
	}
}

// publish sends one event to every connection of the given user.
func (h *eventHub) publish(userID int64, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	envelope, err := json.Marshal(material.EventEnvelope{Event: event, Data: payload})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers[userID] {
		select {
		case sub.msgs <- envelope:
		default:
			go sub.close()
		}
	}
}

// serveWS upgrades the request and streams hub events until the client
// disconnects or the context ends.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	sub := &subscriber{
		userID: userID,
		msgs:   make(chan []byte, 16),
	}
	var closeOnce sync.Once
	sub.close = func() {
		closeOnce.Do(func() {
			_ = conn.Close(websocket.StatusPolicyViolation, "connection too slow")
		})
	}
	h.add(sub)
	defer h.remove(sub)

	ctx := r.Context()
	// Reads are discarded; the events socket is server-to-client only.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-sub.msgs:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

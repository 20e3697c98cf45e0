package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thedongcc/Tcom-sub002/internal/session"
)

// SessionStreamHandler streams lifecycle events and log batches over one
// websocket. A ?session= query narrows the stream to a single session.
type SessionStreamHandler struct {
	Registry       *session.Registry
	AuthToken      string
	AllowedOrigins []string
}

type sessionStreamPayload struct {
	Type       string             `json:"type"`
	SessionID  string             `json:"sessionId"`
	Name       string             `json:"name,omitempty"`
	State      string             `json:"state,omitempty"`
	Entries    []session.LogEntry `json:"entries,omitempty"`
	Evicted    int                `json:"evicted,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

func (h *SessionStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Registry == nil {
		http.Error(w, "session registry unavailable", http.StatusInternalServerError)
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("session"))

	var (
		events       <-chan session.Event
		cancelEvents func()
		batches      <-chan session.LogBatch
		cancelLogs   func()
	)
	if filter == "" {
		events, cancelEvents = h.Registry.EventBus().Subscribe()
		batches, cancelLogs = h.Registry.LogBus().Subscribe()
	} else {
		events, cancelEvents = h.Registry.EventBus().SubscribeFiltered(func(event session.Event) bool {
			return event.SessionID == filter
		})
		batches, cancelLogs = h.Registry.LogBus().SubscribeFiltered(func(batch session.LogBatch) bool {
			return batch.SessionID == filter
		})
	}
	if events == nil || batches == nil {
		cancelEvents()
		cancelLogs()
		http.Error(w, "session events unavailable", http.StatusInternalServerError)
		return
	}
	defer cancelEvents()
	defer cancelLogs()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, h.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var payload sessionStreamPayload
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				payload = sessionStreamPayload{
					Type:       event.Type(),
					SessionID:  event.SessionID,
					Name:       event.Name,
					State:      event.State,
					OccurredAt: event.Timestamp(),
				}
			case batch, ok := <-batches:
				if !ok {
					return
				}
				payload = sessionStreamPayload{
					Type:       batch.Type(),
					SessionID:  batch.SessionID,
					Entries:    batch.Entries,
					Evicted:    batch.Evicted,
					OccurredAt: batch.Timestamp(),
				}
			case <-done:
				return
			}
			if payload.OccurredAt.IsZero() {
				payload.OccurredAt = time.Now().UTC()
			}
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

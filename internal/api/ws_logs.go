package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

// LogsStreamHandler streams application log entries as they are written. A
// ?level= query drops entries below the given severity.
type LogsStreamHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *LogsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.Logger == nil {
		http.Error(w, "logger unavailable", http.StatusInternalServerError)
		return
	}

	minLevel := logging.Level("")
	if raw := strings.TrimSpace(r.URL.Query().Get("level")); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			http.Error(w, "invalid log level", http.StatusBadRequest)
			return
		}
		minLevel = level
	}

	entries, cancel := h.Logger.Subscribe()
	if entries == nil {
		http.Error(w, "log stream unavailable", http.StatusInternalServerError)
		return
	}
	defer cancel()

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
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
					return
				}
				if err := conn.WriteJSON(entry); err != nil {
					return
				}
			case <-done:
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

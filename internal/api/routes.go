package api

import (
	"net/http"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

type RouterOptions struct {
	Registry   *session.Registry
	Controller *session.Controller
	Pairing    *pairing.Coordinator
	Store      *workspace.Store
	Logger     *logging.Logger
	Metrics    *metrics.Registry
	AuthToken  string
	// AllowedOrigins extends the websocket origin check beyond same-host.
	AllowedOrigins []string
	// WorkspaceDir reports the currently open workspace directory.
	WorkspaceDir func() string
	StartedAt    time.Time
}

func RegisterRoutes(mux *http.ServeMux, options RouterOptions) {
	startedAt := options.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	rest := &RestHandler{
		Registry:     options.Registry,
		Controller:   options.Controller,
		Pairing:      options.Pairing,
		Store:        options.Store,
		Logger:       options.Logger,
		Metrics:      options.Metrics,
		WorkspaceDir: options.WorkspaceDir,
		StartedAt:    startedAt,
	}
	wrap := func(handler apiHandler) http.Handler {
		return loggingMiddleware(options.Logger, restHandler(options.AuthToken, handler))
	}

	mux.Handle("/ws/sessions", securityHeadersMiddleware(cacheControlNoStore, &SessionStreamHandler{
		Registry:       options.Registry,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	}))
	mux.Handle("/ws/logs", securityHeadersMiddleware(cacheControlNoStore, &LogsStreamHandler{
		Logger:         options.Logger,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	}))

	mux.Handle("/api/status", wrap(rest.handleStatus))
	mux.Handle("/api/sessions", wrap(rest.handleSessions))
	mux.Handle("/api/sessions/", wrap(rest.handleSessionByID))
	mux.Handle("/api/ports", wrap(rest.handlePorts))
	mux.Handle("/api/pairs", wrap(rest.handlePairs))
	mux.Handle("/api/pairs/", wrap(rest.handlePairByID))
	mux.Handle("/api/logs", wrap(rest.handleLogs))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/metrics", rest.handleMetrics)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		if options.AuthToken != "" {
			w.Header().Set("X-Tcom-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tcom ok\n"))
	})
}

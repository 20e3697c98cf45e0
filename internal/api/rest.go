package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
	"github.com/thedongcc/Tcom-sub002/internal/ports"
	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/version"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

// RestHandler carries the REST endpoints' dependencies. WorkspaceDir reports
// the currently open workspace; the app layer owns which one that is.
type RestHandler struct {
	Registry     *session.Registry
	Controller   *session.Controller
	Pairing      *pairing.Coordinator
	Store        *workspace.Store
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	WorkspaceDir func() string
	StartedAt    time.Time
	// ListPorts overrides the OS port enumeration. Nil uses ports.List.
	ListPorts func(ports.ListOptions) ([]ports.PortInfo, error)
}

type statusResponse struct {
	Sessions       int       `json:"sessions"`
	Connected      int       `json:"connected"`
	Workspace      string    `json:"workspace,omitempty"`
	PairingEnabled bool      `json:"pairingEnabled"`
	Version        string    `json:"version"`
	StartedAt      time.Time `json:"startedAt"`
	ServerTime     time.Time `json:"serverTime"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireRegistry(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	infos := h.Registry.List()
	connected := 0
	for _, info := range infos {
		if info.Connected {
			connected++
		}
	}
	response := statusResponse{
		Sessions:       len(infos),
		Connected:      connected,
		PairingEnabled: h.Pairing.Enabled(),
		Version:        version.Version,
		StartedAt:      h.StartedAt,
		ServerTime:     time.Now().UTC(),
	}
	if h.WorkspaceDir != nil {
		response.Workspace = h.WorkspaceDir()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w, cacheControlNoCache)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	registry := h.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = registry.WritePrometheus(w)
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}

	entries := h.Logger.Buffer().List()
	filtered := filterLogEntries(entries, query)
	writeJSON(w, http.StatusOK, filtered)
	return nil
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: 100,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &parsed
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}

func filterLogEntries(entries []logging.LogEntry, query logQuery) []logging.LogEntry {
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if query.Level != "" && !logging.LevelAtLeast(entry.Level, query.Level) {
			continue
		}
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}
	return filtered
}

func (h *RestHandler) requireRegistry() *apiError {
	if h.Registry == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "session registry unavailable"}
	}
	return nil
}

func (h *RestHandler) requireController() *apiError {
	if h.Controller == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "session controller unavailable"}
	}
	return nil
}

func (h *RestHandler) requirePairing() *apiError {
	if h.Pairing == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "pairing coordinator unavailable"}
	}
	return nil
}

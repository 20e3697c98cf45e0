package api

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

type sessionDetail struct {
	session.Info
	Config session.Config `json:"config"`
}

type sessionLogResponse struct {
	ID      string             `json:"id"`
	Entries []session.LogEntry `json:"entries"`
}

type writeRequest struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
	Topic    string `json:"topic,omitempty"`
	QoS      *byte  `json:"qos,omitempty"`
	Retain   *bool  `json:"retain,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *RestHandler) handleSessions(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireRegistry(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		return h.listSessions(w)
	case http.MethodPost:
		return h.createSession(w, r)
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *RestHandler) handleSessionByID(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireRegistry(); err != nil {
		return err
	}

	id, action, ok := parseSessionPath(r.URL.Path)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}
	if err := validateSessionID(id); err != nil {
		return err
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			return h.getSession(w, id)
		case http.MethodPatch:
			return h.updateSession(w, r, id)
		case http.MethodDelete:
			return h.deleteSession(w, r, id)
		default:
			return methodNotAllowed(w, "GET, PATCH, DELETE")
		}
	case "connect":
		return h.connectSession(w, r, id)
	case "disconnect":
		return h.disconnectSession(w, r, id)
	case "write":
		return h.writeSession(w, r, id)
	case "rename":
		return h.renameSession(w, r, id)
	case "log":
		return h.sessionLog(w, r, id)
	case "log/export":
		return h.exportSessionLog(w, r, id)
	default:
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}
}

func (h *RestHandler) listSessions(w http.ResponseWriter) *apiError {
	writeJSON(w, http.StatusOK, h.Registry.List())
	return nil
}

func (h *RestHandler) createSession(w http.ResponseWriter, r *http.Request) *apiError {
	config, err := decodeSessionConfig(r)
	if err != nil {
		return err
	}
	if config.ID != "" {
		if _, getErr := h.Registry.Get(config.ID); getErr == nil {
			return &apiError{Status: http.StatusConflict, Message: "session already exists", SessionID: config.ID}
		}
	}

	created, createErr := h.Registry.Create(config)
	if createErr != nil {
		return faultError(createErr)
	}
	writeJSON(w, http.StatusCreated, sessionDetail{Info: created.Info(), Config: created.Config()})
	return nil
}

func (h *RestHandler) getSession(w http.ResponseWriter, id string) *apiError {
	target, err := h.Registry.Get(id)
	if err != nil {
		return faultError(err)
	}
	writeJSON(w, http.StatusOK, sessionDetail{Info: target.Info(), Config: target.Config()})
	return nil
}

func (h *RestHandler) updateSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	next, err := decodeSessionConfig(r)
	if err != nil {
		return err
	}
	next.ID = id

	if updateErr := h.Registry.UpdateConfig(id, next); updateErr != nil {
		apiErr := faultError(updateErr)
		apiErr.SessionID = id
		return apiErr
	}
	return h.getSession(w, id)
}

func (h *RestHandler) deleteSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if err := h.requireController(); err != nil {
		return err
	}

	if deleteErr := h.Controller.Delete(r.Context(), id); deleteErr != nil {
		apiErr := faultError(deleteErr)
		apiErr.SessionID = id
		return apiErr
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *RestHandler) connectSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireController(); err != nil {
		return err
	}

	if connectErr := h.Controller.Connect(r.Context(), id); connectErr != nil {
		apiErr := faultError(connectErr)
		apiErr.SessionID = id
		return apiErr
	}
	return h.getSession(w, id)
}

func (h *RestHandler) disconnectSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireController(); err != nil {
		return err
	}

	if disconnectErr := h.Controller.Disconnect(r.Context(), id); disconnectErr != nil {
		apiErr := faultError(disconnectErr)
		apiErr.SessionID = id
		return apiErr
	}
	return h.getSession(w, id)
}

func (h *RestHandler) writeSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if err := h.requireController(); err != nil {
		return err
	}

	request, err := decodeWriteRequest(r)
	if err != nil {
		return err
	}
	payload, err := decodeWritePayload(request)
	if err != nil {
		return err
	}

	options := session.WriteOptions{
		Topic:  request.Topic,
		QoS:    request.QoS,
		Retain: request.Retain,
	}
	if writeErr := h.Controller.Write(r.Context(), id, payload, options); writeErr != nil {
		apiErr := faultError(writeErr)
		apiErr.SessionID = id
		return apiErr
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *RestHandler) renameSession(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request renameRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}

	if _, renameErr := h.Registry.Rename(id, request.Name); renameErr != nil {
		apiErr := faultError(renameErr)
		apiErr.SessionID = id
		return apiErr
	}
	return h.getSession(w, id)
}

func (h *RestHandler) sessionLog(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	target, err := h.Registry.Get(id)
	if err != nil {
		return faultError(err)
	}
	writeJSON(w, http.StatusOK, sessionLogResponse{ID: id, Entries: target.LogEntries()})
	return nil
}

func (h *RestHandler) exportSessionLog(w http.ResponseWriter, r *http.Request, id string) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	target, err := h.Registry.Get(id)
	if err != nil {
		return faultError(err)
	}

	filename := workspace.ArchiveFilename(target.Name(), time.Now())
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	// Headers are gone by the time the stream can fail; a broken export
	// truncates the download and gets logged server-side.
	if exportErr := workspace.WriteArchive(w, target.LogEntries()); exportErr != nil && h.Logger != nil {
		h.Logger.Warn("log export failed", map[string]string{
			"session": id,
			"error":   exportErr.Error(),
		})
	}
	return nil
}

func parseSessionPath(path string) (string, string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/sessions/")
	if trimmed == path {
		return "", "", false
	}

	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}

func validateSessionID(id string) *apiError {
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing session id"}
	}
	return nil
}

func decodeSessionConfig(r *http.Request) (session.Config, *apiError) {
	var config session.Config
	if err := decodeJSONBody(r, &config); err != nil {
		return config, err
	}
	return config, nil
}

func decodeWriteRequest(r *http.Request) (writeRequest, *apiError) {
	var request writeRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return request, err
	}
	return request, nil
}

func decodeJSONBody(r *http.Request, target any) *apiError {
	if r.Body == nil {
		return nil
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && err != io.EOF {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid request body"}
	}
	return nil
}

func decodeWritePayload(request writeRequest) ([]byte, *apiError) {
	switch strings.ToLower(strings.TrimSpace(request.Encoding)) {
	case "", "text":
		return []byte(request.Data), nil
	case "hex":
		compact := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, request.Data)
		payload, err := hex.DecodeString(compact)
		if err != nil {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "invalid hex payload"}
		}
		return payload, nil
	case "base64":
		payload, err := base64.StdEncoding.DecodeString(request.Data)
		if err != nil {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "invalid base64 payload"}
		}
		return payload, nil
	default:
		return nil, &apiError{Status: http.StatusBadRequest, Message: "unsupported payload encoding"}
	}
}

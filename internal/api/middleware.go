// Package api serves the REST and websocket surface: session lifecycle and
// writes, port and pair management, log queries and exports, and the live
// event streams the UI renders from.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/session"
)

type apiError struct {
	Status    int
	Message   string
	Code      string
	SessionID string
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

const (
	cacheControlNoStore = "no-store, must-revalidate"
	cacheControlNoCache = "no-cache"
)

func setSecurityHeaders(w http.ResponseWriter, cacheControl string) {
	headers := w.Header()
	headers.Set("X-Content-Type-Options", "nosniff")
	if cacheControl != "" {
		headers.Set("Cache-Control", cacheControl)
	}
}

func securityHeadersHandler(cacheControl string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControl)
		next(w, r)
	}
}

func securityHeadersMiddleware(cacheControl string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControl)
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(token string, next apiHandler) apiHandler {
	return func(w http.ResponseWriter, r *http.Request) *apiError {
		if !validateToken(r, token) {
			return &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"}
		}
		return next(w, r)
	}
}

func jsonErrorMiddleware(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			writeJSONError(w, err)
		}
	}
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logger != nil {
			logger.Debug("api request", map[string]string{
				"method": r.Method,
				"path":   r.URL.Path,
			})
		}
		next.ServeHTTP(w, r)
	})
}

// restHandler stacks the standard REST middleware: security headers, JSON
// error envelopes, and bearer-token auth.
func restHandler(token string, handler apiHandler) http.HandlerFunc {
	return securityHeadersHandler(cacheControlNoStore, jsonErrorMiddleware(authMiddleware(token, handler)))
}

func methodNotAllowed(w http.ResponseWriter, allow string) *apiError {
	w.Header().Set("Allow", allow)
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}

// validateToken accepts the configured token via the Authorization header or
// a token query parameter. An empty configured token leaves the server open.
func validateToken(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == token
	}
	if queryToken := r.URL.Query().Get("token"); queryToken != "" {
		return queryToken == token
	}
	return false
}

// isOriginAllowed admits requests with no Origin header, any explicitly
// allowed origin, and otherwise only origins on the request's own host.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}
	if len(allowed) > 0 {
		for _, candidate := range allowed {
			if strings.EqualFold(origin, candidate) || strings.EqualFold(originHost, candidate) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(originHost, hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	host := hostport
	if parsedHost, _, err := net.SplitHostPort(hostport); err == nil {
		host = parsedHost
	}
	return strings.Trim(host, "[]")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, err *apiError) {
	if err == nil {
		return
	}
	code := err.Code
	if code == "" {
		code = errorCodeForStatus(err.Status)
	}
	writeJSON(w, err.Status, errorResponse{
		Error:     err.Message,
		Code:      code,
		SessionID: err.SessionID,
	})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadGateway:
		return "transport_failed"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return ""
}

// faultError maps classified errors onto HTTP statuses: configuration
// problems are the caller's, tool privilege maps to forbidden, link failures
// surface as a bad upstream, and persistence stays internal.
func faultError(err error) *apiError {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrNotFound) {
		return &apiError{Status: http.StatusNotFound, Message: "session not found"}
	}
	switch fault.ClassOf(err) {
	case fault.ClassConfig:
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case fault.ClassUnauthorized:
		return &apiError{Status: http.StatusForbidden, Message: err.Error()}
	case fault.ClassTransport:
		return &apiError{Status: http.StatusBadGateway, Message: err.Error()}
	case fault.ClassPersistence:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
}

package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/client"
)

const (
	exitUsage        = 1
	exitNotConnected = 2
	exitServer       = 3
)

var httpClient = &http.Client{Timeout: 30 * time.Second}
var sessionCacheTTL = 60 * time.Second

type sendError struct {
	Code    int
	Message string
}

func (e *sendError) Error() string {
	return e.Message
}

func sendErr(code int, message string) *sendError {
	return &sendError{Code: code, Message: message}
}

func sendErrf(code int, format string, args ...any) *sendError {
	return &sendError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type sessionInfo = client.SessionInfo

func handleSendError(err error, errOut io.Writer) int {
	if err == nil {
		return 0
	}
	var sErr *sendError
	if errors.As(err, &sErr) {
		fmt.Fprintln(errOut, sErr.Message)
		return sErr.Code
	}
	fmt.Fprintln(errOut, err.Error())
	return exitServer
}

// resolveSession turns cfg.SessionRef into a session id: an exact id match
// wins, then an exact name match, then a unique name prefix.
func resolveSession(cfg *Config) error {
	sessions, err := loadSessions(*cfg)
	if err != nil {
		return err
	}

	ref := cfg.SessionRef
	for _, info := range sessions {
		if info.ID == ref {
			cfg.SessionID = info.ID
			cfg.SessionName = info.Name
			return nil
		}
	}
	for _, info := range sessions {
		if strings.EqualFold(info.Name, ref) {
			cfg.SessionID = info.ID
			cfg.SessionName = info.Name
			return nil
		}
	}

	var matches []sessionInfo
	for _, info := range sessions {
		if strings.HasPrefix(strings.ToLower(info.Name), strings.ToLower(ref)) {
			matches = append(matches, info)
		}
	}
	switch len(matches) {
	case 1:
		cfg.SessionID = matches[0].ID
		cfg.SessionName = matches[0].Name
		return nil
	case 0:
		return sendErrf(exitUsage, "unknown session %q\n%s", ref, formatSessionList(sessions))
	default:
		return sendErrf(exitUsage, "session %q is ambiguous\n%s", ref, formatSessionList(matches))
	}
}

func formatSessionList(sessions []sessionInfo) string {
	if len(sessions) == 0 {
		return "no sessions exist on the server"
	}
	builder := strings.Builder{}
	builder.WriteString("sessions:")
	for _, info := range sessions {
		builder.WriteString(fmt.Sprintf("\n  %s  %s (%s, %s)", info.ID, info.Name, info.Kind, info.State))
	}
	return builder.String()
}

// sendWrite posts the payload. When --connect is set and the server refuses
// because the session is idle, it connects and retries once.
func sendWrite(cfg Config, payload []byte) error {
	write, err := buildWriteRequest(cfg, payload)
	if err != nil {
		return err
	}

	logf(cfg, "writing %d bytes to session %s (%s)", len(payload), cfg.SessionName, cfg.SessionID)
	writeErr := client.WriteSession(httpClient, cfg.URL, cfg.Token, cfg.SessionID, write)
	if writeErr == nil {
		logf(cfg, "write accepted")
		return nil
	}

	var httpErr *client.HTTPError
	if !errors.As(writeErr, &httpErr) {
		return sendErrf(exitServer, "write failed: %v", writeErr)
	}
	if !isNotConnected(httpErr) {
		return sendErr(exitServer, httpErr.Message)
	}
	if !cfg.Connect {
		return sendErrf(exitNotConnected, "%s (use --connect to connect it first)", httpErr.Message)
	}

	logf(cfg, "session idle; connecting")
	if err := client.ConnectSession(httpClient, cfg.URL, cfg.Token, cfg.SessionID); err != nil {
		var connectErr *client.HTTPError
		if errors.As(err, &connectErr) {
			return sendErr(exitNotConnected, connectErr.Message)
		}
		return sendErrf(exitServer, "connect failed: %v", err)
	}

	if err := client.WriteSession(httpClient, cfg.URL, cfg.Token, cfg.SessionID, write); err != nil {
		var retryErr *client.HTTPError
		if errors.As(err, &retryErr) {
			return sendErr(exitServer, retryErr.Message)
		}
		return sendErrf(exitServer, "write failed: %v", err)
	}
	logf(cfg, "write accepted after connect")
	return nil
}

func isNotConnected(err *client.HTTPError) bool {
	return err.StatusCode == http.StatusBadRequest && strings.Contains(err.Message, "not connected")
}

// buildWriteRequest encodes the payload for the wire. Raw stdin travels as
// base64 so arbitrary bytes survive JSON; --hex sends the compacted digits
// under the hex encoding instead.
func buildWriteRequest(cfg Config, payload []byte) (client.WriteRequest, error) {
	write := client.WriteRequest{Topic: cfg.Topic}
	if cfg.QoS >= 0 {
		qos := byte(cfg.QoS)
		write.QoS = &qos
	}
	if cfg.RetainSet {
		retain := cfg.Retain
		write.Retain = &retain
	}

	if cfg.Hex {
		compact := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\n', '\r':
				return -1
			}
			return r
		}, string(payload))
		if _, err := hex.DecodeString(compact); err != nil {
			return client.WriteRequest{}, sendErrf(exitUsage, "stdin is not valid hex: %v", err)
		}
		write.Data = compact
		write.Encoding = "hex"
		return write, nil
	}

	write.Data = base64.StdEncoding.EncodeToString(payload)
	write.Encoding = "base64"
	return write, nil
}

// loadSessions serves the listing from a short-lived cache so shell
// completion does not hammer the server, falling back to a live fetch.
func loadSessions(cfg Config) ([]sessionInfo, error) {
	now := time.Now()
	if sessions, ok := readSessionCache(now); ok {
		logf(cfg, "using cached session list (%d entries)", len(sessions))
		return sessions, nil
	}

	sessions, err := client.FetchSessions(httpClient, cfg.URL, cfg.Token)
	if err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			return nil, sendErr(exitServer, httpErr.Message)
		}
		return nil, sendErrf(exitServer, "cannot reach tcom at %s: %v", cfg.URL, err)
	}
	writeSessionCache(sessions, now)
	return sessions, nil
}

func fetchSessionNames(cfg Config) ([]string, error) {
	sessions, err := loadSessions(cfg)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(sessions))
	for _, info := range sessions {
		names = append(names, info.Name)
	}
	return names, nil
}

type sessionCache struct {
	FetchedAt time.Time     `json:"fetchedAt"`
	Sessions  []sessionInfo `json:"sessions"`
}

func readSessionCache(now time.Time) ([]sessionInfo, bool) {
	path := sessionCachePath()
	if path == "" {
		return nil, false
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cache sessionCache
	if err := json.Unmarshal(payload, &cache); err != nil {
		return nil, false
	}
	if now.Sub(cache.FetchedAt) > sessionCacheTTL {
		return nil, false
	}
	if len(cache.Sessions) == 0 {
		return nil, false
	}
	return cache.Sessions, true
}

func writeSessionCache(sessions []sessionInfo, now time.Time) {
	path := sessionCachePath()
	if path == "" {
		return
	}
	payload, err := json.Marshal(sessionCache{FetchedAt: now, Sessions: sessions})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, payload, 0o600)
}

func sessionCachePath() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "tcom", "sessions.json")
}

func logf(cfg Config, format string, args ...any) {
	if !cfg.Verbose || cfg.LogWriter == nil {
		return
	}
	fmt.Fprintf(cfg.LogWriter, format+"\n", args...)
}

func maskToken(token string, debug bool) string {
	if token == "" {
		return "(none)"
	}
	if debug && len(token) > 4 {
		return token[:4] + "..."
	}
	return "(set)"
}

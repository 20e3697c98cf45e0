// Package client is the thin HTTP surface the command line tools use to
// talk to a running tcom server.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SessionInfo is the subset of the session listing the tools care about.
type SessionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// WriteRequest is the body of a session write. Data is interpreted per
// Encoding (text, hex, or base64); Topic, QoS, and Retain override the
// session's publish settings for MQTT sessions.
type WriteRequest struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
	Topic    string `json:"topic,omitempty"`
	QoS      *byte  `json:"qos,omitempty"`
	Retain   *bool  `json:"retain,omitempty"`
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// FetchSessions lists the server's sessions.
func FetchSessions(client *http.Client, baseURL, token string) ([]SessionInfo, error) {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	request, err := http.NewRequest(http.MethodGet, baseURL+"/api/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("build sessions request failed: %w", err)
	}
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("sessions request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		message := readErrorMessage(response)
		return nil, &HTTPError{StatusCode: response.StatusCode, Message: message}
	}

	var payload []SessionInfo
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}
	sessions := make([]SessionInfo, 0, len(payload))
	for _, info := range payload {
		if strings.TrimSpace(info.ID) == "" || strings.TrimSpace(info.Name) == "" {
			continue
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

// WriteSession posts payload bytes to the session.
func WriteSession(client *http.Client, baseURL, token, sessionID string, write WriteRequest) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	body, err := json.Marshal(write)
	if err != nil {
		return fmt.Errorf("encode write request: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/api/sessions/"+sessionID+"/write", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build write request failed: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("write request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNoContent || response.StatusCode == http.StatusOK {
		return nil
	}
	message := readErrorMessage(response)
	return &HTTPError{StatusCode: response.StatusCode, Message: message}
}

// ConnectSession asks the server to open the session's transport. Already
// connected sessions report success.
func ConnectSession(client *http.Client, baseURL, token, sessionID string) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/api/sessions/"+sessionID+"/connect", nil)
	if err != nil {
		return fmt.Errorf("build connect request failed: %w", err)
	}
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("connect request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusOK {
		return nil
	}
	message := readErrorMessage(response)
	return &HTTPError{StatusCode: response.StatusCode, Message: message}
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readErrorMessage(response *http.Response) string {
	if response == nil {
		return "request failed"
	}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return response.Status
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if strings.TrimSpace(payload.Error) != "" {
			return payload.Error
		}
	}
	return text
}

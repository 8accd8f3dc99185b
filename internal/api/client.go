package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// ErrorResponse is the backend's error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error is a non-2xx REST response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Unwrap maps auth failures onto the shared sentinel.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return interfaces.ErrUnauthorized
	}
	if e.StatusCode == http.StatusNotFound {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

var (
	ErrInvalidBaseURL = errors.New("api base URL must be absolute http(s)")
	ErrNoCredentials  = errors.New("credential provider is required")
)

// Client is the REST client for the admin session endpoints
// ARCHITECTURAL DISCOVERY: Pure transport layer; no caching or retry, so the
// directory decides what a failure means for its snapshot
type Client struct {
	baseURL     *url.URL
	credentials interfaces.CredentialProvider
	httpClient  *http.Client
}

// NewClient creates a REST client rooted at baseURL.
func NewClient(baseURL string, credentials interfaces.CredentialProvider, timeout time.Duration) (*Client, error) {
	if credentials == nil {
		return nil, ErrNoCredentials
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     u,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// ListSessions fetches every session: GET /api/chat/sessions
func (c *Client) ListSessions(ctx context.Context) ([]types.DirectoryEntry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/chat/sessions", nil, &raw); err != nil {
		return nil, err
	}

	// FUNCTIONAL DISCOVERY: Backends answer with either a bare array or a
	// {"sessions": [...]} envelope
	var entries []types.DirectoryEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}
	var envelope struct {
		Sessions []types.DirectoryEntry `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	return envelope.Sessions, nil
}

// GetTranscript fetches a session's messages: GET /api/chat/sessions/{id}/messages
func (c *Client) GetTranscript(ctx context.Context, sessionID string) ([]types.Message, error) {
	if !types.IsValidSessionID(sessionID) {
		return nil, types.ErrInvalidSessionID
	}

	var raw json.RawMessage
	path := "/api/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var messages []types.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		var envelope struct {
			Messages []types.Message `json:"messages"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
		messages = envelope.Messages
	}
	for i := range messages {
		if messages[i].SessionID == "" {
			messages[i].SessionID = sessionID
		}
	}
	return messages, nil
}

// UpdateStatus sets a session's status: PUT /api/chat/sessions/{id}/status
func (c *Client) UpdateStatus(ctx context.Context, sessionID, status string) error {
	if !types.IsValidSessionID(sessionID) {
		return types.ErrInvalidSessionID
	}
	if !types.IsValidDirectoryStatus(status) {
		return fmt.Errorf("%w: %q", types.ErrInvalidStatus, status)
	}
	path := "/api/chat/sessions/" + url.PathEscape(sessionID) + "/status"
	return c.do(ctx, http.MethodPut, path, map[string]string{"status": status}, nil)
}

// do sends one request with a freshly evaluated bearer credential.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	token, err := c.credentials(ctx)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	endpoint.RawPath = ""
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp.StatusCode, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newError(status int, payload []byte) *Error {
	var body ErrorResponse
	message := http.StatusText(status)
	if err := json.Unmarshal(payload, &body); err == nil {
		switch {
		case body.Message != "":
			message = body.Message
		case body.Error != "":
			message = body.Error
		}
	} else if text := strings.TrimSpace(string(payload)); text != "" && len(text) < 256 {
		message = text
	}
	return &Error{StatusCode: status, Message: message}
}

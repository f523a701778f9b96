// Package verifyclient is the application-side half of the verification
// flow: it starts a session, remembers it across the provider redirect and
// polls it once the user comes back.
package verifyclient

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
)

const (
	// ReturnParam and ReturnValue mark a URL as the provider's redirect back.
	ReturnParam = "verification"
	ReturnValue = "return"

	verifyPath     = "/verify"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// TokenSource returns the caller's current bearer credential.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// PollResult is the poll_session response.
type PollResult struct {
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
}

// APIError is a non-2xx answer from the verification endpoint.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("verify: %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("verify: %d %s", e.Status, e.Code)
}

// ErrNoToken is returned when the TokenSource yields an empty credential.
var ErrNoToken = errors.New("verifyclient: no bearer token available")

type Client struct {
	baseURL    string
	tokens     TokenSource
	pending    PendingStore
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPendingStore replaces the in-memory pending store.
func WithPendingStore(s PendingStore) Option {
	return func(c *Client) {
		c.pending = s
	}
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		pending:    NewMemoryPendingStore(),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a verification session for userID and returns the provider URL
// to redirect the browser to. The session id replaces any pending one.
func (c *Client) Start(ctx context.Context, userID, returnURL string) (string, error) {
	var out struct {
		URL       string `json:"url"`
		SessionID string `json:"sessionId"`
	}
	body := map[string]string{"action": "create_session", "userId": userID, "returnUrl": returnURL}
	if err := c.call(ctx, body, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" || out.URL == "" {
		return "", fmt.Errorf("verifyclient: incomplete create_session response")
	}
	c.pending.Set(out.SessionID)
	return out.URL, nil
}

// Resume handles a page load at currentURL. handled is false when the URL is
// not a verification return or nothing is pending. Once a poll is attempted
// the pending id is cleared whatever the outcome.
func (c *Client) Resume(ctx context.Context, currentURL string) (result *PollResult, handled bool, err error) {
	if !IsReturnURL(currentURL) {
		return nil, false, nil
	}
	sessionID, ok := c.pending.Get()
	if !ok {
		return nil, false, nil
	}
	defer c.pending.Clear()

	var out PollResult
	body := map[string]string{"action": "poll_session", "sessionId": sessionID}
	if err := c.call(ctx, body, &out); err != nil {
		return nil, true, err
	}
	return &out, true, nil
}

// IsReturnURL reports whether raw carries the verification return marker.
func IsReturnURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Query().Get(ReturnParam) == ReturnValue
}

func (c *Client) call(ctx context.Context, in any, out any) error {
	token, err := c.tokens(ctx)
	if err != nil {
		return fmt.Errorf("verifyclient: token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("verifyclient: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("verifyclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verifyclient: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("verifyclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("verifyclient: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, payload []byte) *APIError {
	var envelope struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Error != "" {
		apiErr.Code = envelope.Error
		apiErr.Description = envelope.Description
		return apiErr
	}
	apiErr.Code = http.StatusText(status)
	return apiErr
}

// Package provider is the outbound client for the identity provider's
// verification-session API. It owns no trust decisions and never retries.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kinship/internal/verification/metrics"
	"kinship/internal/verification/models"
)

const (
	sessionsPath   = "/v1/identity/verification_sessions"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20

	opCreate = "create_session"
	opGet    = "get_session"
)

// Client talks to the provider over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The caller owns its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout sets the outbound call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a provider client. A hung call is bounded only by the
// HTTP client timeout (10s unless overridden).
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sessionResponse is the provider's verification_session object.
type sessionResponse struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	Status    string            `json:"status"`
	URL       string            `json:"url"`
	Metadata  map[string]string `json:"metadata"`
	LastError *struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"last_error"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a document verification session bound to ownerUserID
// via session metadata.
func (c *Client) CreateSession(ctx context.Context, ownerUserID, returnURL string) (*models.Session, error) {
	form := url.Values{}
	form.Set("type", "document")
	form.Set("metadata["+models.MetadataUserID+"]", ownerUserID)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, unavailable(opCreate, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, opCreate)
	if err != nil {
		return nil, err
	}
	session := toSession(resp)
	if session.ID == "" || session.RedirectURL == "" {
		return nil, unavailable(opCreate, "provider response missing id or url", nil)
	}
	return session, nil
}

// GetSession fetches the current state of a session. The owner comes from
// session metadata.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	endpoint := c.baseURL + sessionsPath + "/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, unavailable(opGet, "build request", err)
	}

	resp, err := c.do(req, opGet)
	if err != nil {
		return nil, err
	}
	session := toSession(resp)
	if session.ID == "" {
		return nil, unavailable(opGet, "provider response missing id", nil)
	}
	return session, nil
}

func (c *Client) do(req *http.Request, op string) (*sessionResponse, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.ObserveProviderCall(op, outcome, time.Since(start).Seconds())
	}()

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "unavailable"
		return nil, unavailable(op, "request failed", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		outcome = "unavailable"
		return nil, unavailable(op, "read response", err)
	}

	parsed, err := parseSessionResponse(op, res.StatusCode, body)
	if err != nil {
		outcome = string(KindOf(err))
		return nil, err
	}
	outcome = "ok"
	return parsed, nil
}

// parseSessionResponse turns a raw provider response into a session or a
// normalized error.
func parseSessionResponse(op string, status int, body []byte) (*sessionResponse, error) {
	if status < 200 || status > 299 {
		var errResp errorResponse
		message := http.StatusText(status)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return nil, rejected(op, status, message)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, unavailable(op, "decode response", err)
	}
	if parsed.Status != "" && !models.SessionStatus(parsed.Status).IsValid() {
		return nil, unavailable(op, fmt.Sprintf("unknown session status %q", parsed.Status), nil)
	}
	return &parsed, nil
}

func toSession(r *sessionResponse) *models.Session {
	s := &models.Session{
		ID:          r.ID,
		Status:      models.SessionStatus(r.Status),
		RedirectURL: r.URL,
	}
	if r.Metadata != nil {
		s.OwnerUserID = r.Metadata[models.MetadataUserID]
	}
	if r.LastError != nil {
		s.LastError = r.LastError.Code
	}
	return s
}

// Package handler exposes the verification service on the single /verify
// endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinship/internal/verification/models"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/platform/httputil"
	"kinship/pkg/requestcontext"
)

// Path is the only route this handler serves.
const Path = "/verify"

const defaultMaxBody = 1 << 20

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the verification orchestrator as seen by the transport.
type Service interface {
	StartVerification(ctx context.Context, credential, targetUserID, returnURL string) (*models.StartResult, error)
	PollSession(ctx context.Context, credential, sessionID string) (*models.PollResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
	maxBody int64
}

// New creates a Handler. maxBody <= 0 selects a 1 MiB limit.
func New(service Service, logger *slog.Logger, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Handler{service: service, logger: logger, maxBody: maxBody}
}

// Register mounts /verify on r for every method; method routing happens in
// ServeHTTP so that non-POST methods get a JSON 405.
func (h *Handler) Register(r chi.Router) {
	r.Handle(Path, h)
}

type createSessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type pollSessionResponse struct {
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Error:            "method_not_allowed",
			ErrorDescription: r.Method + " is not supported on " + Path,
		})
		return
	}

	ctx := r.Context()
	req, err := resolveRequest(w, r, h.maxBody)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	switch req := req.(type) {
	case createSessionRequest:
		h.createSession(ctx, w, req)
	case pollSessionRequest:
		h.pollSession(ctx, w, req)
	case webhookRequest:
		h.webhook(ctx, w, req)
	}
}

func (h *Handler) createSession(ctx context.Context, w http.ResponseWriter, req createSessionRequest) {
	res, err := h.service.StartVerification(ctx, req.Credential, req.UserID, req.ReturnURL)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, createSessionResponse{URL: res.RedirectURL, SessionID: res.SessionID})
}

func (h *Handler) pollSession(ctx context.Context, w http.ResponseWriter, req pollSessionRequest) {
	res, err := h.service.PollSession(ctx, req.Credential, req.SessionID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pollSessionResponse{Status: res.Status, Verified: res.Verified})
}

func (h *Handler) webhook(ctx context.Context, w http.ResponseWriter, req webhookRequest) {
	if err := h.service.HandleWebhook(ctx, req.Payload, req.Signature); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	if httputil.StatusFor(code) >= http.StatusInternalServerError && code != dErrors.CodeProviderUnavailable && code != dErrors.CodeProviderRejected {
		h.logger.ErrorContext(ctx, "verify request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

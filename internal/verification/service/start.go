package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"
	"go.opentelemetry.io/otel/attribute"

	"kinship/internal/verification/models"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/platform/audit"
	"kinship/pkg/requestcontext"
)

// StartVerification opens a provider session for targetUserID and marks the
// profile pending. The caller must be targetUserID. Nothing is written when
// the provider call fails.
func (s *Service) StartVerification(ctx context.Context, credential, targetUserID, returnURL string) (result *models.StartResult, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.StartVerification")
	defer func() {
		if err != nil {
			s.metrics.IncStartFailure(string(dErrors.CodeOf(err)))
		}
		endSpan(span, err)
	}()

	identity, err := s.authorizer.Authorize(ctx, credential)
	if err != nil {
		return nil, err
	}

	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "userId is required")
	}

	if err := s.authorizer.AssertOwnsTarget(ctx, identity, targetUserID); err != nil {
		s.emitAudit(ctx, audit.Event{
			Action: audit.ActionStartDenied,
			UserID: identity.UserID,
			Source: "start",
			Reason: "target user mismatch",
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", targetUserID))

	if err := validateReturnURL(returnURL); err != nil {
		return nil, err
	}

	reservation, err := s.reserveSessionSlot(ctx, targetUserID)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateSession(ctx, targetUserID, returnURL)
	if err != nil {
		s.releaseSessionSlot(ctx, targetUserID, reservation)
		s.logger.WarnContext(ctx, "provider session create failed",
			"user_id", targetUserID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, translateProviderError(err)
	}
	span.SetAttributes(attribute.String("session.id", session.ID))

	pending := models.NewProfileState(targetUserID, models.ProfileStatusPending, requestcontext.Now(ctx)).WithSession(session.ID)
	if err := s.profiles.Set(ctx, pending); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pending verification")
	}

	s.metrics.IncSessionsStarted()
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionSessionStarted,
		UserID:    targetUserID,
		SessionID: session.ID,
		Source:    "start",
	})
	s.logger.InfoContext(ctx, "verification session started",
		"user_id", targetUserID,
		"session_id", session.ID,
		"request_id", requestcontext.RequestID(ctx),
	)

	return &models.StartResult{SessionID: session.ID, RedirectURL: session.RedirectURL}, nil
}

// reserveSessionSlot fails with too_many_requests once the user exhausted
// their session budget. Limiter outages do not block verification.
func (s *Service) reserveSessionSlot(ctx context.Context, userID string) (string, error) {
	if s.limiter == nil {
		return "", nil
	}
	res, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "session limiter unavailable, allowing request",
			"user_id", userID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return "", nil
	}
	if res.Allowed {
		return res.Reservation, nil
	}
	s.emitAudit(ctx, audit.Event{
		Action: audit.ActionSessionRateLimited,
		UserID: userID,
		Source: "start",
	})
	return "", dErrors.New(dErrors.CodeTooManyRequests, "too many verification attempts, try again later")
}

// releaseSessionSlot gives back a slot when the provider opened no session,
// so only successful session creations count against the budget.
func (s *Service) releaseSessionSlot(ctx context.Context, userID, reservation string) {
	if s.limiter == nil || reservation == "" {
		return
	}
	if err := s.limiter.Release(ctx, userID, reservation); err != nil {
		s.logger.WarnContext(ctx, "session limiter release failed",
			"user_id", userID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func validateReturnURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "returnUrl is required")
	}
	if !govalidator.IsRequestURL(raw) {
		return dErrors.New(dErrors.CodeBadRequest, "returnUrl must be an absolute URL")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return dErrors.New(dErrors.CodeBadRequest, "returnUrl must be an http(s) URL")
	}
	return nil
}

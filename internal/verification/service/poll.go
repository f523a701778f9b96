package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"kinship/internal/verification/models"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/requestcontext"
)

// Statuses reported to pollers.
const (
	PollStatusVerified      = "verified"
	PollStatusProcessing    = "processing"
	PollStatusRequiresInput = "requires_input"
	PollStatusFailed        = "failed"
)

// PollSession reports a session's status to its owner. A verified session is
// reconciled into the profile; every other status is report-only. Polling
// never marks a profile failed, that is left to the webhook channel.
func (s *Service) PollSession(ctx context.Context, credential, sessionID string) (result *models.PollResult, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.PollSession")
	defer func() { endSpan(span, err) }()

	identity, err := s.authorizer.Authorize(ctx, credential)
	if err != nil {
		return nil, err
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "sessionId is required")
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	session, err := s.provider.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translateProviderError(err)
	}

	// Ownership comes from provider metadata, never from the request.
	if err := s.authorizer.AssertOwnsTarget(ctx, identity, session.OwnerUserID); err != nil {
		return nil, err
	}

	result = mapSessionStatus(session.Status)
	s.metrics.IncPoll(result.Status)

	if session.Status == models.SessionStatusVerified {
		rec := models.Reconciliation{
			UserID:    session.OwnerUserID,
			SessionID: session.ID,
			Status:    models.ProfileStatusVerified,
			Source:    models.SourcePoll,
			At:        requestcontext.Now(ctx),
		}
		if err := s.reconcile(ctx, rec); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mapSessionStatus(status models.SessionStatus) *models.PollResult {
	switch status {
	case models.SessionStatusVerified:
		return &models.PollResult{Status: PollStatusVerified, Verified: true}
	case models.SessionStatusCanceled:
		return &models.PollResult{Status: PollStatusFailed}
	case models.SessionStatusRequiresInput:
		return &models.PollResult{Status: PollStatusRequiresInput}
	default:
		return &models.PollResult{Status: PollStatusProcessing}
	}
}

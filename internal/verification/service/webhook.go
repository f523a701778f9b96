package service

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"

	"kinship/internal/verification/models"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/requestcontext"
)

// Webhook outcomes, used as metric labels.
const (
	webhookAccepted         = "accepted"
	webhookIgnored          = "ignored"
	webhookInvalidSignature = "invalid_signature"
	webhookMalformed        = "malformed"
)

// HandleWebhook authenticates a provider callback and reconciles it. Event
// types this service does not act on are accepted and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (err error) {
	ctx, span := s.tracer.Start(ctx, "verification.HandleWebhook")
	defer func() { endSpan(span, err) }()

	if !s.verifier.Verify(payload, signatureHeader) {
		s.metrics.IncWebhook(webhookInvalidSignature)
		s.logger.WarnContext(ctx, "webhook signature rejected",
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
		)
		return dErrors.New(dErrors.CodeInvalidSignature, "invalid signature")
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.metrics.IncWebhook(webhookMalformed)
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed webhook payload")
	}
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
	)

	if !event.SessionEvent() {
		s.ignoreWebhook(ctx, event)
		return nil
	}
	session, err := event.Session()
	if err != nil {
		s.metrics.IncWebhook(webhookMalformed)
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed verification session in webhook")
	}

	status, ok := reconcileStatusFor(event.Type, session)
	if !ok {
		s.ignoreWebhook(ctx, event)
		return nil
	}

	rec := models.Reconciliation{
		UserID:    session.OwnerUserID(),
		SessionID: session.ID,
		EventID:   event.ID,
		Status:    status,
		Source:    models.SourceWebhook,
		At:        requestcontext.Now(ctx),
	}
	if err := s.reconcile(ctx, rec); err != nil {
		return err
	}
	s.metrics.IncWebhook(webhookAccepted)
	return nil
}

func (s *Service) ignoreWebhook(ctx context.Context, event models.WebhookEvent) {
	s.metrics.IncWebhook(webhookIgnored)
	s.logger.DebugContext(ctx, "webhook ignored",
		"event_id", event.ID,
		"event_type", event.Type,
		"request_id", requestcontext.RequestID(ctx),
	)
}

// reconcileStatusFor picks the profile status a session event drives, if any.
// Sessions without an owner in metadata drive nothing.
func reconcileStatusFor(eventType string, session models.WebhookSession) (models.ProfileStatus, bool) {
	if session.OwnerUserID() == "" {
		return "", false
	}
	switch eventType {
	case models.EventSessionVerified:
		return models.ProfileStatusVerified, true
	case models.EventSessionCanceled, models.EventSessionRequiresInput:
		if session.HasLastError() {
			return models.ProfileStatusFailed, true
		}
	}
	return "", false
}

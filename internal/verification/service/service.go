// Package service drives verification sessions: it opens them with the
// provider, reports their status to their owner, and reconciles provider
// outcomes into the profile store.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kinship/internal/verification/metrics"
	"kinship/internal/verification/provider"
	"kinship/internal/verification/store/eventdedup"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/platform/audit"
)

const tracerName = "kinship/internal/verification/service"

// Service orchestrates verification sessions and profile reconciliation.
type Service struct {
	provider   ProviderClient
	profiles   ProfileStore
	authorizer Authorizer
	verifier   WebhookVerifier

	dedup    EventDedup
	notifier Notifier
	limiter  SessionLimiter
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// WithEventDedup replaces the default process-local dedup store.
func WithEventDedup(d EventDedup) Option {
	return func(s *Service) {
		s.dedup = d
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithSessionLimiter(l SessionLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service. The four collaborators are required.
func New(p ProviderClient, profiles ProfileStore, authorizer Authorizer, verifier WebhookVerifier, opts ...Option) *Service {
	s := &Service{
		provider:   p,
		profiles:   profiles,
		authorizer: authorizer,
		verifier:   verifier,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.dedup == nil {
		s.dedup = eventdedup.NewInMemory(eventdedup.DefaultTTL)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// translateProviderError maps provider failures onto domain codes. Rejection
// messages come from the provider and are passed through unchanged.
func translateProviderError(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case provider.KindNotFound:
			return dErrors.Wrap(err, dErrors.CodeNotFound, "verification session not found")
		case provider.KindRejected:
			msg := pe.Message
			if msg == "" {
				msg = "identity provider rejected the request"
			}
			return dErrors.Wrap(err, dErrors.CodeProviderRejected, msg)
		}
	}
	return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "identity provider unavailable, retry later")
}

// endSpan records err on span and closes it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	// Audit is fail-open; the publisher logs its own failures.
	_ = s.auditor.Emit(ctx, event)
}

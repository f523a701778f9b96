package service

import (
	"context"

	"kinship/internal/verification/models"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/platform/audit"
	"kinship/pkg/requestcontext"
)

// reconcile writes rec's status as one set and then runs side effects once
// per dedup key. Repeating a reconciliation rewrites the same state and
// skips the side effects.
func (s *Service) reconcile(ctx context.Context, rec models.Reconciliation) error {
	state := models.NewProfileState(rec.UserID, rec.Status, rec.At).WithSession(rec.SessionID)

	switch rec.Status {
	case models.ProfileStatusFailed:
		// A failure only lands on the session the profile tracks, and
		// verified is terminal.
		written, err := s.profiles.SetForSession(ctx, state, models.ProfileStatusVerified)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reconcile verification")
		}
		if !written {
			s.logger.InfoContext(ctx, "failure signal ignored for stale session or verified profile",
				"user_id", rec.UserID,
				"session_id", rec.SessionID,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil
		}
	default:
		if err := s.profiles.Set(ctx, state); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reconcile verification")
		}
	}
	s.metrics.IncReconciliation(string(rec.Source), string(rec.Status))

	first, err := s.dedup.Claim(ctx, rec.DedupKey())
	if err != nil {
		// Prefer a duplicate notification over a lost one.
		s.logger.WarnContext(ctx, "event dedup unavailable, running side effects",
			"user_id", rec.UserID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		first = true
	}
	if !first {
		s.metrics.IncDuplicateEffect()
		return nil
	}

	s.runSideEffects(ctx, rec)
	return nil
}

func (s *Service) runSideEffects(ctx context.Context, rec models.Reconciliation) {
	action := audit.ActionProfileVerified
	if rec.Status == models.ProfileStatusFailed {
		action = audit.ActionProfileFailed
	}
	s.emitAudit(ctx, audit.Event{
		Action:    action,
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Source:    string(rec.Source),
		Reason:    rec.EventID,
	})

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "verification notification failed",
				"user_id", rec.UserID,
				"status", rec.Status,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}

	s.logger.InfoContext(ctx, "profile verification reconciled",
		"user_id", rec.UserID,
		"session_id", rec.SessionID,
		"status", rec.Status,
		"source", rec.Source,
		"request_id", requestcontext.RequestID(ctx),
	)
}

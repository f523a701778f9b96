package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"kinship/pkg/requestcontext"
)

// Publisher fills request-scoped fields and appends events to a Store.
// Audit is fail-open: a store error is logged and returned, and callers
// decide whether it matters.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// NewPublisher builds a Publisher. A nil logger discards failure logs.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{store: store, logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Action == "" {
		return errors.New("audit event requires Action")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"user_id", event.UserID,
			"error", err,
			"request_id", event.RequestID,
		)
		return err
	}
	return nil
}

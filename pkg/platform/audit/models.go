// Package audit records verification actions for later review.
package audit

import (
	"context"
	"time"
)

// Action names a recorded verification step.
type Action string

const (
	ActionSessionStarted     Action = "verification_session_started"
	ActionStartDenied        Action = "verification_start_denied"
	ActionProfileVerified    Action = "verification_profile_verified"
	ActionProfileFailed      Action = "verification_profile_failed"
	ActionSessionRateLimited Action = "verification_session_rate_limited"
)

// Event is emitted from the verification service. Keep it transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	ID        string
	Action    Action
	UserID    string
	SessionID string
	// Source is "webhook", "poll" or "start".
	Source    string
	Reason    string
	RequestID string
	ClientIP  string
	Timestamp time.Time
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}

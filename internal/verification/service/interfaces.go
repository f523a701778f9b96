package service

import (
	"context"

	"kinship/internal/verification/authz"
	"kinship/internal/verification/models"
	"kinship/internal/verification/store/sessionlimit"
	"kinship/pkg/platform/audit"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

// ProviderClient opens and reads provider verification sessions.
type ProviderClient interface {
	CreateSession(ctx context.Context, ownerUserID, returnURL string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// ProfileStore is the single source of truth for per-user verification state.
// Every write replaces status and verified flag together.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.ProfileState, error)
	Set(ctx context.Context, state models.ProfileState) error
	// SetForSession writes state only while the stored record tracks
	// state.SessionID and its status is not keep. It reports whether the
	// write happened.
	SetForSession(ctx context.Context, state models.ProfileState, keep models.ProfileStatus) (bool, error)
}

// Authorizer authenticates API callers and enforces self-only access.
type Authorizer interface {
	Authorize(ctx context.Context, credential string) (authz.Identity, error)
	AssertOwnsTarget(ctx context.Context, identity authz.Identity, targetUserID string) error
}

// WebhookVerifier authenticates provider callbacks.
type WebhookVerifier interface {
	Verify(payload []byte, header string) bool
}

// EventDedup reports true the first time a reconciliation key is claimed.
type EventDedup interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Notifier fans a terminal profile change out to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, rec models.Reconciliation) error
}

// SessionLimiter bounds how many provider sessions one user opens. Allow
// reserves a slot; Release hands it back when no session was opened.
type SessionLimiter interface {
	Allow(ctx context.Context, key string) (*sessionlimit.Result, error)
	Release(ctx context.Context, key, reservation string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

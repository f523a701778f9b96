// Package authz decides whether an API caller may act on a verification
// identity. The rule is self-only: there is no delegated or admin path.
// Webhook processing never reaches this package; its trust is rooted in the
// provider signature.
package authz

import (
	"context"
	"log/slog"
	"strings"

	jwttoken "kinship/internal/jwt_token"
	dErrors "kinship/pkg/domain-errors"
	"kinship/pkg/requestcontext"
)

// ReasonInvalidOrExpired is the AuthError reason for any rejected credential.
const ReasonInvalidOrExpired = "invalid_or_expired"

// Identity is an authenticated application user.
type Identity struct {
	UserID string
}

// IdentityPlatform validates bearer credentials issued by the external
// identity platform.
type IdentityPlatform interface {
	Validate(ctx context.Context, credential string) (Identity, error)
}

// Authorizer enforces authentication and the self-only ownership rule.
type Authorizer struct {
	platform IdentityPlatform
	logger   *slog.Logger
}

// New creates an Authorizer backed by platform.
func New(platform IdentityPlatform, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{platform: platform, logger: logger}
}

// Authorize resolves a bearer credential to an identity. Every failure is
// reported as unauthorized "invalid_or_expired" so callers learn nothing
// about why a token was refused.
func (a *Authorizer) Authorize(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, dErrors.New(dErrors.CodeUnauthorized, ReasonInvalidOrExpired)
	}
	identity, err := a.platform.Validate(ctx, credential)
	if err != nil {
		a.logger.WarnContext(ctx, "credential rejected",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return Identity{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, ReasonInvalidOrExpired)
	}
	if identity.UserID == "" {
		return Identity{}, dErrors.New(dErrors.CodeUnauthorized, ReasonInvalidOrExpired)
	}
	return identity, nil
}

// AssertOwnsTarget fails with forbidden unless identity is exactly target.
func (a *Authorizer) AssertOwnsTarget(ctx context.Context, identity Identity, targetUserID string) error {
	if identity.UserID == "" || identity.UserID != targetUserID {
		a.logger.WarnContext(ctx, "ownership check failed",
			"user_id", identity.UserID,
			"target_user_id", targetUserID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	return nil
}

// JWTPlatform validates HS256 tokens shared with the identity platform.
type JWTPlatform struct {
	tokens *jwttoken.JWTService
}

// NewJWTPlatform adapts a JWT service to IdentityPlatform.
func NewJWTPlatform(tokens *jwttoken.JWTService) *JWTPlatform {
	return &JWTPlatform{tokens: tokens}
}

func (p *JWTPlatform) Validate(_ context.Context, credential string) (Identity, error) {
	claims, err := p.tokens.ValidateToken(credential)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.SubjectID()}, nil
}

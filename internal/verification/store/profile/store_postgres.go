package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kinship/internal/verification/models"
	"kinship/pkg/platform/sentinel"
)

// PostgresStore persists profile state in the profile_verification table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.ProfileState, error) {
	var p models.ProfileState
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, verification_status, verified, session_id, updated_at
		FROM profile_verification
		WHERE user_id = $1`, userID).Scan(&p.UserID, &status, &p.Verified, &p.SessionID, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.VerificationStatus = models.ProfileStatus(status)
	return &p, nil
}

// Set upserts status, verified flag and tracked session in one statement.
func (s *PostgresStore) Set(ctx context.Context, state models.ProfileState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_verification (user_id, verification_status, verified, session_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			verification_status = EXCLUDED.verification_status,
			verified = EXCLUDED.verified,
			session_id = EXCLUDED.session_id,
			updated_at = EXCLUDED.updated_at`,
		state.UserID, string(state.VerificationStatus), state.Verified, state.SessionID, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

// SetForSession updates the row only while it tracks state.SessionID and
// does not hold status keep. A user without a row is left untouched.
func (s *PostgresStore) SetForSession(ctx context.Context, state models.ProfileState, keep models.ProfileStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profile_verification SET
			verification_status = $2,
			verified = $3,
			updated_at = $4
		WHERE user_id = $1
			AND session_id = $5
			AND verification_status <> $6`,
		state.UserID, string(state.VerificationStatus), state.Verified, state.UpdatedAt, state.SessionID, string(keep))
	if err != nil {
		return false, fmt.Errorf("session-scoped set profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session-scoped set profile: %w", err)
	}
	return n > 0, nil
}

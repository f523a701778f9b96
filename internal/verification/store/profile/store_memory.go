// Package profile persists per-user verification state.
package profile

import (
	"context"
	"sync"

	"kinship/internal/verification/models"
	"kinship/pkg/platform/sentinel"
)

// InMemory is a process-local profile store. Every write replaces the whole
// record under the lock, so status and verified flag change together.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]models.ProfileState
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[string]models.ProfileState)}
}

// Get returns sentinel.ErrNotFound when the user has no record.
func (s *InMemory) Get(_ context.Context, userID string) (*models.ProfileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) Set(_ context.Context, state models.ProfileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[state.UserID] = state
	return nil
}

// SetForSession writes state only when the stored record tracks
// state.SessionID and its status is not keep.
func (s *InMemory) SetForSession(_ context.Context, state models.ProfileState, keep models.ProfileStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.profiles[state.UserID]
	if !ok || cur.SessionID != state.SessionID || cur.VerificationStatus == keep {
		return false, nil
	}
	s.profiles[state.UserID] = state
	return true, nil
}

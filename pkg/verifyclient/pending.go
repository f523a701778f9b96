package verifyclient

import "sync"

// PendingStore holds at most one pending session id between Start and the
// redirect back to the application.
type PendingStore interface {
	Get() (string, bool)
	Set(sessionID string)
	Clear()
}

// MemoryPendingStore keeps the pending id in process memory.
type MemoryPendingStore struct {
	mu sync.Mutex
	id string
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{}
}

func (s *MemoryPendingStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != ""
}

func (s *MemoryPendingStore) Set(sessionID string) {
	s.mu.Lock()
	s.id = sessionID
	s.mu.Unlock()
}

func (s *MemoryPendingStore) Clear() {
	s.Set("")
}

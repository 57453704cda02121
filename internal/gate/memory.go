package gate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps gate state in process memory. Lifetime is the process
// lifetime; the on-chain directory remains the source of truth for name
// uniqueness after a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	processed map[string]struct{}
	lastSeen  map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processed: make(map[string]struct{}),
		lastSeen:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) IsProcessed(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[name]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[name] = struct{}{}
	return nil
}

func (s *MemoryStore) LastAttempt(_ context.Context, caller string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastSeen[caller]
	return t, ok, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, caller string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[caller] = t
	return nil
}

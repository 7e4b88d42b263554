package policy

import (
	"context"
	"sync"
)

// memoryStore is a mutex-guarded slice store, grounded on the teacher's own
// small in-process stores (e.g. auth roles) rather than a database.
type memoryStore struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewMemoryStore builds a Store backed by a process-local map.
func NewMemoryStore() Store {
	return &memoryStore{policies: make(map[string]Policy)}
}

func (s *memoryStore) List(ctx context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

func (s *memoryStore) Put(ctx context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, used by default and in tests. It is
// not durable across restarts; deployments that need a durable audit trail
// use the Postgres-backed postgres.Store instead.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// ListByResource implements Store.
func (s *MemoryStore) ListByResource(_ context.Context, resourceType, resourceID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListRecent implements Store.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

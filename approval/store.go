package approval

import (
	"context"
	"sync"
	"time"

	"github.com/sagexd08/autofi-core/domain/approval"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
)

// MemoryStore is a process-local Store used for tests and local development.
type MemoryStore struct {
	mu  sync.Mutex
	byID map[string]*approval.Approval
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*approval.Approval)}
}

func (s *MemoryStore) Create(ctx context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.byID[a.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, errors.MissingField("approval_id")
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.TransactionID == transactionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, errors.MissingField("transaction_id")
}

func (s *MemoryStore) Update(ctx context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; !ok {
		return errors.MissingField("approval_id")
	}
	cp := *a
	s.byID[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, olderThan time.Time) ([]*approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*approval.Approval
	for _, a := range s.byID {
		if a.Status == approval.StatusPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

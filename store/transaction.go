// Package store defines the persistence boundaries for Transaction and
// Plan records, plus in-memory reference implementations used for tests
// and local development.
package store

import (
	"context"
	"sync"

	"github.com/sagexd08/autofi-core/domain/transaction"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
)

// TransactionStore persists Transaction records.
type TransactionStore interface {
	Create(ctx context.Context, tx *transaction.Transaction) error
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	Update(ctx context.Context, tx *transaction.Transaction) error
	ListByPlan(ctx context.Context, planID string) ([]*transaction.Transaction, error)
	ListByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error)
}

// MemoryTransactionStore is a process-local TransactionStore.
type MemoryTransactionStore struct {
	mu   sync.Mutex
	byID map[string]*transaction.Transaction
}

// NewMemoryTransactionStore builds an empty MemoryTransactionStore.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{byID: make(map[string]*transaction.Transaction)}
}

func (s *MemoryTransactionStore) Create(ctx context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.byID[tx.ID] = &cp
	return nil
}

func (s *MemoryTransactionStore) Get(ctx context.Context, id string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, errors.MissingField("transaction_id")
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryTransactionStore) Update(ctx context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.ID]; !ok {
		return errors.MissingField("transaction_id")
	}
	cp := *tx
	s.byID[tx.ID] = &cp
	return nil
}

func (s *MemoryTransactionStore) ListByPlan(ctx context.Context, planID string) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range s.byID {
		if tx.PlanID == planID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryTransactionStore) ListByStatus(ctx context.Context, status transaction.Status) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range s.byID {
		if tx.Status == status {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

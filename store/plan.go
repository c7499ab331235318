package store

import (
	"context"
	"sync"

	"github.com/sagexd08/autofi-core/domain/plan"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
)

// PlanStore persists Plan records.
type PlanStore interface {
	Create(ctx context.Context, p *plan.Plan) error
	Get(ctx context.Context, id string) (*plan.Plan, error)
	Update(ctx context.Context, p *plan.Plan) error
}

// MemoryPlanStore is a process-local PlanStore.
type MemoryPlanStore struct {
	mu   sync.Mutex
	byID map[string]*plan.Plan
}

// NewMemoryPlanStore builds an empty MemoryPlanStore.
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{byID: make(map[string]*plan.Plan)}
}

func (s *MemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *MemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, errors.MissingField("plan_id")
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return errors.MissingField("plan_id")
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

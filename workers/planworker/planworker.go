// Package planworker schedules a Plan's DAG of steps onto the
// "transaction" queue as each step's dependencies clear (spec.md §4.6).
package planworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainapproval "github.com/sagexd08/autofi-core/domain/approval"
	domainevent "github.com/sagexd08/autofi-core/domain/event"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/plan"
	"github.com/sagexd08/autofi-core/domain/transaction"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
)

// PlanStore is the subset of store.PlanStore the worker needs.
type PlanStore interface {
	Get(ctx context.Context, id string) (*plan.Plan, error)
	Update(ctx context.Context, p *plan.Plan) error
}

// TransactionStore is the subset of store.TransactionStore the worker needs.
type TransactionStore interface {
	Create(ctx context.Context, tx *transaction.Transaction) error
}

// Enqueuer admits a job onto a named queue; satisfied by
// *coordinator.Coordinator.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload []byte, opts domainjob.EnqueueOptions) (*domainjob.Job, error)
}

// ApprovalGate is the subset of *approval.Machine the worker needs to gate
// a risk-scored step's transaction behind an approval request before it is
// ever enqueued onto the "transaction" queue (spec §4.4/§4.6, scenarios
// S2-S4). Satisfied by *approval.Machine.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, tx *transaction.Transaction, requestedBy string) (*domainapproval.Approval, bool, error)
}

// Worker advances one Plan's DAG by one scheduling round per call.
type Worker struct {
	plans        PlanStore
	transactions TransactionStore
	approvals    ApprovalGate
	enqueuer     Enqueuer
	bus          *eventbus.Bus
	logger       *logging.Logger
}

// New builds a Worker. bus/logger may be nil.
func New(plans PlanStore, transactions TransactionStore, approvals ApprovalGate, enqueuer Enqueuer, bus *eventbus.Bus, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{plans: plans, transactions: transactions, approvals: approvals, enqueuer: enqueuer, bus: bus, logger: logger}
}

// Payload is the job body enqueued onto the "plan" queue.
type Payload struct {
	PlanID string `json:"plan_id"`
}

// Process implements coordinator.Processor for the "plan" queue.
func (w *Worker) Process(ctx context.Context, j *domainjob.Job) error {
	var p Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return errors.MissingField("plan_id")
	}
	return w.Advance(ctx, p.PlanID)
}

// Advance validates p's DAG (once) then creates+enqueues a Transaction job
// for every step whose dependencies have all confirmed and which hasn't
// been submitted yet. It is safe to call repeatedly for the same plan id
// as steps progress: already-eligible steps that were already marked
// StepEligible are skipped.
func (w *Worker) Advance(ctx context.Context, planID string) error {
	p, err := w.plans.Get(ctx, planID)
	if err != nil {
		return errors.StorageError("get plan", err)
	}

	if err := p.ValidateDAG(); err != nil {
		return errors.InvalidPlanGraph(err.Error())
	}

	eligible := p.EligibleSteps()
	if len(eligible) == 0 {
		if allTerminal(p) {
			w.publishPlan(ctx, domainevent.PlanCompleted, p)
		}
		return nil
	}

	for _, step := range eligible {
		txID := fmt.Sprintf("%s-%s", p.ID, step.ID)
		tx := &transaction.Transaction{
			ID:         txID,
			ChainID:    step.ChainID,
			UserID:     p.UserID,
			AgentID:    p.AgentID,
			PlanID:     p.ID,
			PlanStepID: step.ID,
			RiskScore:  step.RiskScore,
			Status:     transaction.StatusQueued,
		}

		requiresApproval := false
		if w.approvals != nil {
			_, required, err := w.approvals.RequestApproval(ctx, tx, p.AgentID)
			if err != nil {
				return err
			}
			requiresApproval = required
		}
		if requiresApproval {
			tx.Status = transaction.StatusAwaitingApproval
		}

		if err := w.transactions.Create(ctx, tx); err != nil {
			return errors.StorageError("create step transaction", err)
		}

		if requiresApproval {
			setStepStatus(p, step.ID, plan.StepEligible, txID)
			w.logger.LogPlanStep(ctx, p.ID, step.ID, string(plan.StepEligible))
			continue
		}

		payload, err := json.Marshal(struct {
			TransactionID string `json:"transaction_id"`
		}{TransactionID: txID})
		if err != nil {
			return errors.Internal("marshal transaction job payload", err)
		}

		if _, err := w.enqueuer.Enqueue(ctx, "transaction", payload, domainjob.EnqueueOptions{
			JobID:       txID,
			MaxAttempts: 5,
			Backoff:     domainjob.BackoffPolicy{Kind: domainjob.BackoffExponential, BaseWait: 2 * time.Second},
		}); err != nil {
			return errors.StorageError("enqueue step transaction", err)
		}

		setStepStatus(p, step.ID, plan.StepEligible, txID)
		w.logger.LogPlanStep(ctx, p.ID, step.ID, string(plan.StepEligible))
	}

	if err := w.plans.Update(ctx, p); err != nil {
		return errors.StorageError("update plan", err)
	}
	return nil
}

func allTerminal(p *plan.Plan) bool {
	for _, s := range p.Steps {
		if s.Status != plan.StepConfirmed && s.Status != plan.StepFailed {
			return false
		}
	}
	return true
}

func setStepStatus(p *plan.Plan, stepID string, status plan.StepStatus, txID string) {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			p.Steps[i].Status = status
			p.Steps[i].TransactionID = txID
			return
		}
	}
}

func (w *Worker) publishPlan(ctx context.Context, t domainevent.Type, p *plan.Plan) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(ctx, domainevent.New(t, map[string]any{
		"plan_id": p.ID,
	}))
}

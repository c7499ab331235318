// Package approval implements the Approval State Machine: the gate a
// risk-scored Transaction must clear before the Transaction Broadcast
// Worker will submit it (spec.md §4.4).
package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sagexd08/autofi-core/domain/approval"
	"github.com/sagexd08/autofi-core/domain/event"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/transaction"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/audit"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
	"github.com/sagexd08/autofi-core/infrastructure/metrics"
)

// Store is the persistence boundary the state machine drives. A single
// Approval record is the unit of storage; TransactionID indexes it.
type Store interface {
	Create(ctx context.Context, a *approval.Approval) error
	Get(ctx context.Context, id string) (*approval.Approval, error)
	GetByTransaction(ctx context.Context, transactionID string) (*approval.Approval, error)
	Update(ctx context.Context, a *approval.Approval) error
	ListPending(ctx context.Context, olderThan time.Time) ([]*approval.Approval, error)
}

// TransactionStore is the subset of store.TransactionStore the machine
// needs to move a resolved approval's linked transaction to its next
// status (spec §4.4 "Resolve paths"). Satisfied by store.TransactionStore.
type TransactionStore interface {
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	Update(ctx context.Context, tx *transaction.Transaction) error
}

// Enqueuer admits a job onto a named queue; satisfied by
// *coordinator.Coordinator.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload []byte, opts domainjob.EnqueueOptions) (*domainjob.Job, error)
}

// Now is overridable in tests.
var Now = time.Now

// Machine drives Approval lifecycle transitions, gated by a RiskBand policy.
type Machine struct {
	store        Store
	band         transaction.RiskBand
	bus          *eventbus.Bus
	logger       *logging.Logger
	metric       *metrics.Metrics
	audit        audit.Store
	transactions TransactionStore
	enqueuer     Enqueuer
}

// New builds a Machine. bus, metric, transactions and enqueuer may all be
// nil: transactions/enqueuer nil means resolve() only updates the Approval
// record itself (useful in tests that don't exercise the linked
// transaction); cmd/autofi-core wires both so that resolving an approval in
// the running system actually unblocks or terminates its transaction.
// auditStore may be nil, in which case an in-memory audit.MemoryStore is
// used so AuditTrail lookups never panic even when the caller hasn't wired
// a durable store.
func New(store Store, band transaction.RiskBand, bus *eventbus.Bus, logger *logging.Logger, metric *metrics.Metrics, auditStore audit.Store, transactions TransactionStore, enqueuer Enqueuer) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	if auditStore == nil {
		auditStore = audit.NewMemoryStore()
	}
	return &Machine{
		store:        store,
		band:         band,
		bus:          bus,
		logger:       logger,
		metric:       metric,
		audit:        auditStore,
		transactions: transactions,
		enqueuer:     enqueuer,
	}
}

// RequestApproval creates a PENDING Approval for a transaction whose risk
// score requires one, or returns (nil, false) if the score is below the
// band's approval threshold (spec invariant §8.5). A score above the band's
// hard ceiling is rejected outright via errors.RiskBlocked (spec §4.4 step
// "blocked").
func (m *Machine) RequestApproval(ctx context.Context, tx *transaction.Transaction, requestedBy string) (*approval.Approval, bool, error) {
	if m.band.Blocked(tx.RiskScore) {
		return nil, false, errors.RiskBlocked(tx.RiskScore, m.band.MaxRiskScore)
	}
	if !m.band.RequiresApproval(tx.RiskScore) {
		return nil, false, nil
	}

	level := m.band.Level(tx.RiskScore)
	now := Now()

	a := &approval.Approval{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		RiskScore:     tx.RiskScore,
		RiskLevel:     level,
		Priority:      transaction.PriorityForLevel(level),
		Status:        approval.StatusPending,
		RequestedAt:   now,
		ExpiresAt:     now.Add(approval.DefaultExpiry),
		RequestedBy:   requestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.store.Create(ctx, a); err != nil {
		return nil, false, errors.StorageError("create approval", err)
	}

	m.logger.LogApprovalTransition(ctx, a.ID, tx.ID, "", string(approval.StatusPending), tx.RiskScore)
	if m.metric != nil {
		m.metric.RecordApprovalCreated("approval", string(level))
	}
	m.recordAudit(ctx, a, "request", requestedBy, "", string(approval.StatusPending))
	m.publish(ctx, event.ApprovalCreated, a)

	return a, true, nil
}

// Approve resolves a PENDING approval as APPROVED. Returns
// errors.ApprovalNotPending if the approval has already left PENDING
// (spec invariant §8.2: resolved approvals never regress).
func (m *Machine) Approve(ctx context.Context, id, resolvedBy, note string) (*approval.Approval, error) {
	return m.resolve(ctx, id, approval.StatusApproved, resolvedBy, note)
}

// Reject resolves a PENDING approval as REJECTED.
func (m *Machine) Reject(ctx context.Context, id, resolvedBy, reason string) (*approval.Approval, error) {
	return m.resolve(ctx, id, approval.StatusRejected, resolvedBy, reason)
}

// Cancel resolves a PENDING approval as CANCELLED, used when the underlying
// transaction is cancelled while its approval is still outstanding.
func (m *Machine) Cancel(ctx context.Context, id, resolvedBy, reason string) (*approval.Approval, error) {
	return m.resolve(ctx, id, approval.StatusCancelled, resolvedBy, reason)
}

func (m *Machine) resolve(ctx context.Context, id string, to approval.Status, resolvedBy, note string) (*approval.Approval, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, errors.StorageError("get approval", err)
	}
	if a.Status.Resolved() {
		return nil, errors.ApprovalNotPending(string(a.Status))
	}

	from := a.Status
	now := Now()
	a.Status = to
	a.ResolvedAt = now
	a.ResolvedBy = resolvedBy
	a.ResolutionText = note
	a.UpdatedAt = now

	if err := m.store.Update(ctx, a); err != nil {
		return nil, errors.StorageError("update approval", err)
	}

	m.logger.LogApprovalTransition(ctx, a.ID, a.TransactionID, string(from), string(to), a.RiskScore)
	if m.metric != nil {
		m.metric.RecordApprovalResolved("approval", string(to))
	}
	m.recordAudit(ctx, a, "resolve", resolvedBy, string(from), string(to))
	m.publish(ctx, eventTypeForResolution(to), a)

	if err := m.syncTransaction(ctx, a, to, note); err != nil {
		return a, err
	}

	return a, nil
}

// syncTransaction applies the resolve-path transition spec §4.4 requires on
// an approval's linked transaction: APPROVE moves it to QUEUED and enqueues
// the broadcast job; REJECT/CANCEL move it to REJECTED/CANCELLED. EXPIRED is
// intentionally a no-op: the transaction stays AWAITING_APPROVAL pending
// reconciliation (spec scenario S4) rather than being auto-failed.
func (m *Machine) syncTransaction(ctx context.Context, a *approval.Approval, to approval.Status, note string) error {
	if m.transactions == nil || to == approval.StatusExpired {
		return nil
	}

	tx, err := m.transactions.Get(ctx, a.TransactionID)
	if err != nil {
		return errors.StorageError("get linked transaction", err)
	}
	if tx.Status.Terminal() {
		return nil
	}

	switch to {
	case approval.StatusApproved:
		tx.Status = transaction.StatusQueued
	case approval.StatusRejected:
		tx.Status = transaction.StatusRejected
		tx.WithMemo("Rejected: " + note)
	case approval.StatusCancelled:
		tx.Status = transaction.StatusCancelled
		tx.WithMemo("Cancelled: " + note)
	default:
		return nil
	}

	if err := m.transactions.Update(ctx, tx); err != nil {
		return errors.StorageError("update linked transaction", err)
	}

	switch to {
	case approval.StatusApproved:
		m.publishTransaction(ctx, event.TransactionPending, tx)
		if m.enqueuer == nil {
			return nil
		}
		payload, err := json.Marshal(struct {
			TransactionID string `json:"transaction_id"`
		}{TransactionID: tx.ID})
		if err != nil {
			return errors.Internal("marshal transaction job payload", err)
		}
		if _, err := m.enqueuer.Enqueue(ctx, "transaction", payload, domainjob.EnqueueOptions{
			JobID:       tx.ID,
			MaxAttempts: 5,
			Backoff:     domainjob.BackoffPolicy{Kind: domainjob.BackoffExponential, BaseWait: 2 * time.Second},
		}); err != nil {
			return errors.StorageError("enqueue approved transaction", err)
		}
	case approval.StatusRejected, approval.StatusCancelled:
		m.publishTransaction(ctx, event.TransactionFailed, tx)
	}

	return nil
}

func (m *Machine) publishTransaction(ctx context.Context, t event.Type, tx *transaction.Transaction) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, event.New(t, map[string]any{
		"transaction_id": tx.ID,
		"chain_id":       tx.ChainID,
		"status":         string(tx.Status),
	}))
}

// AuditTrail returns the append-only audit history for one approval id,
// oldest first. The log itself lives in the audit store (Store is a
// separate persistence boundary for the Approval record), so this is a
// convenience accessor joining the two.
func (m *Machine) AuditTrail(ctx context.Context, approvalID string) ([]audit.Entry, error) {
	entries, err := m.audit.ListByResource(ctx, "approval", approvalID)
	if err != nil {
		return nil, errors.StorageError("list approval audit trail", err)
	}
	return entries, nil
}

func (m *Machine) recordAudit(ctx context.Context, a *approval.Approval, action, actor, from, to string) {
	err := m.audit.Append(ctx, audit.Entry{
		ResourceType: "approval",
		ResourceID:   a.ID,
		Action:       action,
		Actor:        actor,
		FromState:    from,
		ToState:      to,
		Metadata:     map[string]string{"transaction_id": a.TransactionID},
	})
	if err != nil {
		m.logger.Error(ctx, "failed to append approval audit entry", err, map[string]interface{}{"approval_id": a.ID})
	}
}

func eventTypeForResolution(status approval.Status) event.Type {
	switch status {
	case approval.StatusApproved:
		return event.ApprovalApproved
	case approval.StatusRejected:
		return event.ApprovalRejected
	case approval.StatusExpired:
		return event.ApprovalExpired
	default:
		return event.ApprovalRejected
	}
}

// SweepExpired resolves every PENDING approval whose ExpiresAt has elapsed
// as EXPIRED. Idempotent: an approval already resolved by a concurrent
// Approve/Reject call before the sweep reaches it is simply skipped, not
// double-resolved (spec invariant §8.2).
func (m *Machine) SweepExpired(ctx context.Context) (int, error) {
	now := Now()
	pending, err := m.store.ListPending(ctx, now)
	if err != nil {
		return 0, errors.StorageError("list pending approvals", err)
	}

	expired := 0
	for _, a := range pending {
		if a.ExpiresAt.After(now) {
			continue
		}
		if _, err := m.resolve(ctx, a.ID, approval.StatusExpired, "system", approval.AutoExpiredResolution); err != nil {
			if ae, ok := errors.As(err); ok && ae.Code == errors.CodeApprovalNotPending {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (m *Machine) publish(ctx context.Context, t event.Type, a *approval.Approval) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, event.New(t, map[string]any{
		"approval_id":    a.ID,
		"transaction_id": a.TransactionID,
		"risk_score":     a.RiskScore,
		"risk_level":     string(a.RiskLevel),
		"status":         string(a.Status),
	}))
}

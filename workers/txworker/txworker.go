// Package txworker implements the Transaction Broadcast Worker: the
// validate -> simulate -> estimate -> build&sign -> broadcast -> confirm
// pipeline a leased "transaction" job drives (spec.md §4.5).
package txworker

import (
	"context"
	"encoding/json"
	errorsStd "errors"
	"sync"
	"time"

	"github.com/sagexd08/autofi-core/domain/chain"
	"github.com/sagexd08/autofi-core/domain/event"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/transaction"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/chainadapter"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
	"github.com/sagexd08/autofi-core/infrastructure/metrics"
	"github.com/sagexd08/autofi-core/infrastructure/ratelimit"
	"github.com/sagexd08/autofi-core/infrastructure/resilience"
)

// chainBroadcastWindow/chainBroadcastLimit bound how many broadcasts a
// single chain accepts per window, protecting a shared RPC endpoint from
// being flooded by a burst of eligible jobs across many worker goroutines.
const (
	chainBroadcastWindow = 10 * time.Second
	chainBroadcastLimit  = 50
)

// Store is the subset of store.TransactionStore the worker needs.
type Store interface {
	Get(ctx context.Context, id string) (*transaction.Transaction, error)
	Update(ctx context.Context, tx *transaction.Transaction) error
}

// Worker drives one Transaction through its broadcast pipeline.
type Worker struct {
	store    Store
	registry chain.Registry
	bus      *eventbus.Bus
	logger   *logging.Logger
	metric   *metrics.Metrics
	retry    resilience.RetryConfig

	chainLimitMu sync.Mutex
	chainLimits  map[int64]*ratelimit.SlidingWindow
}

// New builds a Worker. bus/logger/metric may be nil.
func New(store Store, registry chain.Registry, bus *eventbus.Bus, logger *logging.Logger, metric *metrics.Metrics) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:       store,
		registry:    registry,
		bus:         bus,
		logger:      logger,
		metric:      metric,
		retry:       resilience.DefaultRetryConfig(),
		chainLimits: make(map[int64]*ratelimit.SlidingWindow),
	}
}

// Payload is the job body enqueued onto the "transaction" queue.
type Payload struct {
	TransactionID string `json:"transaction_id"`
}

// Process implements coordinator.Processor for the "transaction" queue.
func (w *Worker) Process(ctx context.Context, j *domainjob.Job) error {
	var p Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return errors.MissingField("transaction_id")
	}
	return w.Broadcast(ctx, p.TransactionID)
}

// Broadcast runs the full pipeline for one transaction id. Every error
// returned is an *errors.Error, already classified fatal vs retryable so
// the Job Coordinator can act on it directly.
func (w *Worker) Broadcast(ctx context.Context, transactionID string) error {
	tx, err := w.store.Get(ctx, transactionID)
	if err != nil {
		return errors.StorageError("get transaction", err)
	}

	if tx.Status.Terminal() {
		return nil // already resolved by a concurrent path; nothing to do
	}

	if err := validateAddresses(tx); err != nil {
		w.fail(ctx, tx, err)
		return err
	}

	adapter, ok := w.registry.Adapter(tx.ChainID)
	if !ok {
		err := errors.UnsupportedChain(tx.ChainID)
		w.fail(ctx, tx, err)
		return err
	}

	call := chain.Call{ChainID: tx.ChainID, From: tx.Sender, To: tx.Recipient, Value: tx.Value, Data: tx.CallData}

	if tx.RequiresSim {
		sim, err := adapter.Simulate(ctx, call, nil)
		if err != nil {
			werr := errors.SimulationFailed("simulation request failed", err)
			w.fail(ctx, tx, werr)
			return werr
		}
		tx.Simulation = &transaction.SimulationResult{Success: sim.Success, GasUsed: sim.GasUsed, RevertReason: sim.RevertReason}
		if !sim.Success {
			werr := errors.SimulationFailed(sim.RevertReason, nil)
			w.fail(ctx, tx, werr)
			return werr
		}
	}

	gas, err := adapter.EstimateGas(ctx, call)
	if err != nil {
		werr := errors.BroadcastFailed(err, chain.IsRetryable(err))
		w.fail(ctx, tx, werr)
		return werr
	}
	if tx.RequestedGas && tx.GasLimit > 0 {
		gas.GasLimit = tx.GasLimit
	}

	raw, err := adapter.Build(ctx, call, tx.Nonce, gas)
	if err != nil {
		werr := errors.BroadcastFailed(err, false)
		w.fail(ctx, tx, werr)
		return werr
	}

	signed, err := adapter.Sign(ctx, raw)
	if err != nil {
		werr := errors.BroadcastFailed(err, false)
		w.fail(ctx, tx, werr)
		return werr
	}

	tx.Status = transaction.StatusBroadcasting
	tx.GasLimit = gas.GasLimit
	if err := w.store.Update(ctx, tx); err != nil {
		return errors.StorageError("update transaction", err)
	}

	if !w.chainLimiter(tx.ChainID).Allow(time.Now()) {
		// Retryable without marking tx failed: the job is re-leased and
		// retries this same pipeline once the chain's window has room.
		return errors.BroadcastFailed(errRateLimited, true)
	}

	var hash string
	broadcastErr := resilience.Retry(ctx, w.retry, func() error {
		h, err := adapter.Broadcast(ctx, signed)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if broadcastErr != nil {
		werr := errors.BroadcastFailed(broadcastErr, chain.IsRetryable(broadcastErr))
		w.fail(ctx, tx, werr)
		return werr
	}

	tx.Hash = hash
	tx.Status = transaction.StatusBroadcasted
	if err := w.store.Update(ctx, tx); err != nil {
		return errors.StorageError("update transaction", err)
	}
	w.publish(ctx, event.TransactionSubmitted, tx)

	receipt, err := awaitConfirmation(ctx, adapter, hash)
	if err != nil {
		werr := errors.ConfirmTimeout(hash)
		w.fail(ctx, tx, werr)
		return werr
	}

	tx.Status = transaction.StatusConfirmed
	tx.Receipt = &transaction.Receipt{
		BlockNumber: receipt.BlockNumber,
		BlockHash:   receipt.BlockHash,
		GasUsed:     receipt.GasUsed,
		ConfirmedAt: time.Now().UTC(),
	}
	if receipt.Status == chain.ReceiptReverted {
		tx.Status = transaction.StatusFailed
		tx.WithMemo("transaction reverted on-chain")
	}
	if err := w.store.Update(ctx, tx); err != nil {
		return errors.StorageError("update transaction", err)
	}

	if tx.Status == transaction.StatusConfirmed {
		w.publish(ctx, event.TransactionConfirmed, tx)
	} else {
		w.publish(ctx, event.TransactionFailed, tx)
	}
	if w.metric != nil {
		w.metric.RecordBlockchainTx("txworker", chainLabel(tx.ChainID), "broadcast", string(tx.Status), 0)
	}
	return nil
}

// validateAddresses rejects a missing or malformed sender/recipient as
// fatal before any adapter call is made (spec §4.5 step 1: well-formed
// "0x"-prefixed, 40 hex char addresses with a valid EIP-55 checksum when
// the input is mixed-case).
func validateAddresses(tx *transaction.Transaction) *errors.Error {
	if tx.Sender == "" {
		return errors.MissingField("sender")
	}
	if tx.Recipient == "" {
		return errors.MissingField("recipient")
	}
	if !chainadapter.IsWellFormed(tx.Sender) || !chainadapter.VerifyChecksum(tx.Sender) {
		return errors.InvalidAddress("sender", tx.Sender)
	}
	if !chainadapter.IsWellFormed(tx.Recipient) || !chainadapter.VerifyChecksum(tx.Recipient) {
		return errors.InvalidAddress("recipient", tx.Recipient)
	}
	return nil
}

// awaitConfirmation polls GetReceipt on a fixed interval up to the spec's
// hard confirmation ceiling (spec §4.5 step 8).
func awaitConfirmation(ctx context.Context, adapter chain.Adapter, hash string) (chain.Receipt, error) {
	deadline := time.Now().Add(chain.ConfirmationCeiling)
	ticker := time.NewTicker(chain.ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := adapter.GetReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return chain.Receipt{}, err
		}
		select {
		case <-ctx.Done():
			return chain.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) fail(ctx context.Context, tx *transaction.Transaction, err *errors.Error) {
	tx.Status = transaction.StatusFailed
	tx.ErrorReason = err.Message
	tx.WithMemo(err.Message)
	if updateErr := w.store.Update(ctx, tx); updateErr != nil {
		w.logger.Error(ctx, "failed to persist transaction failure", updateErr, map[string]interface{}{"transaction_id": tx.ID})
	}
	w.publish(ctx, event.TransactionFailed, tx)
}

func (w *Worker) publish(ctx context.Context, t event.Type, tx *transaction.Transaction) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(ctx, event.New(t, map[string]any{
		"transaction_id": tx.ID,
		"chain_id":       tx.ChainID,
		"status":         string(tx.Status),
		"hash":           tx.Hash,
	}))
}

var errRateLimited = errorsStd.New("chain broadcast rate limit exceeded")

func (w *Worker) chainLimiter(chainID int64) *ratelimit.SlidingWindow {
	w.chainLimitMu.Lock()
	defer w.chainLimitMu.Unlock()

	limiter, ok := w.chainLimits[chainID]
	if !ok {
		limiter = ratelimit.NewSlidingWindow(chainBroadcastWindow, chainBroadcastLimit)
		w.chainLimits[chainID] = limiter
	}
	return limiter
}

func chainLabel(chainID int64) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 42220:
		return "celo"
	case 137:
		return "polygon"
	case 8453:
		return "base"
	default:
		return "unknown"
	}
}

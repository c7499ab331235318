// Package simworker implements the Simulation Worker: a read-only dry-run
// of a transaction's call against a Chain Adapter, used ahead of approval
// or broadcast decisions without mutating any persisted state (spec.md
// §4.7).
package simworker

import (
	"context"
	"encoding/json"

	"github.com/sagexd08/autofi-core/domain/chain"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
)

// Worker runs read-only dry-runs against a chain.Registry.
type Worker struct {
	registry chain.Registry
	logger   *logging.Logger
}

// New builds a Worker. logger may be nil.
func New(registry chain.Registry, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{registry: registry, logger: logger}
}

// Payload is the job body enqueued onto the "simulation" queue.
type Payload struct {
	ChainID int64   `json:"chain_id"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Value   string  `json:"value"`
	Data    []byte  `json:"data"`
	Block   *uint64 `json:"block,omitempty"`
}

// Process implements coordinator.Processor for the "simulation" queue. The
// simulation result itself is not persisted here: callers that need it
// (the Transaction Broadcast Worker, an API read path) invoke Simulate
// directly and handle the result; this queue only exists for simulations
// requested independently of a pending broadcast (spec §4.7 "standalone
// dry-run" case).
func (w *Worker) Process(ctx context.Context, j *domainjob.Job) error {
	var p Payload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return errors.MissingField("simulation payload")
	}

	result, err := w.Simulate(ctx, p)
	if err != nil {
		return err
	}

	w.logger.LogPerformance(ctx, "simulation", map[string]interface{}{
		"chain_id": p.ChainID,
		"success":  result.Success,
		"gas_used": result.GasUsed,
	})
	return nil
}

// Simulate runs a single dry-run call and returns its outcome as-is; a
// revert is not an error here (the caller decides what a failed
// simulation means for its own flow).
func (w *Worker) Simulate(ctx context.Context, p Payload) (chain.SimulationResult, error) {
	adapter, ok := w.registry.Adapter(p.ChainID)
	if !ok {
		return chain.SimulationResult{}, errors.UnsupportedChain(p.ChainID)
	}

	call := chain.Call{ChainID: p.ChainID, From: p.From, To: p.To, Value: p.Value, Data: p.Data}
	result, err := adapter.Simulate(ctx, call, p.Block)
	if err != nil {
		return chain.SimulationResult{}, errors.SimulationFailed("simulation request failed", err)
	}
	return result, nil
}

package chainadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagexd08/autofi-core/domain/chain"
)

// ReceiptFunc lets tests script a sequence of broadcast/receipt outcomes.
type ReceiptFunc func(hash string) (chain.Receipt, error)

// ReferenceAdapter is a deterministic, in-memory chain.Adapter used for
// local development and the workers' tests. It never touches a real
// network; BroadcastFunc/ReceiptFunc/SimulateFunc let callers script
// outcomes (including retryable failures) scenario by scenario.
type ReferenceAdapter struct {
	mu sync.Mutex

	chainID int64

	EstimateFunc func(ctx context.Context, call chain.Call) (chain.GasEstimate, error)
	BroadcastFunc func(ctx context.Context, signed chain.SignedTx) (string, error)
	ReceiptFunc   ReceiptFunc
	SimulateFunc  func(ctx context.Context, call chain.Call) (chain.SimulationResult, error)

	broadcasts []chain.SignedTx
}

// NewReferenceAdapter builds a ReferenceAdapter bound to chainID with sane
// defaults: gas estimation returns a fixed limit, broadcast always
// succeeds with a deterministic hash, and the receipt is immediately
// confirmed.
func NewReferenceAdapter(chainID int64) *ReferenceAdapter {
	return &ReferenceAdapter{
		chainID: chainID,
		EstimateFunc: func(ctx context.Context, call chain.Call) (chain.GasEstimate, error) {
			return chain.GasEstimate{GasLimit: 21000, GasPrice: "1000000000"}, nil
		},
		BroadcastFunc: func(ctx context.Context, signed chain.SignedTx) (string, error) {
			return signed.Hash, nil
		},
		ReceiptFunc: func(hash string) (chain.Receipt, error) {
			return chain.Receipt{BlockNumber: 1, BlockHash: "0xblock", GasUsed: 21000, Status: chain.ReceiptSuccess}, nil
		},
		SimulateFunc: func(ctx context.Context, call chain.Call) (chain.SimulationResult, error) {
			return chain.SimulationResult{Success: true, GasUsed: 21000}, nil
		},
	}
}

func (a *ReferenceAdapter) ChainID() int64 { return a.chainID }

func (a *ReferenceAdapter) EstimateGas(ctx context.Context, call chain.Call) (chain.GasEstimate, error) {
	return a.EstimateFunc(ctx, call)
}

func (a *ReferenceAdapter) Build(ctx context.Context, call chain.Call, nonce uint64, gas chain.GasEstimate) (chain.RawTx, error) {
	payload := fmt.Sprintf("%d:%s:%s:%d:%x", call.ChainID, call.From, call.To, nonce, call.Data)
	return chain.RawTx{ChainID: call.ChainID, Bytes: []byte(payload)}, nil
}

func (a *ReferenceAdapter) Sign(ctx context.Context, raw chain.RawTx) (chain.SignedTx, error) {
	hash := fmt.Sprintf("0x%x", simpleHash(raw.Bytes))
	return chain.SignedTx{ChainID: raw.ChainID, Bytes: raw.Bytes, Hash: hash}, nil
}

func (a *ReferenceAdapter) Broadcast(ctx context.Context, signed chain.SignedTx) (string, error) {
	a.mu.Lock()
	a.broadcasts = append(a.broadcasts, signed)
	a.mu.Unlock()
	return a.BroadcastFunc(ctx, signed)
}

func (a *ReferenceAdapter) GetReceipt(ctx context.Context, hash string) (chain.Receipt, error) {
	return a.ReceiptFunc(hash)
}

func (a *ReferenceAdapter) Simulate(ctx context.Context, call chain.Call, block *uint64) (chain.SimulationResult, error) {
	return a.SimulateFunc(ctx, call)
}

// Broadcasts returns every signed transaction handed to Broadcast, in order.
func (a *ReferenceAdapter) Broadcasts() []chain.SignedTx {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]chain.SignedTx, len(a.broadcasts))
	copy(out, a.broadcasts)
	return out
}

func simpleHash(b []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

package simworker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagexd08/autofi-core/domain/chain"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/infrastructure/chainadapter"
	infraerrors "github.com/sagexd08/autofi-core/infrastructure/errors"
)

func TestWorker_Simulate_AdapterError(t *testing.T) {
	adapter := chainadapter.NewReferenceAdapter(1)
	adapter.SimulateFunc = func(ctx context.Context, call chain.Call) (chain.SimulationResult, error) {
		return chain.SimulationResult{}, errors.New("rpc timeout")
	}
	registry := chain.NewStaticRegistry(adapter)
	w := New(registry, nil)

	_, err := w.Simulate(context.Background(), Payload{ChainID: 1, From: "0xa", To: "0xb"})
	require.Error(t, err)

	e, ok := infraerrors.As(err)
	require.True(t, ok, "expected an infrastructure/errors.Error")
	assert.Equal(t, infraerrors.CodeSimulationFailed, e.Code)
	assert.False(t, e.Retryable(), "a simulation RPC failure is treated as fatal, not retried")
}

func TestWorker_Process_InvalidPayload(t *testing.T) {
	registry := chain.NewStaticRegistry(chainadapter.NewReferenceAdapter(1))
	w := New(registry, nil)

	err := w.Process(context.Background(), &domainjob.Job{Queue: "simulation", ID: "j-1", Payload: []byte("not json")})
	require.Error(t, err)

	e, ok := infraerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, infraerrors.CodeMissingField, e.Code)
}

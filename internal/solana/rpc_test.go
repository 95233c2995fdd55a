package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPCServer(t *testing.T, handler http.HandlerFunc) *RPCClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRPCClient(RPCConfig{
		Endpoint:        server.URL,
		Timeout:         5 * time.Second,
		Retry:           resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		ConfirmTimeout:  500 * time.Millisecond,
		ConfirmInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func TestRPC_Health(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, "ok")
	})

	require.NoError(t, client.Health(context.Background()))
	assert.Equal(t, int64(1), client.Stats().RequestCount)
}

func TestRPC_GetBalance(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "getBalance", req.Method)
		writeResult(w, map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000})
	})

	bal, err := client.GetBalance(context.Background(), Pubkey("wallet"))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(bal), bal.String())
}

func TestRPC_RetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeResult(w, "ok")
	})

	require.NoError(t, client.Health(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRPC_RPCErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32002, "message": "blockhash not found"},
		})
	})

	_, err := client.SendTransaction(context.Background(), "AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRPC_SendTransaction(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "sendTransaction", req.Method)
		assert.Equal(t, "AAAA", req.Params[0])
		writeResult(w, "5sig")
	})

	sig, err := client.SendTransaction(context.Background(), "AAAA")
	require.NoError(t, err)
	assert.Equal(t, Signature("5sig"), sig)
}

func TestRPC_ConfirmTransaction(t *testing.T) {
	t.Run("confirmed after processed", func(t *testing.T) {
		var polls atomic.Int32
		client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
			status := "processed"
			if polls.Add(1) >= 2 {
				status = "confirmed"
			}
			writeResult(w, map[string]any{"value": []any{
				map[string]any{"confirmationStatus": status, "err": nil},
			}})
		})

		err := client.ConfirmTransaction(context.Background(), "sig", CommitmentConfirmed)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, polls.Load(), int32(2))
	})

	t.Run("on-chain failure", func(t *testing.T) {
		client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, map[string]any{"value": []any{
				map[string]any{"confirmationStatus": "confirmed", "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
			}})
		})

		err := client.ConfirmTransaction(context.Background(), "sig", CommitmentConfirmed)
		assert.ErrorIs(t, err, ErrTxFailed)
	})

	t.Run("unknown signature times out", func(t *testing.T) {
		client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeResult(w, map[string]any{"value": []any{nil}})
		})

		err := client.ConfirmTransaction(context.Background(), "sig", CommitmentFinalized)
		assert.ErrorIs(t, err, ErrConfirmTimeout)
	})
}

func TestRPC_GetRecentPriorityFee(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{
			{"slot": 1, "prioritizationFee": 0},
			{"slot": 2, "prioritizationFee": 400},
			{"slot": 3, "prioritizationFee": 100},
			{"slot": 4, "prioritizationFee": 300},
			{"slot": 5, "prioritizationFee": 200},
		})
	})

	fee, err := client.GetRecentPriorityFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(400), fee)
}

func TestCommitmentReached(t *testing.T) {
	assert.True(t, commitmentReached("finalized", CommitmentConfirmed))
	assert.True(t, commitmentReached("confirmed", CommitmentConfirmed))
	assert.False(t, commitmentReached("processed", CommitmentConfirmed))
	assert.False(t, commitmentReached("", CommitmentProcessed))
}

package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quoteBody = `{
  "inputMint": "So11111111111111111111111111111111111111112",
  "outputMint": "MemeMint111",
  "inAmount": "100000000",
  "outAmount": "123456789",
  "otherAmountThreshold": "122222222",
  "priceImpactPct": "0.01",
  "slippageBps": 300,
  "routePlan": [
    {"percent": 100, "swapInfo": {"ammKey": "Amm1", "label": "Raydium", "feeAmount": "25000", "feeMint": "So11111111111111111111111111111111111111112"}}
  ],
  "contextSlot": 42,
  "timeTaken": 0.01,
  "someFutureField": {"kept": true}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.Retry = resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return NewAPIClient(cfg, zerolog.Nop())
}

func TestGetQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, string(solana.SOLMint), q.Get("inputMint"))
		assert.Equal(t, "MemeMint111", q.Get("outputMint"))
		assert.Equal(t, "100000000", q.Get("amount"))
		assert.Equal(t, "300", q.Get("slippageBps"))
		w.Write([]byte(quoteBody))
	})

	quote, err := client.GetQuote(context.Background(), QuoteParams{
		InputMint:   solana.SOLMint,
		OutputMint:  "MemeMint111",
		Amount:      100_000_000,
		SlippageBps: 300,
	})
	require.NoError(t, err)
	assert.True(t, quote.HasRoute())
	assert.Equal(t, "Raydium", quote.Route())

	out, err := quote.OutAmountRaw()
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), out)

	in, err := quote.InAmountRaw()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), in)

	assert.Equal(t, int64(1), client.Stats().QuoteCount)
}

func TestGetQuote_NoRoute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inputMint":"a","outputMint":"b","inAmount":"1","outAmount":"0","routePlan":[]}`))
	})

	quote, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
	require.NoError(t, err)
	assert.False(t, quote.HasRoute())
	assert.False(t, (*Quote)(nil).HasRoute())
}

func TestGetQuote_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	})

	_, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
	assert.ErrorContains(t, err, "COULD_NOT_FIND_ANY_ROUTE")
	assert.ErrorIs(t, err, ErrRouteNotFound)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStats_AverageLatency(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(40 * time.Millisecond)
		}
		w.Write([]byte(quoteBody))
	})
	assert.Zero(t, client.Stats().AvgLatencyMs)

	for i := 0; i < 2; i++ {
		_, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
		require.NoError(t, err)
	}

	avg := client.Stats().AvgLatencyMs
	assert.GreaterOrEqual(t, avg, int64(20))
	assert.Less(t, avg, int64(40))
}

func TestGetQuote_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(quoteBody))
	})

	_, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBuildSwap_PassesQuoteVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			w.Write([]byte(quoteBody))
		case "/swap":
			assert.Equal(t, http.MethodPost, r.Method)
			var req map[string]json.RawMessage
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			var quote map[string]any
			assert.NoError(t, json.Unmarshal(req["quoteResponse"], &quote))
			assert.Contains(t, quote, "someFutureField")
			assert.JSONEq(t, `"Wallet111"`, string(req["userPublicKey"]))
			assert.JSONEq(t, `7777`, string(req["computeUnitPriceMicroLamports"]))

			json.NewEncoder(w).Encode(SwapResponse{SwapTransaction: "AQID", LastValidBlockHeight: 9})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	quote, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
	require.NoError(t, err)

	tx, err := client.BuildSwap(context.Background(), quote, "Wallet111", 7777)
	require.NoError(t, err)
	assert.Equal(t, "AQID", tx)
	assert.Equal(t, int64(1), client.Stats().SwapCount)
}

func TestBuildSwap_EmptyTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"swapTransaction":""}`))
	})

	_, err := client.BuildSwap(context.Background(), &Quote{InAmount: "1"}, "Wallet111", 0)
	assert.Error(t, err)
}

func TestCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client.config.Retry = resilience.Policy{MaxAttempts: 1}
	client.config.CircuitThreshold = 2
	client.config.CircuitCooldown = 50 * time.Millisecond

	for i := 0; i < 2; i++ {
		_, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
		assert.Error(t, err)
	}
	assert.True(t, client.Stats().CircuitOpen)

	_, err := client.GetQuote(context.Background(), QuoteParams{Amount: 1})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	time.Sleep(60 * time.Millisecond)
	assert.False(t, client.Stats().CircuitOpen)
}

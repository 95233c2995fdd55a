package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// RPC Client — Solana JSON-RPC over HTTP with rate limiting & retry
// ---------------------------------------------------------------------------

// ErrTxFailed is returned when a transaction landed but carries an on-chain error.
var ErrTxFailed = errors.New("solana: transaction failed on-chain")

// ErrConfirmTimeout is returned when a signature does not reach the requested
// commitment before the confirmation timeout.
var ErrConfirmTimeout = errors.New("solana: confirmation timeout")

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint        string               `yaml:"endpoint"`
	Timeout         time.Duration        `yaml:"timeout"`
	RateLimit       resilience.RateLimit `yaml:"rate_limit"`
	Retry           resilience.Policy    `yaml:"retry"`
	ConfirmTimeout  time.Duration        `yaml:"confirm_timeout"`
	ConfirmInterval time.Duration        `yaml:"confirm_interval"`
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:        "https://api.mainnet-beta.solana.com",
		Timeout:         10 * time.Second,
		RateLimit:       resilience.RateLimit{Requests: 10, Window: time.Second},
		Retry:           resilience.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		ConfirmTimeout:  60 * time.Second,
		ConfirmInterval: 2 * time.Second,
	}
}

// RPCClient talks to a Solana JSON-RPC endpoint.
type RPCClient struct {
	config     RPCConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	nextID atomic.Int64

	requestCount atomic.Int64
	errorCount   atomic.Int64
	latencySum   atomic.Int64 // microseconds
}

// NewRPCClient creates an RPC client.
func NewRPCClient(config RPCConfig, logger zerolog.Logger) *RPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.ConfirmTimeout == 0 {
		config.ConfirmTimeout = 60 * time.Second
	}
	if config.ConfirmInterval == 0 {
		config.ConfirmInterval = 2 * time.Second
	}
	return &RPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    config.RateLimit.Limiter(),
		logger:     logger.With().Str("component", "rpc").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call. JSON-RPC level errors
// are not retried.
func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var result json.RawMessage
	err = c.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := resilience.Wait(ctx, c.limiter); err != nil {
			return resilience.Permanent(fmt.Errorf("rpc: %s: %w", method, err))
		}

		start := time.Now()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("rpc: create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.errorCount.Add(1)
			return fmt.Errorf("rpc: %s http error: %w", method, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.errorCount.Add(1)
			return fmt.Errorf("rpc: %s read response: %w", method, err)
		}

		c.requestCount.Add(1)
		c.latencySum.Add(time.Since(start).Microseconds())

		if resp.StatusCode != http.StatusOK {
			c.errorCount.Add(1)
			return fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			c.errorCount.Add(1)
			return fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
		}
		if rpcResp.Error != nil {
			return resilience.Permanent(fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message))
		}

		result = rpcResp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance returns the SOL balance of a wallet.
func (c *RPCClient) GetBalance(ctx context.Context, wallet Pubkey) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getBalance", []any{string(wallet)})
	if err != nil {
		return decimal.Zero, err
	}
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse balance: %w", err)
	}
	return LamportsToSOL(decimal.NewFromUint64(resp.Value)), nil
}

// SendTransaction submits a signed, base64-encoded transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	result, err := c.call(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       true,
			"preflightCommitment": CommitmentConfirmed,
			"maxRetries":          2,
		},
	})
	if err != nil {
		return "", err
	}
	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Failed reports whether the transaction executed with an error.
func (s SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// GetSignatureStatus returns the status of a signature, or nil when unknown.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig Signature) (*SignatureStatus, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
		map[string]any{"searchTransactionHistory": false},
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse status: %w", err)
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return resp.Value[0], nil
}

// ConfirmTransaction polls the signature until it reaches commitment, fails
// on-chain, or the confirmation timeout elapses.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, sig Signature, commitment string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.ConfirmInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, sig)
		if err != nil {
			c.logger.Debug().Err(err).Str("sig", sig.Short()).Msg("rpc: status poll failed")
		} else if status != nil {
			if status.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrTxFailed, sig, string(status.Err))
			}
			if commitmentReached(status.ConfirmationStatus, commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case <-ticker.C:
		}
	}
}

func commitmentReached(got, want string) bool {
	rank := map[string]int{
		CommitmentProcessed: 1,
		CommitmentConfirmed: 2,
		CommitmentFinalized: 3,
	}
	w, ok := rank[want]
	if !ok {
		w = rank[CommitmentConfirmed]
	}
	return rank[got] >= w
}

// GetRecentPriorityFee returns the p75 of non-zero recent prioritization fees
// in micro-lamports per compute unit.
func (c *RPCClient) GetRecentPriorityFee(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "getRecentPrioritizationFees", nil)
	if err != nil {
		return 0, err
	}
	var fees []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &fees); err != nil {
		return 0, fmt.Errorf("rpc: parse fees: %w", err)
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	if len(values) == 0 {
		return 0, nil
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return percentile(values, 75), nil
}

// Health checks the endpoint.
func (c *RPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(ctx, "getHealth", nil)
	return err
}

// RPCStats returns RPC client statistics.
type RPCStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyUs int64 `json:"avg_latency_us"`
}

func (c *RPCClient) Stats() RPCStats {
	n := c.requestCount.Load()
	avg := int64(0)
	if n > 0 {
		avg = c.latencySum.Load() / n
	}
	return RPCStats{
		RequestCount: n,
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyUs: avg,
	}
}

// percentile returns the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Jupiter V6 API Client — quote + swap endpoints
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

var (
	// ErrCircuitOpen is returned while the circuit breaker is open.
	ErrCircuitOpen = errors.New("jupiter: circuit breaker open")
	// ErrRouteNotFound is returned when the router rejects a pair it cannot route.
	ErrRouteNotFound = errors.New("jupiter: no route")
)

// Router error codes that mean the pair is unroutable.
var noRouteCodes = []string{"COULD_NOT_FIND_ANY_ROUTE", "NO_ROUTES_FOUND", "TOKEN_NOT_TRADABLE"}

// Config configures the Jupiter client.
type Config struct {
	BaseURL          string               `yaml:"base_url"`
	Timeout          time.Duration        `yaml:"timeout"`
	RateLimit        resilience.RateLimit `yaml:"rate_limit"`
	Retry            resilience.Policy    `yaml:"retry"`
	CircuitThreshold int                  `yaml:"circuit_threshold"`
	CircuitCooldown  time.Duration        `yaml:"circuit_cooldown"`
}

// DefaultConfig returns public-endpoint defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://quote-api.jup.ag/v6",
		Timeout:          10 * time.Second,
		RateLimit:        resilience.RateLimit{Requests: 10, Window: time.Second},
		Retry:            resilience.Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond},
		CircuitThreshold: 5,
		CircuitCooldown:  30 * time.Second,
	}
}

// APIClient is the Jupiter V6 API client.
type APIClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	quoteCount   atomic.Int64
	swapCount    atomic.Int64
	errorCount   atomic.Int64
	latencyMs    atomic.Int64 // summed over quotes

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	openedAt          atomic.Int64 // unix nanos, 0 = closed
}

// NewAPIClient creates a new Jupiter API client.
func NewAPIClient(config Config, logger zerolog.Logger) *APIClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.CircuitThreshold == 0 {
		config.CircuitThreshold = 5
	}
	if config.CircuitCooldown == 0 {
		config.CircuitCooldown = 30 * time.Second
	}
	return &APIClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    config.RateLimit.Limiter(),
		logger:     logger.With().Str("component", "jupiter").Logger(),
	}
}

// ---------------------------------------------------------------------------
// Quote API — best route for an exact input amount
// ---------------------------------------------------------------------------

// QuoteParams describes an exact-in quote request.
type QuoteParams struct {
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	Amount      uint64 // raw units of InputMint
	SlippageBps int
}

// RoutePlanStep is one hop of a route.
type RoutePlanStep struct {
	Percent  int `json:"percent"`
	SwapInfo struct {
		AmmKey    string `json:"ammKey"`
		Label     string `json:"label"`
		FeeAmount string `json:"feeAmount"`
		FeeMint   string `json:"feeMint"`
	} `json:"swapInfo"`
}

// Quote is the response from the /quote endpoint. The raw body is kept so
// it can be passed back to /swap unchanged.
type Quote struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	SlippageBps          int             `json:"slippageBps"`
	RoutePlan            []RoutePlanStep `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
	TimeTaken            float64         `json:"timeTaken"`

	raw json.RawMessage
}

// HasRoute reports whether the quote carries at least one hop.
func (q *Quote) HasRoute() bool { return q != nil && len(q.RoutePlan) > 0 }

// OutAmountRaw parses OutAmount.
func (q *Quote) OutAmountRaw() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// InAmountRaw parses InAmount.
func (q *Quote) InAmountRaw() (uint64, error) {
	return strconv.ParseUint(q.InAmount, 10, 64)
}

// Route returns the hop labels joined with ">", for logging.
func (q *Quote) Route() string {
	labels := make([]string, 0, len(q.RoutePlan))
	for _, step := range q.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}
	return strings.Join(labels, ">")
}

// GetQuote fetches the best swap route.
func (c *APIClient) GetQuote(ctx context.Context, params QuoteParams) (*Quote, error) {
	queryURL, err := url.Parse(c.config.BaseURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(params.InputMint))
	q.Set("outputMint", string(params.OutputMint))
	q.Set("amount", strconv.FormatUint(params.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	start := time.Now()
	body, err := c.do(ctx, http.MethodGet, queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: quote %s: %w", params.OutputMint.Short(), err)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}
	quote.raw = body

	latency := time.Since(start).Milliseconds()
	c.quoteCount.Add(1)
	c.latencyMs.Add(latency)

	c.logger.Debug().
		Str("in", solana.Pubkey(quote.InputMint).Short()).
		Str("out", solana.Pubkey(quote.OutputMint).Short()).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Int64("latency_ms", latency).
		Msg("jupiter: quote received")

	return &quote, nil
}

// ---------------------------------------------------------------------------
// Swap API — build a signable transaction from a quote
// ---------------------------------------------------------------------------

// SwapRequest is the request to the /swap endpoint.
type SwapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction           bool            `json:"asLegacyTransaction"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

// SwapResponse is the response from the /swap endpoint.
type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64 encoded transaction
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwap returns the base64 unsigned transaction for quote, paid by user.
func (c *APIClient) BuildSwap(ctx context.Context, quote *Quote, user solana.Pubkey, priorityFee uint64) (string, error) {
	quoteJSON := quote.raw
	if len(quoteJSON) == 0 {
		var err error
		if quoteJSON, err = json.Marshal(quote); err != nil {
			return "", fmt.Errorf("jupiter: marshal quote: %w", err)
		}
	}

	body, err := json.Marshal(SwapRequest{
		QuoteResponse:                 quoteJSON,
		UserPublicKey:                 string(user),
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: priorityFee,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.config.BaseURL+"/swap", body)
	if err != nil {
		return "", fmt.Errorf("jupiter: swap: %w", err)
	}

	var swapResp SwapResponse
	if err := json.Unmarshal(respBody, &swapResp); err != nil {
		return "", fmt.Errorf("jupiter: parse swap response: %w", err)
	}
	if swapResp.SwapTransaction == "" {
		return "", errors.New("jupiter: empty swap transaction")
	}

	c.swapCount.Add(1)
	return swapResp.SwapTransaction, nil
}

// do sends one request under the rate limiter and retry policy. 429 and 5xx
// are retried; other 4xx are not.
func (c *APIClient) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if c.circuitOpen() {
		return nil, ErrCircuitOpen
	}

	var out []byte
	err := c.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := resilience.Wait(ctx, c.limiter); err != nil {
			return resilience.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.recordError()
			return fmt.Errorf("HTTP error: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			c.recordError()
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			c.resetErrors()
			out = respBody
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			c.errorCount.Add(1)
			return errors.New("rate limited (429)")
		case resp.StatusCode >= 500:
			c.recordError()
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		default:
			c.errorCount.Add(1)
			for _, code := range noRouteCodes {
				if bytes.Contains(respBody, []byte(code)) {
					return resilience.Permanent(fmt.Errorf("%w: HTTP %d %s", ErrRouteNotFound, resp.StatusCode, code))
				}
			}
			return resilience.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)))
		}
	})
	return out, err
}

func (c *APIClient) circuitOpen() bool {
	opened := c.openedAt.Load()
	if opened == 0 {
		return false
	}
	if time.Since(time.Unix(0, opened)) < c.config.CircuitCooldown {
		return true
	}
	if c.openedAt.CompareAndSwap(opened, 0) {
		c.consecutiveErrors.Store(0)
		c.logger.Info().Msg("jupiter: circuit breaker reset")
	}
	return false
}

// recordError increments consecutive errors and opens the circuit breaker.
func (c *APIClient) recordError() {
	c.errorCount.Add(1)
	count := c.consecutiveErrors.Add(1)
	if count >= int64(c.config.CircuitThreshold) {
		if c.openedAt.CompareAndSwap(0, time.Now().UnixNano()) {
			c.logger.Error().Int64("errors", count).Msg("jupiter: CIRCUIT BREAKER OPEN")
		}
	}
}

func (c *APIClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// APIStats returns Jupiter API client stats.
type APIStats struct {
	QuoteCount   int64 `json:"quote_count"`
	SwapCount    int64 `json:"swap_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *APIClient) Stats() APIStats {
	quotes := c.quoteCount.Load()
	var avg int64
	if quotes > 0 {
		avg = c.latencyMs.Load() / quotes
	}
	return APIStats{
		QuoteCount:   quotes,
		SwapCount:    c.swapCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: avg,
		CircuitOpen:  c.circuitOpen(),
	}
}

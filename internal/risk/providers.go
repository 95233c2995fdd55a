package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Provider clients — GoPlus token security, DexScreener pairs.
// Each client owns its token bucket; the caller's context bounds the wait.
// ---------------------------------------------------------------------------

// ProviderConfig configures one HTTP data provider. A zero Retry makes a
// single attempt.
type ProviderConfig struct {
	BaseURL   string               `yaml:"base_url"`
	APIKey    string               `yaml:"api_key"`
	RateLimit resilience.RateLimit `yaml:"rate_limit"`
	Retry     resilience.Policy    `yaml:"retry"`
}

type httpProvider struct {
	name       string
	config     ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	requests atomic.Int64
	errors   atomic.Int64
}

func newHTTPProvider(name string, config ProviderConfig, logger zerolog.Logger) *httpProvider {
	return &httpProvider{
		name:       name,
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    config.RateLimit.Limiter(),
		logger:     logger.With().Str("component", name).Logger(),
	}
}

// getJSON performs a rate-limited GET under the retry policy and decodes
// the body into out. Every attempt takes a rate-limit slot. 429, 5xx and
// transport errors are retried; other 4xx are not. A 404 reports
// found=false without an error.
func (p *httpProvider) getJSON(ctx context.Context, endpoint string, out any) (found bool, err error) {
	err = p.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := resilience.Wait(ctx, p.limiter); err != nil {
			return resilience.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if p.config.APIKey != "" {
			req.Header.Set("Authorization", p.config.APIKey)
		}

		p.requests.Add(1)
		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.errors.Add(1)
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			found = false
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			p.errors.Add(1)
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		default:
			p.errors.Add(1)
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return resilience.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			p.errors.Add(1)
			return resilience.Permanent(fmt.Errorf("decode response: %w", err))
		}
		found = true
		return nil
	})
	if err != nil {
		if attempts := p.config.Retry.MaxAttempts; attempts > 1 {
			p.logger.Debug().Err(err).Int("max_attempts", attempts).Msg("risk: provider request gave up")
		}
		return false, fmt.Errorf("%s: %w", p.name, err)
	}
	return found, nil
}

// ProviderStats returns request counters of a provider client.
type ProviderStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

func (p *httpProvider) Stats() ProviderStats {
	return ProviderStats{Requests: p.requests.Load(), Errors: p.errors.Load()}
}

// ---- GoPlus ----

// GoPlusClient implements SecurityProvider against the GoPlus Solana
// token security API.
type GoPlusClient struct {
	*httpProvider
}

// DefaultGoPlusConfig returns public-endpoint defaults (30 req/min).
func DefaultGoPlusConfig() ProviderConfig {
	return ProviderConfig{
		BaseURL:   "https://api.gopluslabs.io",
		RateLimit: resilience.RateLimit{Requests: 30, Window: time.Minute},
		Retry:     resilience.Policy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// NewGoPlusClient creates a security provider client.
func NewGoPlusClient(config ProviderConfig, logger zerolog.Logger) *GoPlusClient {
	return &GoPlusClient{newHTTPProvider("goplus", config, logger)}
}

type goplusAuthority struct {
	Status    string `json:"status"`
	Authority []struct {
		Address string `json:"address"`
	} `json:"authority"`
}

func (a *goplusAuthority) enabled() bool { return a != nil && a.Status == "1" }

func (a *goplusAuthority) first() string {
	if a == nil || len(a.Authority) == 0 {
		return ""
	}
	return a.Authority[0].Address
}

type goplusToken struct {
	NonTransferable string           `json:"non_transferable"`
	TransferHook    []any            `json:"transfer_hook"`
	Freezable       *goplusAuthority `json:"freezable"`
	Mintable        *goplusAuthority `json:"mintable"`
	MetadataMutable *struct {
		Status string `json:"status"`
	} `json:"metadata_mutable"`
	TransferFee *struct {
		CurrentFeeRate *struct {
			FeeRate string `json:"fee_rate"` // basis points
		} `json:"current_fee_rate"`
	} `json:"transfer_fee"`
}

// TokenSecurity fetches and normalizes security attributes.
func (c *GoPlusClient) TokenSecurity(ctx context.Context, mint solana.Pubkey) (*SecurityData, error) {
	endpoint := fmt.Sprintf("%s/api/v1/solana/token_security?contract_addresses=%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.QueryEscape(string(mint)))

	var resp struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Result  map[string]goplusToken `json:"result"`
	}
	found, err := c.getJSON(ctx, endpoint, &resp)
	if err != nil || !found {
		return nil, err
	}
	if resp.Code != 1 {
		return nil, fmt.Errorf("goplus: code %d: %s", resp.Code, resp.Message)
	}

	tok, ok := resp.Result[string(mint)]
	if !ok {
		// Keys are sometimes lower-cased.
		tok, ok = resp.Result[strings.ToLower(string(mint))]
	}
	if !ok {
		return nil, nil
	}

	data := &SecurityData{
		NonTransferable: tok.NonTransferable == "1",
		TransferHook:    len(tok.TransferHook) > 0,
		Freezeable:      tok.Freezable.enabled(),
		FreezeAuthority: tok.Freezable.first(),
		Mintable:        tok.Mintable.enabled(),
		MintAuthority:   tok.Mintable.first(),
	}
	if tok.MetadataMutable != nil && tok.MetadataMutable.Status != "" {
		renounced := tok.MetadataMutable.Status == "0"
		data.OwnershipRenounced = &renounced
	}
	if tok.TransferFee != nil {
		tax := decimal.Zero
		if tok.TransferFee.CurrentFeeRate != nil {
			if bps, err := decimal.NewFromString(tok.TransferFee.CurrentFeeRate.FeeRate); err == nil {
				tax = pct(bps)
			}
		}
		data.TaxPct = &tax
	}

	c.logger.Debug().
		Str("mint", mint.Short()).
		Bool("freezeable", data.Freezeable).
		Bool("mintable", data.Mintable).
		Msg("goplus: token security fetched")
	return data, nil
}

// ---- DexScreener ----

// DexScreenerClient implements MarketProvider.
type DexScreenerClient struct {
	*httpProvider
}

// DefaultDexScreenerConfig returns public-endpoint defaults (300 req/min).
func DefaultDexScreenerConfig() ProviderConfig {
	return ProviderConfig{
		BaseURL:   "https://api.dexscreener.com",
		RateLimit: resilience.RateLimit{Requests: 300, Window: time.Minute},
		Retry:     resilience.Policy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second},
	}
}

// NewDexScreenerClient creates a market data client.
func NewDexScreenerClient(config ProviderConfig, logger zerolog.Logger) *DexScreenerClient {
	return &DexScreenerClient{newHTTPProvider("dexscreener", config, logger)}
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	PriceUSD    string `json:"priceUsd"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// MarketData returns the Solana pair with the highest USD liquidity.
func (c *DexScreenerClient) MarketData(ctx context.Context, mint solana.Pubkey) (*MarketData, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(string(mint)))

	var resp struct {
		Pairs []dexPair `json:"pairs"`
	}
	found, err := c.getJSON(ctx, endpoint, &resp)
	if err != nil || !found {
		return nil, err
	}

	var (
		best  *dexPair
		count int
	)
	for i := range resp.Pairs {
		p := &resp.Pairs[i]
		if p.ChainID != "" && p.ChainID != "solana" {
			continue
		}
		count++
		if best == nil || liquidity(p).GreaterThan(liquidity(best)) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil {
		price = decimal.Zero
	}
	return &MarketData{
		LiquidityUSD: liquidity(best),
		PriceUSD:     price,
		PairAddress:  best.PairAddress,
		DexID:        best.DexID,
		PairCount:    count,
	}, nil
}

func liquidity(p *dexPair) decimal.Decimal {
	if p.Liquidity == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(p.Liquidity.USD)
}

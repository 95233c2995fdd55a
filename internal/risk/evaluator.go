package risk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// Risk Evaluator — cached, concurrent provider fan-out, weighted checks.
// ---------------------------------------------------------------------------

// SecurityProvider returns token security attributes. (nil, nil) means the
// provider knows nothing about the mint.
type SecurityProvider interface {
	TokenSecurity(ctx context.Context, mint solana.Pubkey) (*SecurityData, error)
}

// MarketProvider returns liquidity and pair metadata.
type MarketProvider interface {
	MarketData(ctx context.Context, mint solana.Pubkey) (*MarketData, error)
}

// Config configures the evaluator.
type Config struct {
	PassThreshold   int             `yaml:"pass_threshold"`
	MinLiquidityUSD decimal.Decimal `yaml:"min_liquidity_usd"`
	MaxTaxPct       decimal.Decimal `yaml:"max_tax_pct"`
	CacheTTL        time.Duration   `yaml:"cache_ttl"`
	ProviderTimeout time.Duration   `yaml:"provider_timeout"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		PassThreshold:   70,
		MinLiquidityUSD: decimal.NewFromInt(5000),
		MaxTaxPct:       decimal.NewFromInt(5),
		CacheTTL:        5 * time.Minute,
		ProviderTimeout: 10 * time.Second,
	}
}

// Evaluator renders risk verdicts.
type Evaluator struct {
	config   Config
	security SecurityProvider
	market   MarketProvider
	cache    Cache
	logger   zerolog.Logger

	flight singleflight.Group

	evaluations    atomic.Int64
	cacheHits      atomic.Int64
	providerErrors atomic.Int64
	passed         atomic.Int64
	rejected       atomic.Int64
}

// NewEvaluator creates an evaluator. A nil cache means an in-memory cache
// with config.CacheTTL.
func NewEvaluator(config Config, security SecurityProvider, market MarketProvider, cache Cache, logger zerolog.Logger) *Evaluator {
	if config.ProviderTimeout == 0 {
		config.ProviderTimeout = 10 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache(config.CacheTTL)
	}
	return &Evaluator{
		config:   config,
		security: security,
		market:   market,
		cache:    cache,
		logger:   logger.With().Str("component", "risk").Logger(),
	}
}

// Evaluate returns the verdict for mint. A cached verdict within TTL is
// returned without any provider call; concurrent calls for the same mint
// share one evaluation.
//
// The shared evaluation is detached from the caller's cancellation (each
// provider call is still bounded by ProviderTimeout), so one caller giving
// up cannot cache a degraded verdict for everyone else. A caller whose
// context ends first gets an uncached verdict with no provider data.
func (e *Evaluator) Evaluate(ctx context.Context, mint solana.Pubkey) *Verdict {
	if v, ok := e.cache.Get(ctx, mint); ok {
		e.cacheHits.Add(1)
		return v
	}

	detached := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(string(mint), func() (any, error) {
		if v, ok := e.cache.Get(detached, mint); ok {
			e.cacheHits.Add(1)
			return v, nil
		}
		v := e.evaluate(detached, mint)
		e.cache.Set(detached, v)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Verdict)
	case <-ctx.Done():
		e.logger.Debug().Err(ctx.Err()).Str("mint", mint.Short()).Msg("risk: caller gave up before verdict")
		return e.verdict(mint, nil, nil)
	}
}

// verdict scores whatever provider data is available.
func (e *Evaluator) verdict(mint solana.Pubkey, security *SecurityData, market *MarketData) *Verdict {
	v := &Verdict{
		Mint:        mint,
		Risks:       []string{},
		Warnings:    []string{},
		Security:    security,
		Market:      market,
		EvaluatedAt: time.Now(),
	}
	score(v, checkInput{security: security, market: market, config: e.config})
	return v
}

func (e *Evaluator) evaluate(ctx context.Context, mint solana.Pubkey) *Verdict {
	e.evaluations.Add(1)
	start := time.Now()

	var (
		security *SecurityData
		market   *MarketData
		g        errgroup.Group
	)
	if e.security != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
			defer cancel()
			data, err := e.security.TokenSecurity(callCtx, mint)
			if err != nil {
				e.providerErrors.Add(1)
				e.logger.Warn().Err(err).Str("mint", mint.Short()).Msg("risk: security provider failed")
				return nil
			}
			security = data
			return nil
		})
	}
	if e.market != nil {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
			defer cancel()
			data, err := e.market.MarketData(callCtx, mint)
			if err != nil {
				e.providerErrors.Add(1)
				e.logger.Warn().Err(err).Str("mint", mint.Short()).Msg("risk: market provider failed")
				return nil
			}
			market = data
			return nil
		})
	}
	g.Wait()

	v := e.verdict(mint, security, market)
	if v.Passed {
		e.passed.Add(1)
	} else {
		e.rejected.Add(1)
	}

	e.logger.Info().
		Str("mint", mint.Short()).
		Int("score", v.Score).
		Bool("passed", v.Passed).
		Strs("risks", v.Risks).
		Strs("warnings", v.Warnings).
		Dur("took", time.Since(start)).
		Msg("risk: evaluated")
	return v
}

// EvaluatorStats returns evaluator statistics.
type EvaluatorStats struct {
	Evaluations    int64 `json:"evaluations"`
	CacheHits      int64 `json:"cache_hits"`
	ProviderErrors int64 `json:"provider_errors"`
	Passed         int64 `json:"passed"`
	Rejected       int64 `json:"rejected"`
}

func (e *Evaluator) Stats() EvaluatorStats {
	return EvaluatorStats{
		Evaluations:    e.evaluations.Load(),
		CacheHits:      e.cacheHits.Load(),
		ProviderErrors: e.providerErrors.Load(),
		Passed:         e.passed.Load(),
		Rejected:       e.rejected.Load(),
	}
}

package sniper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position Manager — re-prices open positions on a timer and fires exits
// ---------------------------------------------------------------------------

// Trader is the slice of the execution engine the manager drives.
type Trader interface {
	GetPositions() []execution.Position
	QuoteValue(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
	RecordValue(mint solana.Pubkey, value decimal.Decimal) (execution.Position, bool)
	MarkFirstTargetHit(mint solana.Pubkey)
	Sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal) execution.SellResult
}

// Config configures the position manager.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	QuoteTimeout time.Duration `yaml:"quote_timeout"`
	Exits        ExitConfig    `yaml:"exits"`
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		QuoteTimeout: 10 * time.Second,
		Exits:        DefaultExitConfig(),
	}
}

// Manager evaluates every open position each PollInterval. Each position is
// evaluated in its own goroutine; a position still being evaluated from a
// previous tick is skipped.
type Manager struct {
	config Config
	trader Trader
	exits  *ExitEngine
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[solana.Pubkey]bool
	wg       sync.WaitGroup

	cycles        atomic.Int64
	evaluations   atomic.Int64
	quoteFailures atomic.Int64
	exitsFired    atomic.Int64
	sellFailures  atomic.Int64
	panics        atomic.Int64
}

// NewManager creates a position manager.
func NewManager(config Config, trader Trader, logger zerolog.Logger) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.QuoteTimeout <= 0 {
		config.QuoteTimeout = 10 * time.Second
	}
	return &Manager{
		config:   config,
		trader:   trader,
		exits:    NewExitEngine(config.Exits),
		logger:   logger.With().Str("component", "positions").Logger(),
		now:      time.Now,
		inflight: make(map[solana.Pubkey]bool),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight evaluations.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info().Dur("interval", m.config.PollInterval).Msg("positions: monitor started")

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()
	defer m.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("positions: monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick starts one evaluation cycle without waiting for it to finish.
func (m *Manager) Tick(ctx context.Context) {
	m.cycles.Add(1)
	for _, pos := range m.trader.GetPositions() {
		if !m.claim(pos.Mint) {
			continue
		}
		m.wg.Add(1)
		go func(mint solana.Pubkey) {
			defer m.wg.Done()
			defer m.unclaim(mint)
			m.evaluateSafe(ctx, mint)
		}(pos.Mint)
	}
}

// Wait blocks until all evaluations started by Tick have returned.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) claim(mint solana.Pubkey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[mint] {
		return false
	}
	m.inflight[mint] = true
	return true
}

func (m *Manager) unclaim(mint solana.Pubkey) {
	m.mu.Lock()
	delete(m.inflight, mint)
	m.mu.Unlock()
}

func (m *Manager) evaluateSafe(ctx context.Context, mint solana.Pubkey) {
	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			m.logger.Error().
				Str("mint", mint.Short()).
				Str("panic", fmt.Sprint(r)).
				Msg("positions: evaluation panicked")
		}
	}()
	m.evaluate(ctx, mint)
}

// evaluate re-prices one position and executes at most one exit.
func (m *Manager) evaluate(ctx context.Context, mint solana.Pubkey) {
	m.evaluations.Add(1)

	quoteCtx, cancel := context.WithTimeout(ctx, m.config.QuoteTimeout)
	value, err := m.trader.QuoteValue(quoteCtx, mint)
	cancel()
	if err != nil {
		m.quoteFailures.Add(1)
		m.logger.Debug().Err(err).Str("mint", mint.Short()).Msg("positions: quote failed, skipping")
		return
	}

	pos, ok := m.trader.RecordValue(mint, value)
	if !ok {
		return // closed while quoting
	}

	decision := m.exits.Evaluate(pos, m.now())
	if !decision.ShouldSell {
		return
	}

	m.logger.Info().
		Str("pos_id", pos.ID).
		Str("mint", mint.Short()).
		Str("reason", decision.Reason).
		Str("sell_pct", decision.SellPct.String()).
		Str("multiple", pos.Multiple().StringFixed(3)).
		Str("peak", pos.PeakValue.String()).
		Msg("positions: exit triggered")

	res := m.trader.Sell(ctx, mint, decision.SellPct)
	if !res.Success {
		m.sellFailures.Add(1)
		m.logger.Error().
			Str("pos_id", pos.ID).
			Str("reason", decision.Reason).
			Str("error", res.Error).
			Msg("positions: exit sell failed")
		return
	}
	m.exitsFired.Add(1)

	if decision.Reason == ReasonFirstTarget {
		m.trader.MarkFirstTargetHit(mint)
	}
}

// ManagerStats returns position manager statistics.
type ManagerStats struct {
	Cycles        int64 `json:"cycles"`
	Evaluations   int64 `json:"evaluations"`
	QuoteFailures int64 `json:"quote_failures"`
	Exits         int64 `json:"exits"`
	SellFailures  int64 `json:"sell_failures"`
	Panics        int64 `json:"panics"`
}

func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Cycles:        m.cycles.Load(),
		Evaluations:   m.evaluations.Load(),
		QuoteFailures: m.quoteFailures.Load(),
		Exits:         m.exitsFired.Load(),
		SellFailures:  m.sellFailures.Load(),
		Panics:        m.panics.Load(),
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/dedup"
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Hunter — stream → detect → risk → execute, with position monitoring
// ---------------------------------------------------------------------------

// EventSource is a reconnecting transaction stream.
type EventSource interface {
	Run(ctx context.Context) error
	Events() <-chan solana.StreamEvent
	Stop()
}

// Evaluator renders risk verdicts.
type Evaluator interface {
	Evaluate(ctx context.Context, mint solana.Pubkey) *risk.Verdict
}

// Executor buys and sells.
type Executor interface {
	Buy(ctx context.Context, mint solana.Pubkey, amountSOL decimal.Decimal) execution.BuyResult
	Sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal) execution.SellResult
	GetPositions() []execution.Position
	GetTotalPnL() decimal.Decimal
}

// Monitor manages open positions until ctx is cancelled.
type Monitor interface {
	Run(ctx context.Context)
}

// Config configures the pipeline.
type Config struct {
	AutoBuy         bool            `yaml:"auto_buy"`
	DefaultBuySOL   decimal.Decimal `yaml:"default_buy_sol"`
	CopyTrade       bool            `yaml:"copy_trade"`
	DedupCapacity   int             `yaml:"dedup_capacity"`
	EvaluateTimeout time.Duration   `yaml:"evaluate_timeout"`
}

// Deps are the components the hunter wires together. CopyStream, Swaps and
// Wallets may be nil when copy trading is off.
type Deps struct {
	LaunchStream EventSource
	CopyStream   EventSource
	Launches     *detect.LaunchDetector
	Swaps        *detect.SwapDetector
	Wallets      *copytrade.Tracker
	Risk         Evaluator
	Engine       Executor
	Monitor      Monitor
}

const (
	launchPrefix = "launch:"
	copyPrefix   = "copy:"
)

var hundred = decimal.NewFromInt(100)

// Hunter is the orchestrator. Each stream and the position monitor run in
// their own goroutine; a fatal stream error is reported and leaves the
// others running.
type Hunter struct {
	config   Config
	deps     Deps
	observer Observer
	seen     *dedup.Window
	logger   zerolog.Logger

	paused atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup // streams, consumers, monitor
	work   sync.WaitGroup // per-event handlers

	launchEvents atomic.Int64
	copyEvents   atomic.Int64
	duplicates   atomic.Int64
	launches     atomic.Int64
	copyTrades   atomic.Int64
	autoBuys     atomic.Int64
	riskRejected atomic.Int64
	buyFailures  atomic.Int64
	copySells    atomic.Int64
	fatalErrors  atomic.Int64
}

// New creates a hunter. observer may be nil.
func New(config Config, deps Deps, observer Observer, logger zerolog.Logger) *Hunter {
	if config.EvaluateTimeout <= 0 {
		config.EvaluateTimeout = 30 * time.Second
	}
	logger = logger.With().Str("component", "pipeline").Logger()
	if observer == nil {
		observer = LogObserver{Logger: logger}
	}
	return &Hunter{
		config:   config,
		deps:     deps,
		observer: observer,
		seen:     dedup.NewWindow(config.DedupCapacity),
		logger:   logger,
	}
}

// Run starts every component and blocks until ctx is cancelled or Stop is
// called. It returns after all goroutines have exited.
func (h *Hunter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	if h.deps.Monitor != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.deps.Monitor.Run(ctx)
		}()
	}

	if h.deps.LaunchStream != nil && h.deps.Launches != nil {
		h.startStream(ctx, "launch", h.deps.LaunchStream, h.handleLaunchEvent)
	}
	if h.config.CopyTrade && h.deps.CopyStream != nil && h.deps.Swaps != nil {
		h.startStream(ctx, "copy", h.deps.CopyStream, h.handleCopyEvent)
	}

	h.logger.Info().
		Bool("auto_buy", h.config.AutoBuy).
		Bool("copy_trade", h.config.CopyTrade).
		Str("default_buy_sol", h.config.DefaultBuySOL.String()).
		Msg("pipeline: running")

	<-ctx.Done()

	for _, s := range []EventSource{h.deps.LaunchStream, h.deps.CopyStream} {
		if s != nil {
			s.Stop()
		}
	}
	h.wg.Wait()
	h.work.Wait()

	h.logger.Info().Msg("pipeline: stopped")
	return nil
}

// startStream runs src and a consumer of its events.
func (h *Hunter) startStream(ctx context.Context, name string, src EventSource, handle func(context.Context, solana.StreamEvent)) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := src.Run(ctx); err != nil {
			h.fatalErrors.Add(1)
			h.observer.OnFatalError(fmt.Errorf("pipeline: %s stream: %w", name, err))
		}
	}()
	go func() {
		defer h.wg.Done()
		for ev := range src.Events() {
			handle(ctx, ev)
		}
	}()
}

// Stop cancels Run. Safe to call more than once.
func (h *Hunter) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause stops new entries; open positions keep being managed.
func (h *Hunter) Pause() {
	h.paused.Store(true)
	h.logger.Warn().Msg("pipeline: PAUSED (no new entries)")
}

// Resume re-enables entries.
func (h *Hunter) Resume() {
	h.paused.Store(false)
	h.logger.Info().Msg("pipeline: resumed")
}

// Paused reports whether entries are paused.
func (h *Hunter) Paused() bool { return h.paused.Load() }

// ---------------------------------------------------------------------------
// Event handling
// ---------------------------------------------------------------------------

func (h *Hunter) handleLaunchEvent(ctx context.Context, ev solana.StreamEvent) {
	h.launchEvents.Add(1)
	if h.seen.Seen(launchPrefix + string(ev.Signature)) {
		h.duplicates.Add(1)
		return
	}
	c := h.deps.Launches.Detect(&ev)
	if c == nil {
		return
	}
	h.launches.Add(1)
	h.observer.OnLaunchDetected(*c)

	if !h.config.AutoBuy || h.paused.Load() || h.deps.Risk == nil {
		return
	}
	h.spawn(func() { h.evaluateAndBuy(ctx, *c) })
}

func (h *Hunter) evaluateAndBuy(ctx context.Context, c detect.LaunchCandidate) {
	evalCtx, cancel := context.WithTimeout(ctx, h.config.EvaluateTimeout)
	verdict := h.deps.Risk.Evaluate(evalCtx, c.Mint)
	cancel()
	h.observer.OnRiskVerdict(verdict)

	if !verdict.Passed {
		h.riskRejected.Add(1)
		h.logger.Info().
			Str("mint", c.Mint.Short()).
			Int("score", verdict.Score).
			Strs("risks", verdict.Risks).
			Msg("pipeline: launch rejected by risk")
		return
	}

	res := h.deps.Engine.Buy(ctx, c.Mint, h.config.DefaultBuySOL)
	h.observer.OnBuy(OriginLaunch, res)
	if !res.Success {
		h.buyFailures.Add(1)
		h.logger.Warn().Str("mint", c.Mint.Short()).Str("error", res.Error).Msg("pipeline: auto-buy failed")
		return
	}
	h.autoBuys.Add(1)
}

func (h *Hunter) handleCopyEvent(ctx context.Context, ev solana.StreamEvent) {
	h.copyEvents.Add(1)
	if h.seen.Seen(copyPrefix + string(ev.Signature)) {
		h.duplicates.Add(1)
		return
	}
	c := h.deps.Swaps.Detect(&ev)
	if c == nil {
		return
	}
	h.copyTrades.Add(1)
	if h.deps.Wallets != nil {
		h.deps.Wallets.Record(*c)
	}
	h.observer.OnCopyTradeDetected(*c)

	switch c.Direction {
	case detect.DirectionBuy:
		if h.paused.Load() {
			return
		}
		h.spawn(func() { h.copyBuy(ctx, *c) })
	case detect.DirectionSell:
		if !h.holds(c.Mint) {
			return
		}
		h.spawn(func() { h.copySell(ctx, *c) })
	}
}

func (h *Hunter) copyBuy(ctx context.Context, c detect.CopyEvent) {
	res := h.deps.Engine.Buy(ctx, c.Mint, h.config.DefaultBuySOL)
	h.observer.OnBuy(OriginCopy, res)
	if !res.Success {
		h.buyFailures.Add(1)
		h.logger.Warn().
			Str("wallet", c.Wallet.Short()).
			Str("mint", c.Mint.Short()).
			Str("error", res.Error).
			Msg("pipeline: copy buy failed")
		return
	}
	h.autoBuys.Add(1)
}

func (h *Hunter) copySell(ctx context.Context, c detect.CopyEvent) {
	res := h.deps.Engine.Sell(ctx, c.Mint, hundred)
	h.observer.OnSell(OriginCopy, res)
	if !res.Success {
		h.logger.Warn().
			Str("wallet", c.Wallet.Short()).
			Str("mint", c.Mint.Short()).
			Str("error", res.Error).
			Msg("pipeline: copy sell failed")
		return
	}
	h.copySells.Add(1)
}

func (h *Hunter) holds(mint solana.Pubkey) bool {
	for _, p := range h.deps.Engine.GetPositions() {
		if p.Mint == mint {
			return true
		}
	}
	return false
}

func (h *Hunter) spawn(fn func()) {
	h.work.Add(1)
	go func() {
		defer h.work.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error().Str("panic", fmt.Sprint(r)).Msg("pipeline: handler panicked")
			}
		}()
		fn()
	}()
}

// ---------------------------------------------------------------------------
// Trading surface
// ---------------------------------------------------------------------------

// Buy spends amountSOL on mint.
func (h *Hunter) Buy(ctx context.Context, mint solana.Pubkey, amountSOL decimal.Decimal) execution.BuyResult {
	res := h.deps.Engine.Buy(ctx, mint, amountSOL)
	h.observer.OnBuy(OriginManual, res)
	return res
}

// Sell sells percent of the position in mint.
func (h *Hunter) Sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal) execution.SellResult {
	res := h.deps.Engine.Sell(ctx, mint, percent)
	h.observer.OnSell(OriginManual, res)
	return res
}

// GetPositions returns open positions.
func (h *Hunter) GetPositions() []execution.Position { return h.deps.Engine.GetPositions() }

// GetTotalPnL returns realized profit in SOL.
func (h *Hunter) GetTotalPnL() decimal.Decimal { return h.deps.Engine.GetTotalPnL() }

// CloseAll sells every open position in full. It returns the number of
// positions that could not be closed.
func (h *Hunter) CloseAll(ctx context.Context) int {
	failed := 0
	for _, pos := range h.deps.Engine.GetPositions() {
		res := h.deps.Engine.Sell(ctx, pos.Mint, hundred)
		h.observer.OnSell(OriginForceClose, res)
		if !res.Success {
			failed++
			h.logger.Error().
				Str("mint", pos.Mint.Short()).
				Str("error", res.Error).
				Msg("pipeline: force close failed")
		}
	}
	return failed
}

// Stats returns pipeline statistics.
type Stats struct {
	LaunchEvents int64  `json:"launch_events"`
	CopyEvents   int64  `json:"copy_events"`
	Duplicates   int64  `json:"duplicates"`
	Launches     int64  `json:"launches"`
	CopyTrades   int64  `json:"copy_trades"`
	AutoBuys     int64  `json:"auto_buys"`
	RiskRejected int64  `json:"risk_rejected"`
	BuyFailures  int64  `json:"buy_failures"`
	CopySells    int64  `json:"copy_sells"`
	FatalErrors  int64  `json:"fatal_errors"`
	DedupSize    int    `json:"dedup_size"`
	DedupEvicted uint64 `json:"dedup_evicted"`
	Paused       bool   `json:"paused"`
}

func (h *Hunter) Stats() Stats {
	return Stats{
		LaunchEvents: h.launchEvents.Load(),
		CopyEvents:   h.copyEvents.Load(),
		Duplicates:   h.duplicates.Load(),
		Launches:     h.launches.Load(),
		CopyTrades:   h.copyTrades.Load(),
		AutoBuys:     h.autoBuys.Load(),
		RiskRejected: h.riskRejected.Load(),
		BuyFailures:  h.buyFailures.Load(),
		CopySells:    h.copySells.Load(),
		FatalErrors:  h.fatalErrors.Load(),
		DedupSize:    h.seen.Len(),
		DedupEvicted: h.seen.Evicted(),
		Paused:       h.paused.Load(),
	}
}

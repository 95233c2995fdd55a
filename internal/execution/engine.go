package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/hunter/internal/adapters/jupiter"
	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Execution Engine — buy/sell through one retried quote→build→sign→send→confirm
// ---------------------------------------------------------------------------

var (
	ErrInvalidAddress      = errors.New("execution: invalid asset address")
	ErrInvalidAmount       = errors.New("execution: amount must be positive")
	ErrAmountExceedsMax    = errors.New("execution: amount exceeds max buy")
	ErrInsufficientBalance = errors.New("execution: insufficient balance")
	ErrPositionExists      = errors.New("execution: position already exists")
	ErrPositionBusy        = errors.New("execution: swap already in flight for asset")
	ErrNoPosition          = errors.New("execution: no position for asset")
	ErrInvalidPercent      = errors.New("execution: percent must be in (0, 100]")
	ErrNoRoute             = errors.New("execution: no route")
	ErrTxFailed            = errors.New("execution: transaction failed")
)

var hundred = decimal.NewFromInt(100)

// Router is the swap-routing service.
type Router interface {
	GetQuote(ctx context.Context, params jupiter.QuoteParams) (*jupiter.Quote, error)
	BuildSwap(ctx context.Context, quote *jupiter.Quote, user solana.Pubkey, priorityFee uint64) (string, error)
}

// Chain submits and confirms transactions.
type Chain interface {
	GetBalance(ctx context.Context, wallet solana.Pubkey) (decimal.Decimal, error)
	SendTransaction(ctx context.Context, txBase64 string) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, commitment string) error
}

// Signer is the wallet.
type Signer interface {
	PublicKey() solana.Pubkey
	SignTransaction(tx []byte) ([]byte, solana.Signature, error)
}

// FeeHint supplies the priority fee passed to the router.
type FeeHint interface {
	EstimateFee() uint64
}

// Config configures the engine.
type Config struct {
	MaxBuySOL    decimal.Decimal   `yaml:"max_buy_sol"`
	FeeBufferSOL decimal.Decimal   `yaml:"fee_buffer_sol"`
	SlippageBps  int               `yaml:"slippage_bps"`
	PriorityFee  uint64            `yaml:"priority_fee"` // used when no FeeHint is set
	Commitment   string            `yaml:"commitment"`
	Retry        resilience.Policy `yaml:"retry"`
	DryRun       bool              `yaml:"dry_run"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxBuySOL:    decimal.NewFromFloat(0.1),
		FeeBufferSOL: decimal.NewFromFloat(0.01),
		SlippageBps:  300,
		PriorityFee:  100_000,
		Commitment:   solana.CommitmentConfirmed,
		Retry:        resilience.Policy{MaxAttempts: 3, BaseDelay: time.Second},
		DryRun:       true,
	}
}

// BuyResult is the outcome of a buy. Error is set when Success is false.
type BuyResult struct {
	Success      bool             `json:"success"`
	Mint         solana.Pubkey    `json:"mint"`
	Signature    solana.Signature `json:"signature,omitempty"`
	InputSOL     decimal.Decimal  `json:"input_sol"`
	OutputAmount decimal.Decimal  `json:"output_amount"` // raw token units
	Error        string           `json:"error,omitempty"`
	Err          error            `json:"-"`
}

// SellResult is the outcome of a sell. Error is set when Success is false.
type SellResult struct {
	Success       bool             `json:"success"`
	Mint          solana.Pubkey    `json:"mint"`
	Signature     solana.Signature `json:"signature,omitempty"`
	Percent       decimal.Decimal  `json:"percent"`
	AssetSold     decimal.Decimal  `json:"asset_sold"`
	BaseReceived  decimal.Decimal  `json:"base_received"`
	Profit        decimal.Decimal  `json:"profit"`
	ProfitPercent decimal.Decimal  `json:"profit_percent"`
	Error         string           `json:"error,omitempty"`
	Err           error            `json:"-"`
}

// Engine executes swaps and owns the position book and trade ledger.
// Buy and Sell are safe for concurrent use; concurrent swaps of the same
// asset are rejected with ErrPositionBusy.
type Engine struct {
	config Config
	router Router
	chain  Chain
	signer Signer
	fees   FeeHint
	book   *Book
	ledger *Ledger
	logger zerolog.Logger

	buys          atomic.Int64
	sells         atomic.Int64
	swapsExecuted atomic.Int64
	swapsFailed   atomic.Int64
	rejected      atomic.Int64
}

// NewEngine creates an engine. fees may be nil.
func NewEngine(config Config, router Router, chain Chain, signer Signer, fees FeeHint, logger zerolog.Logger) *Engine {
	if config.Commitment == "" {
		config.Commitment = solana.CommitmentConfirmed
	}
	return &Engine{
		config: config,
		router: router,
		chain:  chain,
		signer: signer,
		fees:   fees,
		book:   NewBook(),
		ledger: NewLedger(),
		logger: logger.With().Str("component", "execution").Logger(),
	}
}

// Book returns the engine's position book.
func (e *Engine) Book() *Book { return e.book }

// Ledger returns the engine's trade ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// GetPositions returns all open positions.
func (e *Engine) GetPositions() []Position { return e.book.All() }

// GetTotalPnL returns realized profit in SOL.
func (e *Engine) GetTotalPnL() decimal.Decimal { return e.ledger.TotalPnL() }

// RecordValue forwards a re-priced value to the book.
func (e *Engine) RecordValue(mint solana.Pubkey, value decimal.Decimal) (Position, bool) {
	return e.book.RecordValue(mint, value)
}

// MarkFirstTargetHit flags the position's first profit target as taken.
func (e *Engine) MarkFirstTargetHit(mint solana.Pubkey) { e.book.MarkFirstTargetHit(mint) }

// ---------------------------------------------------------------------------
// Buy
// ---------------------------------------------------------------------------

// Buy spends amountSOL on mint. Validation happens before any network call.
func (e *Engine) Buy(ctx context.Context, mint solana.Pubkey, amountSOL decimal.Decimal) BuyResult {
	res := BuyResult{Mint: mint, InputSOL: amountSOL}
	if err := e.buy(ctx, mint, amountSOL, &res); err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (e *Engine) buy(ctx context.Context, mint solana.Pubkey, amountSOL decimal.Decimal, res *BuyResult) error {
	if _, err := solana.ParsePubkey(string(mint)); err != nil {
		return e.reject(fmt.Errorf("%w: %v", ErrInvalidAddress, err))
	}
	if !amountSOL.IsPositive() {
		return e.reject(ErrInvalidAmount)
	}
	if amountSOL.GreaterThan(e.config.MaxBuySOL) {
		return e.reject(fmt.Errorf("%w: %s > %s SOL", ErrAmountExceedsMax, amountSOL, e.config.MaxBuySOL))
	}
	if err := e.book.reserve(mint); err != nil {
		return e.reject(err)
	}

	opened := false
	defer func() {
		if !opened {
			e.book.release(mint)
		}
	}()

	if !e.config.DryRun {
		balance, err := e.chain.GetBalance(ctx, e.signer.PublicKey())
		if err != nil {
			return fmt.Errorf("execution: get balance: %w", err)
		}
		need := amountSOL.Add(e.config.FeeBufferSOL)
		if balance.LessThan(need) {
			return e.reject(fmt.Errorf("%w: have %s, need %s SOL", ErrInsufficientBalance, balance, need))
		}
	}

	e.logger.Info().
		Str("mint", mint.Short()).
		Str("sol", amountSOL.String()).
		Bool("dry_run", e.config.DryRun).
		Msg("execution: EXECUTING BUY")

	swap, err := e.executeSwap(ctx, solana.SOLMint, mint, solana.SOLToLamports(amountSOL))
	if err != nil {
		e.logger.Error().Err(err).Str("mint", mint.Short()).Msg("execution: buy FAILED")
		return err
	}

	now := time.Now()
	out := decimal.NewFromUint64(swap.outAmount)
	pos := &Position{
		ID:           uuid.New().String()[:12],
		Mint:         mint,
		EntryBase:    amountSOL,
		EntryAsset:   out,
		EntryTime:    now,
		Signature:    swap.signature,
		PeakValue:    amountSOL,
		CurrentValue: amountSOL,
		UpdatedAt:    now,
	}
	if out.IsPositive() {
		pos.EntryPrice = amountSOL.Div(out)
	}
	e.book.open(pos)
	opened = true

	e.ledger.Append(TradeRecord{
		ID:          uuid.New().String(),
		Type:        TradeBuy,
		Mint:        mint,
		BaseAmount:  amountSOL,
		AssetAmount: out,
		Signature:   swap.signature,
		Timestamp:   now,
	})
	e.buys.Add(1)

	res.Signature = swap.signature
	res.OutputAmount = out

	e.logger.Info().
		Str("pos_id", pos.ID).
		Str("mint", mint.Short()).
		Str("amount", out.String()).
		Str("sig", swap.signature.Short()).
		Msg("execution: position OPENED")
	return nil
}

// ---------------------------------------------------------------------------
// Sell
// ---------------------------------------------------------------------------

// Sell sells percent (0 < percent <= 100) of the position in mint.
func (e *Engine) Sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal) SellResult {
	res := SellResult{Mint: mint, Percent: percent}
	if err := e.sell(ctx, mint, percent, &res); err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (e *Engine) sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal, res *SellResult) error {
	if !percent.IsPositive() || percent.GreaterThan(hundred) {
		return e.reject(fmt.Errorf("%w: %s", ErrInvalidPercent, percent))
	}
	pos, err := e.book.acquire(mint)
	if err != nil {
		return e.reject(err)
	}

	done := false
	defer func() {
		if !done {
			e.book.release(mint)
		}
	}()

	fraction := percent.Div(hundred)
	amount := pos.EntryAsset
	if percent.LessThan(hundred) {
		amount = pos.EntryAsset.Mul(fraction).Truncate(0)
	}
	if !amount.IsPositive() {
		return e.reject(fmt.Errorf("%w: nothing to sell", ErrInvalidAmount))
	}

	e.logger.Info().
		Str("pos_id", pos.ID).
		Str("mint", mint.Short()).
		Str("percent", percent.String()).
		Str("amount", amount.String()).
		Bool("dry_run", e.config.DryRun).
		Msg("execution: EXECUTING SELL")

	swap, err := e.executeSwap(ctx, mint, solana.SOLMint, amount.BigInt().Uint64())
	if err != nil {
		e.logger.Error().Err(err).Str("pos_id", pos.ID).Msg("execution: sell FAILED")
		return err
	}

	received := solana.LamportsToSOL(decimal.NewFromUint64(swap.outAmount))
	cost := pos.EntryBase.Mul(fraction)
	profit := received.Sub(cost)
	profitPct := decimal.Zero
	if cost.IsPositive() {
		profitPct = profit.Div(cost).Mul(hundred)
	}

	sold := decimal.NewFromUint64(swap.inAmount)
	remaining, open := e.book.reduce(mint, percent, sold)
	done = true

	e.ledger.Append(TradeRecord{
		ID:          uuid.New().String(),
		Type:        TradeSell,
		Mint:        mint,
		BaseAmount:  received,
		AssetAmount: sold,
		Profit:      profit,
		Signature:   swap.signature,
		Timestamp:   time.Now(),
	})
	e.sells.Add(1)

	res.Signature = swap.signature
	res.AssetSold = sold
	res.BaseReceived = received
	res.Profit = profit
	res.ProfitPercent = profitPct

	ev := e.logger.Info().
		Str("pos_id", pos.ID).
		Str("mint", mint.Short()).
		Str("received_sol", received.StringFixed(6)).
		Str("profit_sol", profit.StringFixed(6)).
		Str("profit_pct", profitPct.StringFixed(2)).
		Str("sig", swap.signature.Short())
	if open {
		ev.Str("remaining", remaining.EntryAsset.String()).Msg("execution: partial sell completed")
	} else {
		ev.Msg("execution: position CLOSED")
	}
	return nil
}

// QuoteValue prices the full current holding of mint in SOL.
func (e *Engine) QuoteValue(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	pos, ok := e.book.Get(mint)
	if !ok {
		return decimal.Zero, ErrNoPosition
	}
	if !pos.EntryAsset.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: empty holding", ErrNoRoute)
	}
	quote, err := e.router.GetQuote(ctx, jupiter.QuoteParams{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		Amount:      pos.EntryAsset.BigInt().Uint64(),
		SlippageBps: e.config.SlippageBps,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: quote value: %w", err)
	}
	if !quote.HasRoute() {
		return decimal.Zero, ErrNoRoute
	}
	out, err := quote.OutAmountRaw()
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: parse out amount: %w", err)
	}
	return solana.LamportsToSOL(decimal.NewFromUint64(out)), nil
}

// ---------------------------------------------------------------------------
// executeSwap
// ---------------------------------------------------------------------------

type swapResult struct {
	signature solana.Signature
	inAmount  uint64
	outAmount uint64
}

// executeSwap runs quote→build→sign→send→confirm under the retry policy.
// Missing routes and malformed router output are not retried.
func (e *Engine) executeSwap(ctx context.Context, input, output solana.Pubkey, amount uint64) (swapResult, error) {
	var (
		res     swapResult
		attempt int
	)
	err := e.config.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		r, err := e.swapOnce(ctx, input, output, amount)
		if err != nil {
			e.logger.Warn().Err(err).
				Int("attempt", attempt).
				Bool("permanent", resilience.IsPermanent(err)).
				Str("in", input.Short()).
				Str("out", output.Short()).
				Msg("execution: swap attempt failed")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		e.swapsFailed.Add(1)
		return swapResult{}, err
	}
	e.swapsExecuted.Add(1)
	return res, nil
}

func (e *Engine) swapOnce(ctx context.Context, input, output solana.Pubkey, amount uint64) (swapResult, error) {
	quote, err := e.router.GetQuote(ctx, jupiter.QuoteParams{
		InputMint:   input,
		OutputMint:  output,
		Amount:      amount,
		SlippageBps: e.config.SlippageBps,
	})
	if errors.Is(err, jupiter.ErrRouteNotFound) {
		return swapResult{}, resilience.Permanent(fmt.Errorf("%w: %w", ErrNoRoute, err))
	}
	if err != nil {
		return swapResult{}, fmt.Errorf("execution: quote: %w", err)
	}
	if !quote.HasRoute() {
		return swapResult{}, resilience.Permanent(fmt.Errorf("%w: %s -> %s", ErrNoRoute, input.Short(), output.Short()))
	}
	out, err := quote.OutAmountRaw()
	if err != nil {
		return swapResult{}, resilience.Permanent(fmt.Errorf("execution: parse out amount %q: %w", quote.OutAmount, err))
	}
	in, err := quote.InAmountRaw()
	if err != nil || in == 0 {
		in = amount
	}
	res := swapResult{inAmount: in, outAmount: out}

	if e.config.DryRun {
		res.signature = solana.Signature("DRYRUN-" + uuid.New().String())
		e.logger.Info().
			Str("route", quote.Route()).
			Uint64("out", out).
			Msg("execution: DRY RUN swap (no real transaction)")
		return res, nil
	}

	fee := e.config.PriorityFee
	if e.fees != nil {
		fee = e.fees.EstimateFee()
	}
	txB64, err := e.router.BuildSwap(ctx, quote, e.signer.PublicKey(), fee)
	if err != nil {
		return swapResult{}, fmt.Errorf("execution: build swap: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return swapResult{}, resilience.Permanent(fmt.Errorf("execution: decode transaction: %w", err))
	}
	signed, _, err := e.signer.SignTransaction(raw)
	if err != nil {
		return swapResult{}, resilience.Permanent(fmt.Errorf("execution: sign: %w", err))
	}
	sig, err := e.chain.SendTransaction(ctx, base64.StdEncoding.EncodeToString(signed))
	if err != nil {
		return swapResult{}, fmt.Errorf("execution: send: %w", err)
	}
	if err := e.chain.ConfirmTransaction(ctx, sig, e.config.Commitment); err != nil {
		if errors.Is(err, solana.ErrTxFailed) {
			return swapResult{}, fmt.Errorf("%w: %w", ErrTxFailed, err)
		}
		return swapResult{}, fmt.Errorf("execution: confirm %s: %w", sig.Short(), err)
	}
	res.signature = sig
	return res, nil
}

func (e *Engine) reject(err error) error {
	e.rejected.Add(1)
	e.logger.Warn().Err(err).Msg("execution: rejected")
	return err
}

// EngineStats returns execution statistics.
type EngineStats struct {
	Buys          int64  `json:"buys"`
	Sells         int64  `json:"sells"`
	SwapsExecuted int64  `json:"swaps_executed"`
	SwapsFailed   int64  `json:"swaps_failed"`
	Rejected      int64  `json:"rejected"`
	OpenPositions int    `json:"open_positions"`
	TotalPnL      string `json:"total_pnl_sol"`
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Buys:          e.buys.Load(),
		Sells:         e.sells.Load(),
		SwapsExecuted: e.swapsExecuted.Load(),
		SwapsFailed:   e.swapsFailed.Load(),
		Rejected:      e.rejected.Load(),
		OpenPositions: e.book.Len(),
		TotalPnL:      e.ledger.TotalPnL().String(),
	}
}

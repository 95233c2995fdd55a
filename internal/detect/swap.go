package detect

import (
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SwapDetector turns token-balance deltas of tracked wallets into copy events.
type SwapDetector struct {
	wallets WalletFilter
	logger  zerolog.Logger

	inspected atomic.Int64
	detected  atomic.Int64
}

// NewSwapDetector creates a detector for the given wallet filter.
func NewSwapDetector(wallets WalletFilter, logger zerolog.Logger) *SwapDetector {
	return &SwapDetector{
		wallets: wallets,
		logger:  logger.With().Str("component", "swap_detector").Logger(),
	}
}

// Detect returns the copy event in ev, or nil.
func (d *SwapDetector) Detect(ev *solana.StreamEvent) *CopyEvent {
	d.inspected.Add(1)
	c := DetectSwap(ev, d.wallets)
	if c != nil {
		d.detected.Add(1)
		d.logger.Debug().
			Str("wallet", c.Wallet.Short()).
			Str("mint", c.Mint.Short()).
			Str("direction", c.Direction.String()).
			Str("sig", c.Signature.Short()).
			Msg("swap_detector: tracked trade detected")
	}
	return c
}

func (d *SwapDetector) Stats() DetectorStats {
	return DetectorStats{Inspected: d.inspected.Load(), Detected: d.detected.Load()}
}

type balanceDelta struct {
	owner solana.Pubkey
	mint  solana.Pubkey
	delta decimal.Decimal
}

// DetectSwap computes post - pre per token account, in balance-entry order.
// The first positive delta of a non-SOL asset owned by a tracked wallet is a
// BUY; failing that, the first negative delta is a SELL. Multi-hop swaps can
// be attributed to an intermediate asset.
func DetectSwap(ev *solana.StreamEvent, wallets WalletFilter) *CopyEvent {
	if wallets == nil {
		return nil
	}

	var sell *balanceDelta
	for _, d := range balanceDeltas(ev) {
		d := d
		if d.mint == solana.SOLMint || !wallets.IsTracked(d.owner) {
			continue
		}
		switch d.delta.Sign() {
		case 1:
			return newCopyEvent(ev, d, DirectionBuy)
		case -1:
			if sell == nil {
				sell = &d
			}
		}
	}
	if sell != nil {
		return newCopyEvent(ev, *sell, DirectionSell)
	}
	return nil
}

func newCopyEvent(ev *solana.StreamEvent, d balanceDelta, dir Direction) *CopyEvent {
	return &CopyEvent{
		Wallet:     d.owner,
		Mint:       d.mint,
		Direction:  dir,
		Amount:     d.delta.Abs(),
		Signature:  ev.Signature,
		DetectedAt: time.Now(),
	}
}

// balanceDeltas pairs pre and post entries by account index. Accounts that
// only appear in pre were closed, so their whole pre balance left.
func balanceDeltas(ev *solana.StreamEvent) []balanceDelta {
	pre := make(map[int]solana.TokenBalance, len(ev.PreTokenBalances))
	for _, b := range ev.PreTokenBalances {
		pre[b.AccountIndex] = b
	}

	deltas := make([]balanceDelta, 0, len(ev.PostTokenBalances)+len(ev.PreTokenBalances))
	seen := make(map[int]bool, len(ev.PostTokenBalances))
	for _, post := range ev.PostTokenBalances {
		seen[post.AccountIndex] = true
		before := decimal.Zero
		if p, ok := pre[post.AccountIndex]; ok {
			before = p.Amount
		}
		deltas = append(deltas, balanceDelta{
			owner: post.Owner,
			mint:  post.Mint,
			delta: post.Amount.Sub(before),
		})
	}
	for _, p := range ev.PreTokenBalances {
		if seen[p.AccountIndex] {
			continue
		}
		deltas = append(deltas, balanceDelta{owner: p.Owner, mint: p.Mint, delta: p.Amount.Neg()})
	}
	return deltas
}

package solana

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Dynamic Priority Fees — p75 of recent slots, with a floor and a ceiling.
// Used as the priority-fee hint passed to the swap builder.
// ---------------------------------------------------------------------------

const (
	// MaxPriorityFee is the hard ceiling in micro-lamports per compute unit.
	MaxPriorityFee = 50_000_000

	// FeeRefreshInterval is how often the estimate is refreshed.
	FeeRefreshInterval = 15 * time.Second
)

// FeeSource fetches the current p75 fee.
type FeeSource interface {
	GetRecentPriorityFee(ctx context.Context) (uint64, error)
}

// PriorityFeeEstimator caches a periodically refreshed fee estimate.
type PriorityFeeEstimator struct {
	source   FeeSource
	fallback uint64
	logger   zerolog.Logger

	mu        sync.RWMutex
	p75       uint64
	lastFetch time.Time
}

// NewPriorityFeeEstimator creates an estimator. fallback is returned until a
// non-zero sample has been observed.
func NewPriorityFeeEstimator(source FeeSource, fallback uint64, logger zerolog.Logger) *PriorityFeeEstimator {
	return &PriorityFeeEstimator{
		source:   source,
		fallback: fallback,
		logger:   logger.With().Str("component", "priority_fees").Logger(),
	}
}

// Run refreshes the estimate until ctx is cancelled.
func (e *PriorityFeeEstimator) Run(ctx context.Context) {
	e.Refresh(ctx)

	ticker := time.NewTicker(FeeRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

// Refresh fetches a new sample.
func (e *PriorityFeeEstimator) Refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fee, err := e.source.GetRecentPriorityFee(fetchCtx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("priority_fees: refresh failed")
		return
	}
	if fee == 0 {
		return
	}

	e.mu.Lock()
	e.p75 = fee
	e.lastFetch = time.Now()
	e.mu.Unlock()

	e.logger.Debug().Uint64("p75", fee).Msg("priority_fees: updated estimate")
}

// EstimateFee returns the current hint, clamped to MaxPriorityFee.
func (e *PriorityFeeEstimator) EstimateFee() uint64 {
	e.mu.RLock()
	fee := e.p75
	e.mu.RUnlock()

	if fee == 0 {
		fee = e.fallback
	}
	if fee > MaxPriorityFee {
		fee = MaxPriorityFee
	}
	return fee
}

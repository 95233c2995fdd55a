package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position
// ---------------------------------------------------------------------------

// Position is an open holding of one asset. Values are in SOL, EntryAsset is
// in raw token units.
type Position struct {
	ID             string           `json:"id"`
	Mint           solana.Pubkey    `json:"mint"`
	EntryBase      decimal.Decimal  `json:"entry_base"`
	EntryAsset     decimal.Decimal  `json:"entry_asset"`
	EntryPrice     decimal.Decimal  `json:"entry_price"` // SOL per raw unit
	EntryTime      time.Time        `json:"entry_time"`
	Signature      solana.Signature `json:"signature"`
	PeakValue      decimal.Decimal  `json:"peak_value"`
	CurrentValue   decimal.Decimal  `json:"current_value"`
	FirstTargetHit bool             `json:"first_target_hit"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Multiple returns CurrentValue / EntryBase.
func (p Position) Multiple() decimal.Decimal {
	if !p.EntryBase.IsPositive() {
		return decimal.Zero
	}
	return p.CurrentValue.Div(p.EntryBase)
}

// scale multiplies the value fields by keep (0..1) and takes sold raw units
// off the holding, so no truncated remainder leaves the book.
func (p *Position) scale(keep, sold decimal.Decimal) {
	p.EntryBase = p.EntryBase.Mul(keep)
	p.EntryAsset = p.EntryAsset.Sub(sold)
	p.CurrentValue = p.CurrentValue.Mul(keep)
	p.PeakValue = p.PeakValue.Mul(keep)
	p.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Book
// ---------------------------------------------------------------------------

// Book holds at most one position per mint. A mint with a swap in flight
// is marked busy so that a second buy or sell for it is rejected instead
// of racing the first.
type Book struct {
	mu        sync.RWMutex
	positions map[solana.Pubkey]*Position
	busy      map[solana.Pubkey]bool
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		positions: make(map[solana.Pubkey]*Position),
		busy:      make(map[solana.Pubkey]bool),
	}
}

// reserve claims mint for a buy.
func (b *Book) reserve(mint solana.Pubkey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[mint]; ok {
		return ErrPositionExists
	}
	if b.busy[mint] {
		return ErrPositionBusy
	}
	b.busy[mint] = true
	return nil
}

// acquire claims an existing position for a sell and returns a snapshot.
func (b *Book) acquire(mint solana.Pubkey) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[mint]
	if !ok {
		return Position{}, ErrNoPosition
	}
	if b.busy[mint] {
		return Position{}, ErrPositionBusy
	}
	b.busy[mint] = true
	return *p, nil
}

func (b *Book) release(mint solana.Pubkey) {
	b.mu.Lock()
	delete(b.busy, mint)
	b.mu.Unlock()
}

// open stores a new position and releases the reservation.
func (b *Book) open(p *Position) {
	b.mu.Lock()
	b.positions[p.Mint] = p
	delete(b.busy, p.Mint)
	b.mu.Unlock()
}

// reduce removes pct percent of the position (all of it at 100, or once
// sold covers the holding) and releases the claim. It returns the remaining
// position, if any.
func (b *Book) reduce(mint solana.Pubkey, pct, sold decimal.Decimal) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.busy, mint)

	p, ok := b.positions[mint]
	if !ok {
		return Position{}, false
	}
	if pct.GreaterThanOrEqual(hundred) || sold.GreaterThanOrEqual(p.EntryAsset) {
		delete(b.positions, mint)
		return Position{}, false
	}
	p.scale(decimal.NewFromInt(1).Sub(pct.Div(hundred)), sold)
	return *p, true
}

// Get returns a snapshot of the position for mint.
func (b *Book) Get(mint solana.Pubkey) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[mint]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns snapshots of every open position, oldest first.
func (b *Book) All() []Position {
	b.mu.RLock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// RecordValue sets the current value and raises the peak if exceeded.
func (b *Book) RecordValue(mint solana.Pubkey, value decimal.Decimal) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[mint]
	if !ok {
		return Position{}, false
	}
	p.CurrentValue = value
	if value.GreaterThan(p.PeakValue) {
		p.PeakValue = value
	}
	p.UpdatedAt = time.Now()
	return *p, true
}

// MarkFirstTargetHit sets the first-target flag.
func (b *Book) MarkFirstTargetHit(mint solana.Pubkey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[mint]; ok {
		p.FirstTargetHit = true
	}
}

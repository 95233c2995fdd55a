package execution

import (
	"sync"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/shopspring/decimal"
)

// TradeType is the side of a trade record.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// TradeRecord is one executed swap. Records are never modified.
type TradeRecord struct {
	ID          string           `json:"id"`
	Type        TradeType        `json:"type"`
	Mint        solana.Pubkey    `json:"mint"`
	BaseAmount  decimal.Decimal  `json:"base_amount"`  // SOL spent or received
	AssetAmount decimal.Decimal  `json:"asset_amount"` // raw token units
	Profit      decimal.Decimal  `json:"profit"`       // sells only
	Signature   solana.Signature `json:"signature"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Ledger is an append-only trade log.
type Ledger struct {
	mu      sync.RWMutex
	records []TradeRecord
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds a record.
func (l *Ledger) Append(r TradeRecord) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

// Records returns a copy of all records in execution order.
func (l *Ledger) Records() []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// TotalPnL sums realized profit over all sells.
func (l *Ledger) TotalPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, r := range l.records {
		if r.Type == TradeSell {
			total = total.Add(r.Profit)
		}
	}
	return total
}

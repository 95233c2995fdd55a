package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPosition(b *Book, base, asset float64) {
	b.open(&Position{
		ID:           "p1",
		Mint:         testMint,
		EntryBase:    decimal.NewFromFloat(base),
		EntryAsset:   decimal.NewFromFloat(asset),
		EntryTime:    time.Now(),
		CurrentValue: decimal.NewFromFloat(base),
		PeakValue:    decimal.NewFromFloat(base),
	})
}

func TestBook_PeakIsMonotone(t *testing.T) {
	b := NewBook()
	openTestPosition(b, 1, 1000)

	values := []float64{1.5, 1.2, 2.0, 0.5, 1.9}
	peak := decimal.NewFromInt(1)
	for _, v := range values {
		p, ok := b.RecordValue(testMint, decimal.NewFromFloat(v))
		require.True(t, ok)
		assert.True(t, p.PeakValue.GreaterThanOrEqual(peak))
		assert.True(t, p.PeakValue.GreaterThanOrEqual(p.CurrentValue))
		peak = p.PeakValue
	}
	assert.True(t, peak.Equal(decimal.NewFromInt(2)))
}

func TestBook_RecordValueUnknownMint(t *testing.T) {
	b := NewBook()
	_, ok := b.RecordValue(testMint, decimal.NewFromInt(1))
	assert.False(t, ok)
}

func TestBook_ReserveAndAcquire(t *testing.T) {
	b := NewBook()

	require.NoError(t, b.reserve(testMint))
	assert.ErrorIs(t, b.reserve(testMint), ErrPositionBusy)
	_, err := b.acquire(testMint)
	assert.ErrorIs(t, err, ErrNoPosition)

	openTestPosition(b, 1, 1000)
	assert.ErrorIs(t, b.reserve(testMint), ErrPositionExists)

	p, err := b.acquire(testMint)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	_, err = b.acquire(testMint)
	assert.ErrorIs(t, err, ErrPositionBusy)

	b.release(testMint)
	_, err = b.acquire(testMint)
	assert.NoError(t, err)
}

func TestBook_Reduce(t *testing.T) {
	b := NewBook()
	openTestPosition(b, 1, 1001)

	p, open := b.reduce(testMint, decimal.NewFromInt(50), decimal.NewFromInt(500))
	require.True(t, open)
	assert.True(t, p.EntryBase.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, p.EntryAsset.Equal(decimal.NewFromInt(501)), p.EntryAsset.String())

	_, open = b.reduce(testMint, decimal.NewFromInt(100), decimal.NewFromInt(501))
	assert.False(t, open)
	assert.Zero(t, b.Len())
}

func TestBook_ReduceClosesWhenHoldingSold(t *testing.T) {
	b := NewBook()
	openTestPosition(b, 1, 2)

	_, open := b.reduce(testMint, decimal.NewFromInt(60), decimal.NewFromInt(2))
	assert.False(t, open)
	assert.Zero(t, b.Len())
}

func TestBook_MarkFirstTargetHit(t *testing.T) {
	b := NewBook()
	openTestPosition(b, 1, 1000)

	b.MarkFirstTargetHit(testMint)
	p, _ := b.Get(testMint)
	assert.True(t, p.FirstTargetHit)
}

func TestPosition_Multiple(t *testing.T) {
	p := Position{EntryBase: decimal.NewFromInt(2), CurrentValue: decimal.NewFromInt(5)}
	assert.True(t, p.Multiple().Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, Position{}.Multiple().IsZero())
}

func TestLedger_TotalPnL(t *testing.T) {
	l := NewLedger()
	l.Append(TradeRecord{Type: TradeBuy, BaseAmount: decimal.NewFromInt(1)})
	l.Append(TradeRecord{Type: TradeSell, Profit: decimal.NewFromFloat(0.5)})
	l.Append(TradeRecord{Type: TradeSell, Profit: decimal.NewFromFloat(-0.2)})

	assert.True(t, l.TotalPnL().Equal(decimal.NewFromFloat(0.3)))
	records := l.Records()
	require.Len(t, records, 3)
	records[0].Type = TradeSell
	assert.Equal(t, TradeBuy, l.Records()[0].Type)
}

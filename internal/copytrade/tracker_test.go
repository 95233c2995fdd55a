package copytrade

import (
	"testing"
	"time"

	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Valid 32-byte base58 addresses.
const (
	whale1 solana.Pubkey = "11111111111111111111111111111111"
	whale2 solana.Pubkey = "So11111111111111111111111111111111111111112"
	whale3 solana.Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newTracker(t *testing.T, wallets ...solana.Pubkey) *Tracker {
	t.Helper()
	tr := NewTracker(DefaultTrackerConfig(), zerolog.Nop())
	for _, w := range wallets {
		require.NoError(t, tr.AddWallet(TrackedWallet{Address: w, Tier: TierWhale}))
	}
	return tr
}

func TestAddWallet(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.AddWallet(TrackedWallet{Address: whale1, Tier: TierWhale, Label: "Big Whale"}))

	stats := tr.Stats()
	assert.Equal(t, 1, stats.TrackedWallets)
	assert.Equal(t, 1, stats.TierBreakdown["WHALE"])
	assert.True(t, tr.IsTracked(whale1))
	assert.False(t, tr.IsTracked(whale2))

	// Re-adding updates in place.
	require.NoError(t, tr.AddWallet(TrackedWallet{Address: whale1, Tier: TierKOL, Label: "renamed"}))
	w, ok := tr.GetWallet(whale1)
	require.True(t, ok)
	assert.Equal(t, TierKOL, w.Tier)
	assert.Equal(t, "renamed", w.Label)
	assert.Equal(t, 1, tr.Stats().TrackedWallets)
}

func TestAddWallet_Invalid(t *testing.T) {
	tr := newTracker(t)
	err := tr.AddWallet(TrackedWallet{Address: "not-a-key"})
	assert.ErrorIs(t, err, solana.ErrInvalidPubkey)
}

func TestAddWallet_MaxCapacity(t *testing.T) {
	tr := NewTracker(TrackerConfig{MaxTrackedWallets: 2}, zerolog.Nop())

	require.NoError(t, tr.AddWallet(TrackedWallet{Address: whale1}))
	require.NoError(t, tr.AddWallet(TrackedWallet{Address: whale2}))
	assert.ErrorIs(t, tr.AddWallet(TrackedWallet{Address: whale3}), ErrTrackerFull)

	assert.Equal(t, 2, tr.Stats().TrackedWallets)
}

func TestRemoveWallet(t *testing.T) {
	tr := newTracker(t, whale1)
	tr.RemoveWallet(whale1)
	assert.Equal(t, 0, tr.Stats().TrackedWallets)
	assert.False(t, tr.IsTracked(whale1))
}

func TestAddresses_Sorted(t *testing.T) {
	tr := newTracker(t, whale2, whale1)
	assert.Equal(t, []string{string(whale1), string(whale2)}, tr.Addresses())
}

func TestRecord(t *testing.T) {
	tr := newTracker(t, whale1)
	now := time.Now()

	assert.True(t, tr.Record(detect.CopyEvent{Wallet: whale1, Mint: "MemeA", Direction: detect.DirectionBuy, DetectedAt: now}))
	assert.True(t, tr.Record(detect.CopyEvent{Wallet: whale1, Mint: "MemeB", Direction: detect.DirectionBuy, DetectedAt: now}))
	assert.True(t, tr.Record(detect.CopyEvent{Wallet: whale1, Mint: "MemeA", Direction: detect.DirectionSell, DetectedAt: now}))
	assert.False(t, tr.Record(detect.CopyEvent{Wallet: whale2, Mint: "MemeA", Direction: detect.DirectionBuy}))

	w, _ := tr.GetWallet(whale1)
	assert.Equal(t, 2, w.Buys)
	assert.Equal(t, 1, w.Sells)
	assert.Equal(t, now, w.LastSeen)

	recent := tr.Recent("MemeA", 0)
	require.Len(t, recent, 2)
	assert.Equal(t, detect.DirectionSell, recent[0].Direction)

	assert.Len(t, tr.Recent("MemeA", 1), 1)
	assert.Equal(t, 3, tr.Stats().TotalTrades)
}

func TestRecord_HistoryBounded(t *testing.T) {
	tr := NewTracker(TrackerConfig{MaxHistorySize: 3}, zerolog.Nop())
	require.NoError(t, tr.AddWallet(TrackedWallet{Address: whale1}))

	for i := 0; i < 10; i++ {
		tr.Record(detect.CopyEvent{Wallet: whale1, Mint: "M", Direction: detect.DirectionBuy})
	}
	assert.Equal(t, 3, tr.Stats().TotalTrades)
}

func TestTracker_IsWalletFilter(t *testing.T) {
	var _ detect.WalletFilter = (*Tracker)(nil)
}

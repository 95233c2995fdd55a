package copytrade

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Copy-Trade wallet registry
// Tracked wallets feed the swap detector's filter and the copy stream's
// account list; detected trades are kept in a bounded history.
// ---------------------------------------------------------------------------

// WalletTier classifies tracked wallets.
type WalletTier string

const (
	TierWhale      WalletTier = "WHALE"       // large capital
	TierSmartMoney WalletTier = "SMART_MONEY" // historically profitable
	TierKOL        WalletTier = "KOL"         // Key Opinion Leader
	TierInsider    WalletTier = "INSIDER"     // known early buyer
)

func (t WalletTier) String() string { return string(t) }

// ErrTrackerFull is returned when MaxTrackedWallets is reached.
var ErrTrackerFull = errors.New("copytrade: tracked wallet limit reached")

// TrackedWallet is a wallet we're monitoring.
type TrackedWallet struct {
	Address  solana.Pubkey `json:"address" yaml:"address"`
	Tier     WalletTier    `json:"tier" yaml:"tier"`
	Label    string        `json:"label" yaml:"label"`
	Buys     int           `json:"buys" yaml:"-"`
	Sells    int           `json:"sells" yaml:"-"`
	LastSeen time.Time     `json:"last_seen" yaml:"-"`
	AddedAt  time.Time     `json:"added_at" yaml:"-"`
}

// TrackerConfig configures the registry.
type TrackerConfig struct {
	MaxTrackedWallets int `yaml:"max_tracked_wallets"`
	MaxHistorySize    int `yaml:"max_history_size"`
}

// DefaultTrackerConfig returns defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxTrackedWallets: 100,
		MaxHistorySize:    10000,
	}
}

// Tracker is the tracked wallet registry. It implements detect.WalletFilter.
type Tracker struct {
	config TrackerConfig
	logger zerolog.Logger

	mu      sync.RWMutex
	wallets map[solana.Pubkey]*TrackedWallet
	history []detect.CopyEvent // ring buffer
}

// NewTracker creates an empty registry.
func NewTracker(config TrackerConfig, logger zerolog.Logger) *Tracker {
	if config.MaxTrackedWallets <= 0 {
		config.MaxTrackedWallets = 100
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 10000
	}
	return &Tracker{
		config:  config,
		logger:  logger.With().Str("component", "copytrade").Logger(),
		wallets: make(map[solana.Pubkey]*TrackedWallet),
	}
}

// AddWallet registers a wallet. Re-adding an address updates tier and label.
func (t *Tracker) AddWallet(wallet TrackedWallet) error {
	if _, err := solana.ParsePubkey(string(wallet.Address)); err != nil {
		return fmt.Errorf("copytrade: add wallet: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.wallets[wallet.Address]; ok {
		existing.Tier = wallet.Tier
		existing.Label = wallet.Label
		return nil
	}
	if len(t.wallets) >= t.config.MaxTrackedWallets {
		return ErrTrackerFull
	}

	wallet.AddedAt = time.Now()
	t.wallets[wallet.Address] = &wallet

	t.logger.Debug().
		Str("address", wallet.Address.Short()).
		Str("tier", wallet.Tier.String()).
		Str("label", wallet.Label).
		Msg("copytrade: wallet added")
	return nil
}

// RemoveWallet removes a tracked wallet.
func (t *Tracker) RemoveWallet(address solana.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.wallets, address)
}

// IsTracked reports whether owner is a tracked wallet.
func (t *Tracker) IsTracked(owner solana.Pubkey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.wallets[owner]
	return ok
}

// Addresses returns the tracked addresses, sorted, for stream subscription.
func (t *Tracker) Addresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.wallets))
	for addr := range t.wallets {
		out = append(out, string(addr))
	}
	sort.Strings(out)
	return out
}

// Record stores a detected trade and updates the wallet's counters.
// Events from wallets no longer tracked are dropped.
func (t *Tracker) Record(ev detect.CopyEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wallet, ok := t.wallets[ev.Wallet]
	if !ok {
		return false
	}

	if len(t.history) >= t.config.MaxHistorySize {
		t.history = t.history[1:]
	}
	t.history = append(t.history, ev)

	switch ev.Direction {
	case detect.DirectionBuy:
		wallet.Buys++
	case detect.DirectionSell:
		wallet.Sells++
	}
	wallet.LastSeen = ev.DetectedAt

	t.logger.Debug().
		Str("wallet", ev.Wallet.Short()).
		Str("label", wallet.Label).
		Str("mint", ev.Mint.Short()).
		Str("direction", ev.Direction.String()).
		Msg("copytrade: trade recorded")
	return true
}

// Recent returns recorded trades for mint, newest first.
func (t *Tracker) Recent(mint solana.Pubkey, limit int) []detect.CopyEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []detect.CopyEvent
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Mint != mint {
			continue
		}
		out = append(out, t.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetWallet returns a copy of a tracked wallet.
func (t *Tracker) GetWallet(address solana.Pubkey) (TrackedWallet, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.wallets[address]
	if !ok {
		return TrackedWallet{}, false
	}
	return *w, true
}

// GetWallets returns all tracked wallets.
func (t *Tracker) GetWallets() []TrackedWallet {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]TrackedWallet, 0, len(t.wallets))
	for _, w := range t.wallets {
		result = append(result, *w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

// TrackerStats returns tracker statistics.
type TrackerStats struct {
	TrackedWallets int            `json:"tracked_wallets"`
	TotalTrades    int            `json:"total_trades"`
	TierBreakdown  map[string]int `json:"tier_breakdown"`
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tiers := make(map[string]int)
	for _, w := range t.wallets {
		tiers[string(w.Tier)]++
	}

	return TrackerStats{
		TrackedWallets: len(t.wallets),
		TotalTrades:    len(t.history),
		TierBreakdown:  tiers,
	}
}

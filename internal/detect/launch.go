package detect

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Launch detection — one matcher per venue, tried in registry order.
// A matcher only reads the log lines and the account list of the event.
// ---------------------------------------------------------------------------

// VenueMatcher recognises launches on a single venue.
type VenueMatcher interface {
	Venue() Venue
	Match(ev *solana.StreamEvent) (LaunchCandidate, bool)
}

// positionalMatcher handles venues whose launch instruction has a fixed
// account layout: creator and asset are read from known indices.
type positionalMatcher struct {
	venue      Venue
	marker     func(line string) bool
	creatorIdx int
	// mintIdx lists candidate asset positions; the first one that is not the
	// wrapped SOL mint is the launched asset.
	mintIdx []int
}

func (m positionalMatcher) Venue() Venue { return m.venue }

func (m positionalMatcher) Match(ev *solana.StreamEvent) (LaunchCandidate, bool) {
	if !m.hasMarker(ev.Logs) {
		return LaunchCandidate{}, false
	}

	creator, ok := accountAt(ev.AccountKeys, m.creatorIdx)
	if !ok {
		return LaunchCandidate{}, false
	}

	var mint solana.Pubkey
	for _, idx := range m.mintIdx {
		key, ok := accountAt(ev.AccountKeys, idx)
		if ok && key != solana.SOLMint {
			mint = key
			break
		}
	}
	if mint == "" {
		return LaunchCandidate{}, false
	}

	return LaunchCandidate{
		Venue:      m.venue,
		Mint:       mint,
		Creator:    creator,
		Signature:  ev.Signature,
		DetectedAt: time.Now(),
	}, true
}

func (m positionalMatcher) hasMarker(logs []string) bool {
	for _, line := range logs {
		if m.marker(line) {
			return true
		}
	}
	return false
}

func accountAt(keys []solana.Pubkey, idx int) (solana.Pubkey, bool) {
	if idx < 0 || idx >= len(keys) || keys[idx] == "" {
		return "", false
	}
	return keys[idx], true
}

// PumpFunMatcher matches the bonding-curve "Create" instruction.
// accounts: [creator, mint, ...]. CreateIdempotent (ATA program) is not a launch.
func PumpFunMatcher() VenueMatcher {
	return positionalMatcher{
		venue: VenuePumpFun,
		marker: func(line string) bool {
			return strings.HasSuffix(strings.TrimSpace(line), "Instruction: Create")
		},
		creatorIdx: 0,
		mintIdx:    []int{1},
	}
}

// RaydiumMatcher matches AMM v4 pool initialisation ("initialize2").
// accounts: [payer, ..., coin mint at 8, pc mint at 9, ...].
func RaydiumMatcher() VenueMatcher {
	return positionalMatcher{
		venue: VenueRaydium,
		marker: func(line string) bool {
			return strings.Contains(line, "initialize2")
		},
		creatorIdx: 0,
		mintIdx:    []int{8, 9},
	}
}

// MeteoraMatcher matches DLMM pair creation. accounts: [funder, ?, token X, token Y, ...].
func MeteoraMatcher() VenueMatcher {
	return positionalMatcher{
		venue: VenueMeteora,
		marker: func(line string) bool {
			return strings.Contains(line, "InitializeLbPair")
		},
		creatorIdx: 0,
		mintIdx:    []int{2, 3},
	}
}

// DefaultMatchers returns the built-in venues in evaluation order.
func DefaultMatchers() []VenueMatcher {
	return []VenueMatcher{PumpFunMatcher(), RaydiumMatcher(), MeteoraMatcher()}
}

// DefaultPrograms returns the program ids the launch stream subscribes to.
func DefaultPrograms() []string {
	return []string{string(PumpFunProgram), string(RaydiumAMMv4), string(MeteoraDLMM)}
}

// LaunchDetector classifies stream events as launches.
type LaunchDetector struct {
	matchers []VenueMatcher
	logger   zerolog.Logger

	inspected atomic.Int64
	detected  atomic.Int64
}

// NewLaunchDetector creates a detector. With no matchers the default venues are used.
func NewLaunchDetector(logger zerolog.Logger, matchers ...VenueMatcher) *LaunchDetector {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &LaunchDetector{
		matchers: matchers,
		logger:   logger.With().Str("component", "launch_detector").Logger(),
	}
}

// Detect returns the first venue match, or nil.
func (d *LaunchDetector) Detect(ev *solana.StreamEvent) *LaunchCandidate {
	d.inspected.Add(1)
	for _, m := range d.matchers {
		if c, ok := m.Match(ev); ok {
			d.detected.Add(1)
			d.logger.Debug().
				Str("venue", c.Venue.String()).
				Str("mint", c.Mint.Short()).
				Str("sig", c.Signature.Short()).
				Msg("launch_detector: launch detected")
			return &c
		}
	}
	return nil
}

// DetectorStats returns detector counters.
type DetectorStats struct {
	Inspected int64 `json:"inspected"`
	Detected  int64 `json:"detected"`
}

func (d *LaunchDetector) Stats() DetectorStats {
	return DetectorStats{Inspected: d.inspected.Load(), Detected: d.detected.Load()}
}

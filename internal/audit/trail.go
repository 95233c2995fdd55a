package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
)

// Entry kinds.
const (
	KindLaunch    = "launch"
	KindCopyTrade = "copy_trade"
	KindVerdict   = "risk_verdict"
	KindBuy       = "buy"
	KindSell      = "sell"
	KindFatal     = "fatal"
)

// Entry is one recorded decision. Every launch, verdict and trade gets an
// entry so a position can be traced back to the event that opened it.
type Entry struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Timestamp time.Time        `json:"ts"`
	Mint      solana.Pubkey    `json:"mint,omitempty"`
	Signature solana.Signature `json:"signature,omitempty"`
	Origin    string           `json:"origin,omitempty"` // launch|copy|exit|manual|force_close
	Decision  string           `json:"decision,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// Trail keeps the most recent entries in memory and, when a sink is set,
// appends every entry to it as one JSON line.
type Trail struct {
	mu      sync.Mutex
	entries []Entry // ring buffer
	next    int
	full    bool
	sink    io.Writer
	logger  zerolog.Logger
}

// NewTrail creates a trail holding up to capacity entries. sink may be nil.
func NewTrail(capacity int, sink io.Writer, logger zerolog.Logger) *Trail {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Trail{
		entries: make([]Entry, capacity),
		sink:    sink,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// OnLaunchDetected records a detected launch.
func (t *Trail) OnLaunchDetected(c detect.LaunchCandidate) {
	t.record(Entry{
		Kind:      KindLaunch,
		Mint:      c.Mint,
		Signature: c.Signature,
		Decision:  c.Venue.String(),
		Payload:   t.marshal(c),
	})
}

// OnCopyTradeDetected records a tracked wallet's trade.
func (t *Trail) OnCopyTradeDetected(ev detect.CopyEvent) {
	t.record(Entry{
		Kind:      KindCopyTrade,
		Mint:      ev.Mint,
		Signature: ev.Signature,
		Origin:    string(ev.Wallet),
		Decision:  ev.Direction.String(),
		Payload:   t.marshal(ev),
	})
}

// OnRiskVerdict records a risk verdict as pass or reject.
func (t *Trail) OnRiskVerdict(v *risk.Verdict) {
	decision := "reject"
	if v.Passed {
		decision = "pass"
	}
	t.record(Entry{
		Kind:     KindVerdict,
		Mint:     v.Mint,
		Decision: decision,
		Payload:  t.marshal(v),
	})
}

// OnBuy records a buy attempt.
func (t *Trail) OnBuy(origin string, res execution.BuyResult) {
	t.record(Entry{
		Kind:      KindBuy,
		Mint:      res.Mint,
		Signature: res.Signature,
		Origin:    origin,
		Decision:  outcome(res.Success),
		Payload:   t.marshal(res),
	})
}

// OnSell records a sell attempt.
func (t *Trail) OnSell(origin string, res execution.SellResult) {
	t.record(Entry{
		Kind:      KindSell,
		Mint:      res.Mint,
		Signature: res.Signature,
		Origin:    origin,
		Decision:  outcome(res.Success),
		Payload:   t.marshal(res),
	})
}

// OnFatalError records a stream failure.
func (t *Trail) OnFatalError(err error) {
	t.record(Entry{
		Kind:     KindFatal,
		Decision: err.Error(),
	})
}

// Entries returns the buffered entries, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ordered()
}

// Recent returns up to n of the newest entries, oldest first.
func (t *Trail) Recent(n int) []Entry {
	all := t.Entries()
	if n > 0 && n < len(all) {
		return all[len(all)-n:]
	}
	return all
}

// Query returns the buffered entries for mint, oldest first.
func (t *Trail) Query(mint solana.Pubkey) []Entry {
	var out []Entry
	for _, e := range t.Entries() {
		if e.Mint == mint {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.entries)
	}
	return t.next
}

func (t *Trail) record(e Entry) {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[t.next] = e
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}

	// Written under the lock so sink lines keep record order.
	if t.sink != nil {
		line, err := json.Marshal(e)
		if err == nil {
			_, err = t.sink.Write(append(line, '\n'))
		}
		if err != nil {
			t.logger.Error().Err(err).Str("kind", e.Kind).Msg("audit: write entry failed")
		}
	}
}

func (t *Trail) ordered() []Entry {
	if !t.full {
		return append([]Entry(nil), t.entries[:t.next]...)
	}
	out := make([]Entry, 0, len(t.entries))
	out = append(out, t.entries[t.next:]...)
	return append(out, t.entries[:t.next]...)
}

func (t *Trail) marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		t.logger.Error().Err(err).Msg("audit: marshal payload failed")
		return nil
	}
	return data
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

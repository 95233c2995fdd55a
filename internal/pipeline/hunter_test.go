package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource delivers a fixed batch of events, then either fails with err or
// idles until stopped.
type stubSource struct {
	batch  []solana.StreamEvent
	err    error
	events chan solana.StreamEvent
	stop   chan struct{}
	once   sync.Once
}

func newStubSource(err error, batch ...solana.StreamEvent) *stubSource {
	return &stubSource{
		batch:  batch,
		err:    err,
		events: make(chan solana.StreamEvent, len(batch)),
		stop:   make(chan struct{}),
	}
}

func (s *stubSource) Run(ctx context.Context) error {
	defer close(s.events)
	for _, ev := range s.batch {
		s.events <- ev
	}
	if s.err != nil {
		return s.err
	}
	select {
	case <-ctx.Done():
	case <-s.stop:
	}
	return nil
}

func (s *stubSource) Events() <-chan solana.StreamEvent { return s.events }
func (s *stubSource) Stop()                             { s.once.Do(func() { close(s.stop) }) }

type stubRisk struct {
	pass  bool
	calls atomic.Int32
}

func (r *stubRisk) Evaluate(_ context.Context, mint solana.Pubkey) *risk.Verdict {
	r.calls.Add(1)
	v := &risk.Verdict{Mint: mint, Score: 80, MaxScore: risk.MaxScore, Passed: r.pass}
	if !r.pass {
		v.Risks = []string{"freeze authority enabled"}
	}
	return v
}

type stubEngine struct {
	mu    sync.Mutex
	held  map[solana.Pubkey]bool
	buys  []solana.Pubkey
	sells []solana.Pubkey
}

func newStubEngine(held ...solana.Pubkey) *stubEngine {
	e := &stubEngine{held: make(map[solana.Pubkey]bool)}
	for _, m := range held {
		e.held[m] = true
	}
	return e
}

func (e *stubEngine) Buy(_ context.Context, mint solana.Pubkey, amount decimal.Decimal) execution.BuyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buys = append(e.buys, mint)
	e.held[mint] = true
	return execution.BuyResult{Success: true, Mint: mint, InputSOL: amount}
}

func (e *stubEngine) Sell(_ context.Context, mint solana.Pubkey, percent decimal.Decimal) execution.SellResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sells = append(e.sells, mint)
	delete(e.held, mint)
	return execution.SellResult{Success: true, Mint: mint, Percent: percent}
}

func (e *stubEngine) GetPositions() []execution.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []execution.Position
	for m := range e.held {
		out = append(out, execution.Position{Mint: m})
	}
	return out
}

func (e *stubEngine) GetTotalPnL() decimal.Decimal { return decimal.Zero }

func (e *stubEngine) trades() (buys, sells []solana.Pubkey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]solana.Pubkey(nil), e.buys...), append([]solana.Pubkey(nil), e.sells...)
}

type stubMonitor struct {
	running atomic.Bool
}

func (m *stubMonitor) Run(ctx context.Context) {
	m.running.Store(true)
	<-ctx.Done()
	m.running.Store(false)
}

type recordingObserver struct {
	mu       sync.Mutex
	launches []detect.LaunchCandidate
	copies   []detect.CopyEvent
	verdicts []*risk.Verdict
	origins  []string // one per OnBuy/OnSell, in call order
	fatal    []error
}

func (o *recordingObserver) OnLaunchDetected(c detect.LaunchCandidate) {
	o.mu.Lock()
	o.launches = append(o.launches, c)
	o.mu.Unlock()
}

func (o *recordingObserver) OnCopyTradeDetected(ev detect.CopyEvent) {
	o.mu.Lock()
	o.copies = append(o.copies, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRiskVerdict(v *risk.Verdict) {
	o.mu.Lock()
	o.verdicts = append(o.verdicts, v)
	o.mu.Unlock()
}

func (o *recordingObserver) OnBuy(origin string, _ execution.BuyResult) {
	o.mu.Lock()
	o.origins = append(o.origins, "buy:"+origin)
	o.mu.Unlock()
}

func (o *recordingObserver) OnSell(origin string, _ execution.SellResult) {
	o.mu.Lock()
	o.origins = append(o.origins, "sell:"+origin)
	o.mu.Unlock()
}

func (o *recordingObserver) trades() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.origins...)
}

func (o *recordingObserver) OnFatalError(err error) {
	o.mu.Lock()
	o.fatal = append(o.fatal, err)
	o.mu.Unlock()
}

func (o *recordingObserver) counts() (int, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.launches), len(o.copies), len(o.fatal)
}

func launchEvent(sig string, mint solana.Pubkey) solana.StreamEvent {
	return solana.StreamEvent{
		Signature:   solana.Signature(sig),
		AccountKeys: []solana.Pubkey{"Creator111", mint, "BondingCurve"},
		Logs: []string{
			"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
			"Program log: Instruction: Create",
		},
	}
}

func copyEvent(sig string, wallet, mint solana.Pubkey, pre, post int64) solana.StreamEvent {
	return solana.StreamEvent{
		Signature: solana.Signature(sig),
		PreTokenBalances: []solana.TokenBalance{
			{AccountIndex: 1, Owner: wallet, Mint: mint, Amount: decimal.NewFromInt(pre)},
		},
		PostTokenBalances: []solana.TokenBalance{
			{AccountIndex: 1, Owner: wallet, Mint: mint, Amount: decimal.NewFromInt(post)},
		},
	}
}

type fixture struct {
	hunter   *Hunter
	engine   *stubEngine
	risk     *stubRisk
	monitor  *stubMonitor
	observer *recordingObserver
	tracker  *copytrade.Tracker
	cancel   context.CancelFunc
	done     chan error
}

func startHunter(t *testing.T, cfg Config, launch, copyStream EventSource, engine *stubEngine, pass bool) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	tracker := copytrade.NewTracker(copytrade.DefaultTrackerConfig(), logger)
	require.NoError(t, tracker.AddWallet(copytrade.TrackedWallet{
		Address: "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1",
		Label:   "whale",
	}))

	f := &fixture{
		engine:   engine,
		risk:     &stubRisk{pass: pass},
		monitor:  &stubMonitor{},
		observer: &recordingObserver{},
		tracker:  tracker,
		done:     make(chan error, 1),
	}
	f.hunter = New(cfg, Deps{
		LaunchStream: launch,
		CopyStream:   copyStream,
		Launches:     detect.NewLaunchDetector(logger),
		Swaps:        detect.NewSwapDetector(tracker, logger),
		Wallets:      tracker,
		Risk:         f.risk,
		Engine:       engine,
		Monitor:      f.monitor,
	}, f.observer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.hunter.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("hunter did not stop")
		}
	})
	return f
}

const whale = solana.Pubkey("5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1")

func testConfig() Config {
	return Config{
		AutoBuy:       true,
		CopyTrade:     true,
		DefaultBuySOL: decimal.NewFromFloat(0.05),
	}
}

func TestHunter_DuplicateSignatureEmitsOnce(t *testing.T) {
	ev := launchEvent("sig-1", "MintAAA")
	launch := newStubSource(nil, ev, ev, ev)
	f := startHunter(t, testConfig(), launch, nil, newStubEngine(), true)

	require.Eventually(t, func() bool { return f.hunter.Stats().LaunchEvents == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { b, _ := f.engine.trades(); return len(b) == 1 }, time.Second, 5*time.Millisecond)

	launches, _, _ := f.observer.counts()
	assert.Equal(t, 1, launches)
	assert.Equal(t, int64(2), f.hunter.Stats().Duplicates)
	assert.Equal(t, int32(1), f.risk.calls.Load())
	require.Eventually(t, func() bool { return len(f.observer.trades()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"buy:" + OriginLaunch}, f.observer.trades())
}

func TestHunter_DedupWindowEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.AutoBuy = false
	cfg.DedupCapacity = 2
	launch := newStubSource(nil,
		launchEvent("sig-1", "MintAAA"),
		launchEvent("sig-2", "MintBBB"),
		launchEvent("sig-3", "MintCCC"),
		launchEvent("sig-1", "MintAAA"),
	)
	f := startHunter(t, cfg, launch, nil, newStubEngine(), true)

	require.Eventually(t, func() bool { return f.hunter.Stats().LaunchEvents == 4 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { l, _, _ := f.observer.counts(); return l == 4 }, time.Second, 5*time.Millisecond)

	stats := f.hunter.Stats()
	assert.Zero(t, stats.Duplicates)
	assert.Equal(t, uint64(2), stats.DedupEvicted)
	assert.LessOrEqual(t, stats.DedupSize, 3)
}

func TestHunter_RiskRejectionBlocksBuy(t *testing.T) {
	launch := newStubSource(nil, launchEvent("sig-1", "MintAAA"))
	f := startHunter(t, testConfig(), launch, nil, newStubEngine(), false)

	require.Eventually(t, func() bool { return f.hunter.Stats().RiskRejected == 1 }, time.Second, 5*time.Millisecond)
	buys, _ := f.engine.trades()
	assert.Empty(t, buys)

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	require.Len(t, f.observer.verdicts, 1)
	assert.False(t, f.observer.verdicts[0].Passed)
	assert.Empty(t, f.observer.origins)
}

func TestHunter_AutoBuyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoBuy = false
	launch := newStubSource(nil, launchEvent("sig-1", "MintAAA"))
	f := startHunter(t, cfg, launch, nil, newStubEngine(), true)

	require.Eventually(t, func() bool { l, _, _ := f.observer.counts(); return l == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.risk.calls.Load())
}

func TestHunter_CopyTrades(t *testing.T) {
	copyStream := newStubSource(nil,
		copyEvent("c-1", whale, "MintBuy", 0, 1_000),
		copyEvent("c-2", whale, "MintHeld", 5_000, 0),
		copyEvent("c-3", whale, "MintNotHeld", 5_000, 1_000),
		copyEvent("c-4", "Stranger", "MintOther", 0, 1_000),
	)
	engine := newStubEngine("MintHeld")
	f := startHunter(t, testConfig(), nil, copyStream, engine, true)

	require.Eventually(t, func() bool { return f.hunter.Stats().CopyEvents == 4 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		b, s := engine.trades()
		return len(b) == 1 && len(s) == 1
	}, time.Second, 5*time.Millisecond)

	buys, sells := engine.trades()
	assert.Equal(t, solana.Pubkey("MintBuy"), buys[0])
	assert.Equal(t, solana.Pubkey("MintHeld"), sells[0])

	_, copies, _ := f.observer.counts()
	assert.Equal(t, 3, copies)
	w, ok := f.tracker.GetWallet(whale)
	require.True(t, ok)
	assert.Equal(t, 1, w.Buys)
	assert.Equal(t, 2, w.Sells)
	assert.ElementsMatch(t, []string{"buy:" + OriginCopy, "sell:" + OriginCopy}, f.observer.trades())
}

func TestHunter_ManualTradesNotifyObserver(t *testing.T) {
	engine := newStubEngine()
	obs := &recordingObserver{}
	h := New(testConfig(), Deps{Engine: engine}, obs, zerolog.Nop())

	assert.True(t, h.Buy(context.Background(), "MintM", decimal.NewFromFloat(0.1)).Success)
	assert.True(t, h.Sell(context.Background(), "MintM", decimal.NewFromInt(100)).Success)
	assert.Equal(t, []string{"buy:" + OriginManual, "sell:" + OriginManual}, obs.trades())
}

func TestHunter_FatalStreamErrorKeepsOthersRunning(t *testing.T) {
	launch := newStubSource(errors.New("reconnects exhausted"))
	copyStream := newStubSource(nil)
	f := startHunter(t, testConfig(), launch, copyStream, newStubEngine(), true)

	require.Eventually(t, func() bool { _, _, n := f.observer.counts(); return n == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.monitor.running.Load())
	assert.Equal(t, int64(1), f.hunter.Stats().FatalErrors)

	select {
	case <-f.done:
		t.Fatal("hunter stopped after a stream failure")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHunter_PauseBlocksEntries(t *testing.T) {
	launch := newStubSource(nil)
	f := startHunter(t, testConfig(), launch, nil, newStubEngine(), true)
	f.hunter.Pause()
	assert.True(t, f.hunter.Stats().Paused)

	f.hunter.handleLaunchEvent(context.Background(), launchEvent("sig-p", "MintP"))
	f.hunter.work.Wait()

	buys, _ := f.engine.trades()
	assert.Empty(t, buys)
	assert.Zero(t, f.risk.calls.Load())
}

func TestHunter_StopEndsRun(t *testing.T) {
	f := startHunter(t, testConfig(), newStubSource(nil), nil, newStubEngine(), true)
	require.Eventually(t, func() bool { return f.monitor.running.Load() }, time.Second, 5*time.Millisecond)

	f.hunter.Stop()
	f.hunter.Stop()

	select {
	case err := <-f.done:
		assert.NoError(t, err)
		f.done <- err // for cleanup
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not end Run")
	}
	assert.False(t, f.monitor.running.Load())
}

func TestHunter_CloseAll(t *testing.T) {
	engine := newStubEngine("MintA", "MintB")
	obs := &recordingObserver{}
	h := New(testConfig(), Deps{Engine: engine}, obs, zerolog.Nop())

	assert.Zero(t, h.CloseAll(context.Background()))
	assert.Equal(t, []string{"sell:" + OriginForceClose, "sell:" + OriginForceClose}, obs.trades())
	assert.Empty(t, h.GetPositions())
	_, sells := engine.trades()
	assert.ElementsMatch(t, []solana.Pubkey{"MintA", "MintB"}, sells)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-trading/hunter/internal/adapters/jupiter"
	"github.com/nexus-trading/hunter/internal/audit"
	"github.com/nexus-trading/hunter/internal/config"
	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/observability"
	"github.com/nexus-trading/hunter/internal/pipeline"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/sniper"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp wires real components without starting anything that dials out.
func newTestApp(t *testing.T) *app {
	t.Helper()
	logger := zerolog.Nop()

	cfg := config.Defaults()
	cfg.Trading.DryRun = true

	wallet, err := solana.NewKeypairFromSeed(make([]byte, 32))
	require.NoError(t, err)

	rpc := solana.NewRPCClient(rpcConfig(cfg), logger)
	jup := jupiter.NewAPIClient(jupiter.DefaultConfig(), logger)
	engine := execution.NewEngine(engineConfig(cfg), jup, rpc, wallet, nil, logger)
	evaluator := risk.NewEvaluator(riskConfig(cfg), nil, nil, nil, logger)
	trail := audit.NewTrail(10, nil, logger)
	monitor := sniper.NewManager(monitorConfig(cfg), exitTrader{Engine: engine, trail: trail}, logger)
	tracker := copytrade.NewTracker(copytrade.DefaultTrackerConfig(), logger)
	launchStream := solana.NewStreamClient(streamConfig(cfg, "launch", detect.DefaultPrograms()), logger)

	hunter := pipeline.New(pipeline.Config{}, pipeline.Deps{
		LaunchStream: launchStream,
		Launches:     detect.NewLaunchDetector(logger),
		Risk:         evaluator,
		Engine:       engine,
		Monitor:      monitor,
	}, trail, logger)

	svc := &app{
		cfg:          cfg,
		hunter:       hunter,
		engine:       engine,
		evaluator:    evaluator,
		monitor:      monitor,
		tracker:      tracker,
		rpc:          rpc,
		jupiter:      jup,
		launchStream: launchStream,
		trail:        trail,
		metrics:      observability.NewRegistry(),
	}
	svc.registerMetrics(svc.metrics)
	svc.health = observability.NewHealthMonitor(time.Minute, time.Second, logger)
	return svc
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes_HealthReflectsChecks(t *testing.T) {
	svc := newTestApp(t)
	mux := svc.routes()

	rec := get(t, mux, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	svc.health.Register("rpc", observability.ErrorCheck(func(context.Context) error {
		return errors.New("connection refused")
	}, 0))
	svc.health.Check(context.Background())

	rec = get(t, mux, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRoutes_Metrics(t *testing.T) {
	mux := newTestApp(t).routes()

	rec := get(t, mux, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hunter_open_positions 0\n")
	assert.Contains(t, rec.Body.String(), "# TYPE hunter_buys_total counter")
	assert.Contains(t, rec.Body.String(), "hunter_paused 0\n")
}

func TestRoutes_Audit(t *testing.T) {
	svc := newTestApp(t)
	mux := svc.routes()

	svc.trail.OnLaunchDetected(detect.LaunchCandidate{Venue: detect.VenuePumpFun, Mint: "MintA", Signature: "sig-a"})
	svc.trail.OnLaunchDetected(detect.LaunchCandidate{Venue: detect.VenueRaydium, Mint: "MintB", Signature: "sig-b"})

	var all []audit.Entry
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/audit").Body.Bytes(), &all))
	assert.Len(t, all, 2)

	var one []audit.Entry
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/audit?mint=MintB").Body.Bytes(), &one))
	require.Len(t, one, 1)
	assert.Equal(t, "raydium", one[0].Decision)

	var last []audit.Entry
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/audit?limit=1").Body.Bytes(), &last))
	require.Len(t, last, 1)
	assert.Equal(t, solana.Pubkey("MintB"), last[0].Mint)
}

func TestRoutes_PauseResumeArePostOnly(t *testing.T) {
	svc := newTestApp(t)
	mux := svc.routes()

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, mux, http.MethodGet, "/control/pause").Code)
	assert.False(t, svc.hunter.Paused())

	assert.Equal(t, http.StatusOK, get(t, mux, http.MethodPost, "/control/pause").Code)
	assert.True(t, svc.hunter.Paused())

	var status map[string]any
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/control/status").Body.Bytes(), &status))
	assert.Equal(t, true, status["paused"])
	assert.Equal(t, true, status["dry_run"])

	assert.Equal(t, http.StatusOK, get(t, mux, http.MethodPost, "/control/resume").Code)
	assert.False(t, svc.hunter.Paused())
}

func TestRoutes_RemoveWallet(t *testing.T) {
	svc := newTestApp(t)
	mux := svc.routes()
	const addr = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	require.NoError(t, svc.tracker.AddWallet(copytrade.TrackedWallet{Address: addr, Label: "whale"}))

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, mux, http.MethodGet, "/wallets/remove?address="+addr).Code)
	assert.True(t, svc.tracker.IsTracked(addr))

	assert.Equal(t, http.StatusOK, get(t, mux, http.MethodPost, "/wallets/remove?address="+addr).Code)
	assert.False(t, svc.tracker.IsTracked(addr))
	assert.Empty(t, svc.tracker.GetWallets())

	assert.Equal(t, http.StatusNotFound, get(t, mux, http.MethodPost, "/wallets/remove?address="+addr).Code)
}

func TestRoutes_Stats(t *testing.T) {
	mux := newTestApp(t).routes()

	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(get(t, mux, http.MethodGet, "/stats").Body.Bytes(), &stats))
	for _, key := range []string{"pipeline", "execution", "risk", "positions", "copytrade", "rpc", "launch_stream", "audit_entries"} {
		assert.Contains(t, stats, key)
	}
	assert.NotContains(t, stats, "copy_stream")
}

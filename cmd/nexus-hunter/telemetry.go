package main

import (
	"context"
	"time"

	"github.com/nexus-trading/hunter/internal/audit"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/observability"
	"github.com/nexus-trading/hunter/internal/pipeline"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// timedEvaluator records risk evaluation latency.
type timedEvaluator struct {
	inner   pipeline.Evaluator
	latency prometheus.Histogram
}

func (t timedEvaluator) Evaluate(ctx context.Context, mint solana.Pubkey) *risk.Verdict {
	timer := prometheus.NewTimer(t.latency)
	defer timer.ObserveDuration()
	return t.inner.Evaluate(ctx, mint)
}

// exitTrader hands the engine to the position manager and records every
// exit sell in the audit trail.
type exitTrader struct {
	*execution.Engine
	trail *audit.Trail
}

func (t exitTrader) Sell(ctx context.Context, mint solana.Pubkey, percent decimal.Decimal) execution.SellResult {
	res := t.Engine.Sell(ctx, mint, percent)
	t.trail.OnSell(pipeline.OriginExit, res)
	return res
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// registerMetrics exposes component counters. Values are read from each
// component's Stats at scrape time.
func (a *app) registerMetrics(r *observability.Registry) {
	pipe := func(f func(pipeline.Stats) int64) func() float64 {
		return func() float64 { return float64(f(a.hunter.Stats())) }
	}
	r.CounterFunc("hunter_launch_events_total", "Launch stream events received",
		pipe(func(s pipeline.Stats) int64 { return s.LaunchEvents }))
	r.CounterFunc("hunter_launches_total", "Launches detected",
		pipe(func(s pipeline.Stats) int64 { return s.Launches }))
	r.CounterFunc("hunter_copy_trades_total", "Tracked wallet trades detected",
		pipe(func(s pipeline.Stats) int64 { return s.CopyTrades }))
	r.CounterFunc("hunter_duplicates_total", "Events dropped as duplicates",
		pipe(func(s pipeline.Stats) int64 { return s.Duplicates }))
	r.CounterFunc("hunter_risk_rejected_total", "Launches rejected by risk",
		pipe(func(s pipeline.Stats) int64 { return s.RiskRejected }))
	r.CounterFunc("hunter_fatal_errors_total", "Streams that gave up reconnecting",
		pipe(func(s pipeline.Stats) int64 { return s.FatalErrors }))
	r.GaugeFunc("hunter_dedup_window_size", "Signatures held by the dedup window",
		func() float64 { return float64(a.hunter.Stats().DedupSize) })
	r.CounterFunc("hunter_dedup_evicted_total", "Signatures evicted from the dedup window",
		func() float64 { return float64(a.hunter.Stats().DedupEvicted) })
	r.GaugeFunc("hunter_paused", "1 while new entries are paused",
		func() float64 { return boolGauge(a.hunter.Paused()) })

	r.CounterFunc("hunter_buys_total", "Successful buys",
		func() float64 { return float64(a.engine.Stats().Buys) })
	r.CounterFunc("hunter_sells_total", "Successful sells",
		func() float64 { return float64(a.engine.Stats().Sells) })
	r.CounterFunc("hunter_swaps_failed_total", "Swap attempts that failed",
		func() float64 { return float64(a.engine.Stats().SwapsFailed) })
	r.GaugeFunc("hunter_open_positions", "Open positions",
		func() float64 { return float64(a.engine.Stats().OpenPositions) })
	r.GaugeFunc("hunter_realized_pnl_sol", "Realized profit in SOL",
		func() float64 { return a.engine.GetTotalPnL().InexactFloat64() })

	r.CounterFunc("hunter_risk_evaluations_total", "Risk evaluations run",
		func() float64 { return float64(a.evaluator.Stats().Evaluations) })
	r.CounterFunc("hunter_risk_cache_hits_total", "Risk verdicts served from cache",
		func() float64 { return float64(a.evaluator.Stats().CacheHits) })
	r.CounterFunc("hunter_risk_provider_errors_total", "Risk provider failures",
		func() float64 { return float64(a.evaluator.Stats().ProviderErrors) })

	r.CounterFunc("hunter_exits_total", "Exit sells triggered by the position manager",
		func() float64 { return float64(a.monitor.Stats().Exits) })
	r.CounterFunc("hunter_quote_failures_total", "Position valuations that failed",
		func() float64 { return float64(a.monitor.Stats().QuoteFailures) })

	r.CounterFunc("hunter_rpc_requests_total", "Solana RPC requests",
		func() float64 { return float64(a.rpc.Stats().RequestCount) })
	r.CounterFunc("hunter_rpc_errors_total", "Solana RPC errors",
		func() float64 { return float64(a.rpc.Stats().ErrorCount) })
	r.GaugeFunc("hunter_stream_connected", "1 while the launch stream is subscribed",
		func() float64 { return boolGauge(a.launchStream.Stats().Connected) })
	r.CounterFunc("hunter_stream_reconnects_total", "Launch stream reconnects",
		func() float64 { return float64(a.launchStream.Stats().Reconnects) })
}

// newHealthMonitor registers a check per external dependency.
func (a *app) newHealthMonitor(redisCache *risk.RedisCache, logger zerolog.Logger) *observability.HealthMonitor {
	interval := time.Duration(a.cfg.Control.HealthIntervalS) * time.Second
	mon := observability.NewHealthMonitor(interval, 5*time.Second, logger)

	mon.Register("rpc", observability.ErrorCheck(a.rpc.Health, 2*time.Second))
	mon.Register("launch_stream", observability.FlagCheck(func() bool {
		return a.launchStream.Stats().Connected
	}, "not subscribed"))
	if a.copyStream != nil {
		mon.Register("copy_stream", observability.FlagCheck(func() bool {
			return a.copyStream.Stats().Connected
		}, "not subscribed"))
	}
	if redisCache != nil {
		mon.Register("redis", observability.ErrorCheck(redisCache.Ping, time.Second))
	}
	mon.Register("pipeline", func(context.Context) observability.ComponentHealth {
		if a.hunter.Stats().FatalErrors > 0 {
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: "stream gave up reconnecting"}
		}
		if a.hunter.Paused() {
			return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "paused"}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})
	return mon
}

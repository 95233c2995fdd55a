package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nexus-trading/hunter/internal/adapters/jupiter"
	"github.com/nexus-trading/hunter/internal/audit"
	"github.com/nexus-trading/hunter/internal/config"
	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/observability"
	"github.com/nexus-trading/hunter/internal/pipeline"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/sniper"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog/log"
)

// app holds the running components for the control plane and stats.
type app struct {
	cfg          *config.Config
	hunter       *pipeline.Hunter
	engine       *execution.Engine
	evaluator    *risk.Evaluator
	monitor      *sniper.Manager
	tracker      *copytrade.Tracker
	rpc          *solana.RPCClient
	jupiter      *jupiter.APIClient
	launchStream *solana.StreamClient
	copyStream   *solana.StreamClient // nil when copy trading is off
	trail        *audit.Trail
	metrics      *observability.Registry
	health       *observability.HealthMonitor
}

func (a *app) stats() map[string]any {
	combined := map[string]any{
		"pipeline":      a.hunter.Stats(),
		"execution":     a.engine.Stats(),
		"risk":          a.evaluator.Stats(),
		"positions":     a.monitor.Stats(),
		"copytrade":     a.tracker.Stats(),
		"rpc":           a.rpc.Stats(),
		"jupiter":       a.jupiter.Stats(),
		"launch_stream": a.launchStream.Stats(),
		"dry_run":       a.cfg.Trading.DryRun,
		"audit_entries": a.trail.Len(),
	}
	if a.copyStream != nil {
		combined["copy_stream"] = a.copyStream.Stats()
	}
	return combined
}

func (a *app) logStats(msg string) {
	ps := a.hunter.Stats()
	es := a.engine.Stats()
	rs := a.evaluator.Stats()
	ls := a.launchStream.Stats()
	log.Info().
		Bool("stream_connected", ls.Connected).
		Int64("stream_reconnects", ls.Reconnects).
		Int64("launches", ps.Launches).
		Int64("copy_trades", ps.CopyTrades).
		Int64("duplicates", ps.Duplicates).
		Int64("risk_evals", rs.Evaluations).
		Int64("risk_cache_hits", rs.CacheHits).
		Int64("risk_rejected", ps.RiskRejected).
		Int64("buys", es.Buys).
		Int64("sells", es.Sells).
		Int64("swaps_failed", es.SwapsFailed).
		Int("open_positions", es.OpenPositions).
		Str("total_pnl_sol", es.TotalPnL).
		Msg(msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// ── Health ──
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		h := a.health.Snapshot()
		status := http.StatusOK
		if h.Status == observability.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSONStatus(w, status, map[string]any{
			"status":     h.Status,
			"components": h.Components,
			"uptime_s":   int64(h.Uptime.Seconds()),
			"dry_run":    a.cfg.Trading.DryRun,
			"paused":     a.hunter.Paused(),
		})
	})

	// ── Stats / metrics ──
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.stats())
	})
	mux.Handle("/metrics", observability.PrometheusHandler(a.metrics))

	// ── Audit ──
	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		if mint := r.URL.Query().Get("mint"); mint != "" {
			writeJSON(w, a.trail.Query(solana.Pubkey(mint)))
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		writeJSON(w, a.trail.Recent(limit))
	})

	// ── Positions / trades / wallets ──
	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.hunter.GetPositions())
	})
	mux.HandleFunc("/trades", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"records":       a.engine.Ledger().Records(),
			"total_pnl_sol": a.hunter.GetTotalPnL().String(),
		})
	})
	mux.HandleFunc("/wallets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.tracker.GetWallets())
	})
	mux.HandleFunc("/wallets/remove", postOnly(func(w http.ResponseWriter, r *http.Request) {
		addr := solana.Pubkey(r.URL.Query().Get("address"))
		if !a.tracker.IsTracked(addr) {
			http.Error(w, "wallet not tracked", http.StatusNotFound)
			return
		}
		a.tracker.RemoveWallet(addr)
		log.Info().Str("wallet", string(addr)).Msg("[CONTROL] wallet removed")
		writeJSON(w, map[string]string{"status": "removed", "address": string(addr)})
	}))

	// ── Control Plane ──
	mux.HandleFunc("/control/pause", postOnly(func(w http.ResponseWriter, _ *http.Request) {
		a.hunter.Pause()
		log.Warn().Msg("[CONTROL] PAUSED - no new entries")
		writeJSON(w, map[string]string{"status": "paused"})
	}))
	mux.HandleFunc("/control/resume", postOnly(func(w http.ResponseWriter, _ *http.Request) {
		a.hunter.Resume()
		log.Info().Msg("[CONTROL] RESUMED")
		writeJSON(w, map[string]string{"status": "running"})
	}))
	mux.HandleFunc("/control/kill", postOnly(func(w http.ResponseWriter, _ *http.Request) {
		a.hunter.Pause()
		log.Error().Msg("[CONTROL] KILL SWITCH - closing all positions")
		go func() {
			killCtx, killCancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer killCancel()
			a.hunter.CloseAll(killCtx)
		}()
		writeJSON(w, map[string]string{"status": "killed", "action": "force_close_all"})
	}))
	mux.HandleFunc("/control/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"paused":         a.hunter.Paused(),
			"dry_run":        a.cfg.Trading.DryRun,
			"open_positions": len(a.hunter.GetPositions()),
			"instance_id":    a.cfg.General.InstanceID,
		})
	})

	return mux
}

// serveControl runs the HTTP control plane until ctx is cancelled.
func (a *app) serveControl(ctx context.Context) {
	addr := fmt.Sprintf(":%d", a.cfg.Control.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Hunter HTTP server started (health + stats + control)")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

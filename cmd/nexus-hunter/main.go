package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nexus-trading/hunter/internal/adapters/jupiter"
	"github.com/nexus-trading/hunter/internal/audit"
	"github.com/nexus-trading/hunter/internal/config"
	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/observability"
	"github.com/nexus-trading/hunter/internal/pipeline"
	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/sniper"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("NEXUS Hunter - Starting")
	log.Info().Msg("STREAM -> DETECT -> RISK -> EXECUTE -> MANAGE")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.Trading.DryRun).
		Bool("auto_buy", cfg.Trading.AutoBuy).
		Bool("copy_trade", cfg.CopyTrade.Enabled).
		Float64("max_buy_sol", cfg.Trading.MaxBuySOL).
		Float64("default_buy_sol", cfg.Trading.DefaultBuySOL).
		Int("pass_threshold", cfg.Risk.PassThreshold).
		Float64("stop_loss_pct", cfg.Monitoring.StopLossPct).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	logger := log.Logger

	// 4. Solana RPC + wallet.
	rpc := solana.NewRPCClient(rpcConfig(cfg), logger)
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rpc.Health(healthCtx); err != nil {
		log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
			Msg("Solana RPC health check failed (continuing, may be rate-limited)")
	} else {
		log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Solana RPC: connected")
	}
	healthCancel()

	wallet, err := loadWallet(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Wallet load failed")
	}
	log.Info().Str("wallet", wallet.PublicKey().Short()).Msg("Wallet loaded")

	feeEstimator := solana.NewPriorityFeeEstimator(rpc, cfg.Trading.PriorityFee, logger)

	// 5. Routing + execution.
	jupConfig := jupiter.DefaultConfig()
	jupConfig.BaseURL = cfg.Trading.JupiterURL
	jup := jupiter.NewAPIClient(jupConfig, logger)

	engine := execution.NewEngine(engineConfig(cfg), jup, rpc, wallet, feeEstimator, logger)

	// 6. Risk evaluator.
	var cache risk.Cache
	var redisCache *risk.RedisCache
	cacheTTL := time.Duration(cfg.Risk.CacheTTLS) * time.Second
	if cfg.Risk.RedisAddress != "" {
		redisCache = risk.NewRedisCache(risk.RedisConfig{
			Address:  cfg.Risk.RedisAddress,
			Password: cfg.Risk.RedisPassword,
			DB:       cfg.Risk.RedisDB,
		}, cacheTTL, logger)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Risk.RedisAddress).Msg("Redis unreachable, falling back to in-process risk cache")
			redisCache.Close()
			redisCache = nil
		} else {
			cache = redisCache
			log.Info().Str("addr", cfg.Risk.RedisAddress).Msg("Risk cache: redis")
		}
		pingCancel()
	}

	providerRetry := resilience.Policy{MaxAttempts: cfg.Risk.ProviderRetries, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}
	goplus := risk.NewGoPlusClient(risk.ProviderConfig{
		BaseURL:   cfg.Risk.GoPlusURL,
		APIKey:    cfg.Risk.GoPlusAPIKey,
		RateLimit: resilience.RateLimit{Requests: cfg.Risk.GoPlusRPM, Window: time.Minute},
		Retry:     providerRetry,
	}, logger)
	dex := risk.NewDexScreenerClient(risk.ProviderConfig{
		BaseURL:   cfg.Risk.DexScreenerURL,
		RateLimit: resilience.RateLimit{Requests: cfg.Risk.DexScreenerRPM, Window: time.Minute},
		Retry:     providerRetry,
	}, logger)
	evaluator := risk.NewEvaluator(riskConfig(cfg), goplus, dex, cache, logger)

	// 7. Audit trail, metrics, position manager.
	var auditFile *os.File
	if cfg.Audit.File != "" {
		auditFile, err = os.OpenFile(cfg.Audit.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Audit.File).Msg("Audit file open failed")
		}
	}
	var auditSink io.Writer
	if auditFile != nil {
		auditSink = auditFile
	}
	trail := audit.NewTrail(cfg.Audit.Buffer, auditSink, logger)

	metrics := observability.NewRegistry()
	metrics.RegisterRuntime()
	riskLatency := metrics.Histogram("hunter_risk_eval_seconds", "Risk evaluation latency in seconds", observability.LatencyBuckets)

	monitor := sniper.NewManager(monitorConfig(cfg), exitTrader{Engine: engine, trail: trail}, logger)

	// 8. Streams, detectors, tracked wallets.
	tracker := copytrade.NewTracker(copytrade.DefaultTrackerConfig(), logger)
	for _, w := range cfg.CopyTrade.Wallets {
		if err := tracker.AddWallet(w); err != nil {
			log.Fatal().Err(err).Str("wallet", string(w.Address)).Msg("Tracked wallet rejected")
		}
	}

	programs := cfg.Stream.Programs
	if len(programs) == 0 {
		programs = detect.DefaultPrograms()
	}
	launchStream := solana.NewStreamClient(streamConfig(cfg, "launch", programs), logger)

	var copyStream *solana.StreamClient
	deps := pipeline.Deps{
		LaunchStream: launchStream,
		Launches:     detect.NewLaunchDetector(logger),
		Wallets:      tracker,
		Risk:         timedEvaluator{inner: evaluator, latency: riskLatency},
		Engine:       engine,
		Monitor:      monitor,
	}
	if cfg.CopyTrade.Enabled {
		copyStream = solana.NewStreamClient(streamConfig(cfg, "copy", tracker.Addresses()), logger)
		deps.CopyStream = copyStream
		deps.Swaps = detect.NewSwapDetector(tracker, logger)
		log.Info().Int("wallets", tracker.Stats().TrackedWallets).Msg("Copy trading enabled")
	}

	hunter := pipeline.New(pipeline.Config{
		AutoBuy:       cfg.Trading.AutoBuy,
		DefaultBuySOL: decimal.NewFromFloat(cfg.Trading.DefaultBuySOL),
		CopyTrade:     cfg.CopyTrade.Enabled,
	}, deps, pipeline.Observers{pipeline.LogObserver{Logger: logger}, trail}, logger)

	// 9. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 10. Start services.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		feeEstimator.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hunter.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Hunter error")
		}
	}()

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
		copyStream:   copyStream,
		trail:        trail,
		metrics:      metrics,
	}
	svc.registerMetrics(metrics)
	svc.health = svc.newHealthMonitor(redisCache, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.health.Run(ctx)
	}()

	if cfg.Control.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.serveControl(ctx)
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.logStats("Hunter stats")
			}
		}
	}()

	// 11. Block until shutdown.
	<-ctx.Done()

	// 12. Graceful shutdown.
	log.Info().Msg("Shutting down Hunter...")
	wg.Wait()

	// Positions live in memory only; close them before exiting.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if failed := hunter.CloseAll(shutdownCtx); failed > 0 {
		log.Error().Int("failed", failed).Msg("Some positions could not be closed")
	}
	shutdownCancel()

	if redisCache != nil {
		redisCache.Close()
	}
	if auditFile != nil {
		auditFile.Close()
	}

	svc.logStats("NEXUS Hunter - Final Statistics")
	log.Info().Msg("NEXUS Hunter - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "nexus-hunter").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "nexus-hunter").
			Str("instance", general.InstanceID).Logger()
	}
}

// loadWallet decodes the configured key. Dry runs without a key get a
// throwaway keypair; it never signs anything.
func loadWallet(cfg *config.Config) (*solana.Keypair, error) {
	if cfg.Solana.PrivateKey != "" {
		return solana.KeypairFromBase58(cfg.Solana.PrivateKey)
	}
	if !cfg.Trading.DryRun {
		return nil, fmt.Errorf("solana.private_key is required for live trading")
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return solana.NewKeypairFromSeed(seed)
}

package main

import (
	"time"

	"github.com/nexus-trading/hunter/internal/config"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/resilience"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/nexus-trading/hunter/internal/sniper"
	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/shopspring/decimal"
)

// Config translation: file config (flat floats / unit-suffixed ints) into
// the typed component configs.

func rpcConfig(cfg *config.Config) solana.RPCConfig {
	rc := solana.DefaultRPCConfig()
	rc.Endpoint = cfg.Solana.RPCEndpoint
	rc.ConfirmTimeout = time.Duration(cfg.Solana.ConfirmTimeoutS) * time.Second
	if cfg.Solana.RateLimitRPS > 0 {
		rps := int(cfg.Solana.RateLimitRPS)
		if rps < 1 {
			rps = 1
		}
		rc.RateLimit = resilience.RateLimit{Requests: rps, Window: time.Second}
	}
	return rc
}

func streamConfig(cfg *config.Config, name string, accounts []string) solana.StreamConfig {
	return solana.StreamConfig{
		Name:           name,
		WSEndpoint:     cfg.Solana.WSEndpoint,
		Accounts:       accounts,
		Commitment:     cfg.Solana.Commitment,
		ConnectTimeout: time.Duration(cfg.Stream.ConnectTimeoutS) * time.Second,
		PingInterval:   time.Duration(cfg.Stream.PingIntervalS) * time.Second,
		ReconnectDelay: time.Duration(cfg.Stream.ReconnectDelayMs) * time.Millisecond,
		MaxReconnects:  cfg.Stream.MaxReconnects,
		BufferSize:     cfg.Stream.BufferSize,
	}
}

func engineConfig(cfg *config.Config) execution.Config {
	return execution.Config{
		MaxBuySOL:    decimal.NewFromFloat(cfg.Trading.MaxBuySOL),
		FeeBufferSOL: decimal.NewFromFloat(cfg.Trading.FeeBufferSOL),
		SlippageBps:  cfg.Trading.SlippageBps,
		PriorityFee:  cfg.Trading.PriorityFee,
		Commitment:   cfg.Solana.Commitment,
		Retry: resilience.Policy{
			MaxAttempts: cfg.Trading.RetryAttempts,
			BaseDelay:   time.Duration(cfg.Trading.RetryBaseDelayMs) * time.Millisecond,
		},
		DryRun: cfg.Trading.DryRun,
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		PassThreshold:   cfg.Risk.PassThreshold,
		MinLiquidityUSD: decimal.NewFromFloat(cfg.Risk.MinLiquidityUSD),
		MaxTaxPct:       decimal.NewFromFloat(cfg.Risk.MaxTaxPct),
		CacheTTL:        time.Duration(cfg.Risk.CacheTTLS) * time.Second,
		ProviderTimeout: time.Duration(cfg.Risk.ProviderTimeoutS) * time.Second,
	}
}

func monitorConfig(cfg *config.Config) sniper.Config {
	m := cfg.Monitoring
	return sniper.Config{
		PollInterval: time.Duration(m.PollIntervalMs) * time.Millisecond,
		QuoteTimeout: 10 * time.Second,
		Exits: sniper.ExitConfig{
			FirstTarget:        decimal.NewFromFloat(m.FirstTarget),
			FirstTargetSellPct: decimal.NewFromFloat(m.FirstTargetSellPct),
			SecondTarget:       decimal.NewFromFloat(m.SecondTarget),
			StopLossPct:        decimal.NewFromFloat(m.StopLossPct),
			TrailingStopPct:    decimal.NewFromFloat(m.TrailingStopPct),
			TimeExit:           time.Duration(m.TimeExitMinutes) * time.Minute,
		},
	}
}

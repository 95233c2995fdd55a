package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nexus-trading/hunter/internal/copytrade"
	"github.com/nexus-trading/hunter/internal/solana"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hunter.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Solana     SolanaConfig     `yaml:"solana"`
	Stream     StreamConfig     `yaml:"stream"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	CopyTrade  CopyTradeConfig  `yaml:"copytrade"`
	Control    ControlConfig    `yaml:"control"`
	Audit      AuditConfig      `yaml:"audit"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type SolanaConfig struct {
	RPCEndpoint     string  `yaml:"rpc_endpoint"`
	WSEndpoint      string  `yaml:"ws_endpoint"`
	Commitment      string  `yaml:"commitment"` // processed|confirmed|finalized
	RateLimitRPS    float64 `yaml:"rate_limit_rps"`
	PrivateKey      string  `yaml:"private_key"` // base58 64-byte secret
	ConfirmTimeoutS int     `yaml:"confirm_timeout_s"`
}

type StreamConfig struct {
	ConnectTimeoutS  int      `yaml:"connect_timeout_s"`
	PingIntervalS    int      `yaml:"ping_interval_s"`
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
	MaxReconnects    int      `yaml:"max_reconnects"`
	BufferSize       int      `yaml:"buffer_size"`
	Programs         []string `yaml:"programs"` // empty = all known venues
}

type TradingConfig struct {
	MaxBuySOL        float64 `yaml:"max_buy_sol"`
	DefaultBuySOL    float64 `yaml:"default_buy_sol"`
	SlippageBps      int     `yaml:"slippage_bps"`
	PriorityFee      uint64  `yaml:"priority_fee"` // micro-lamports per CU, fallback for the estimator
	FeeBufferSOL     float64 `yaml:"fee_buffer_sol"`
	RetryAttempts    int     `yaml:"retry_attempts"`
	RetryBaseDelayMs int     `yaml:"retry_base_delay_ms"`
	DryRun           bool    `yaml:"dry_run"`
	AutoBuy          bool    `yaml:"auto_buy"`
	JupiterURL       string  `yaml:"jupiter_url"`
}

type RiskConfig struct {
	PassThreshold    int     `yaml:"pass_threshold"`
	MinLiquidityUSD  float64 `yaml:"min_liquidity_usd"`
	MaxTaxPct        float64 `yaml:"max_tax_pct"`
	CacheTTLS        int     `yaml:"cache_ttl_s"`
	ProviderTimeoutS int     `yaml:"provider_timeout_s"`
	ProviderRetries  int     `yaml:"provider_retries"`
	GoPlusURL        string  `yaml:"goplus_url"`
	GoPlusAPIKey     string  `yaml:"goplus_api_key"`
	GoPlusRPM        int     `yaml:"goplus_rpm"`
	DexScreenerURL   string  `yaml:"dexscreener_url"`
	DexScreenerRPM   int     `yaml:"dexscreener_rpm"`
	RedisAddress     string  `yaml:"redis_address"` // empty = in-process cache
	RedisPassword    string  `yaml:"redis_password"`
	RedisDB          int     `yaml:"redis_db"`
}

type MonitoringConfig struct {
	PollIntervalMs     int     `yaml:"poll_interval_ms"`
	FirstTarget        float64 `yaml:"first_target"` // multiple of entry, e.g. 2.0
	FirstTargetSellPct float64 `yaml:"first_target_sell_pct"`
	SecondTarget       float64 `yaml:"second_target"` // multiple of entry, e.g. 5.0
	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TrailingStopPct    float64 `yaml:"trailing_stop_pct"`
	TimeExitMinutes    int     `yaml:"time_exit_minutes"` // 0 = disabled
}

type CopyTradeConfig struct {
	Enabled bool                      `yaml:"enabled"`
	Wallets []copytrade.TrackedWallet `yaml:"wallets"`
}

type ControlConfig struct {
	Enabled         bool `yaml:"enabled"`
	Port            int  `yaml:"port"`
	HealthIntervalS int  `yaml:"health_interval_s"`
}

type AuditConfig struct {
	Buffer int    `yaml:"buffer"` // entries kept in memory
	File   string `yaml:"file"`   // JSON lines, appended; empty = memory only
}

// Load reads and parses a YAML configuration file. A .env file in the
// working directory, if present, is loaded first so ${VAR} references in
// the YAML can resolve from it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "hunter-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.WSEndpoint == "" {
		cfg.Solana.WSEndpoint = "wss://atlas-mainnet.helius-rpc.com"
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = solana.CommitmentConfirmed
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}
	if cfg.Solana.ConfirmTimeoutS == 0 {
		cfg.Solana.ConfirmTimeoutS = 60
	}

	if cfg.Stream.ConnectTimeoutS == 0 {
		cfg.Stream.ConnectTimeoutS = 30
	}
	if cfg.Stream.PingIntervalS == 0 {
		cfg.Stream.PingIntervalS = 30
	}
	if cfg.Stream.ReconnectDelayMs == 0 {
		cfg.Stream.ReconnectDelayMs = 1000
	}
	if cfg.Stream.MaxReconnects == 0 {
		cfg.Stream.MaxReconnects = 10
	}
	if cfg.Stream.BufferSize == 0 {
		cfg.Stream.BufferSize = 1024
	}

	if cfg.Trading.MaxBuySOL == 0 {
		cfg.Trading.MaxBuySOL = 0.1
	}
	if cfg.Trading.DefaultBuySOL == 0 {
		cfg.Trading.DefaultBuySOL = 0.05
	}
	if cfg.Trading.SlippageBps == 0 {
		cfg.Trading.SlippageBps = 300
	}
	if cfg.Trading.PriorityFee == 0 {
		cfg.Trading.PriorityFee = 100_000
	}
	if cfg.Trading.FeeBufferSOL == 0 {
		cfg.Trading.FeeBufferSOL = 0.01
	}
	if cfg.Trading.RetryAttempts == 0 {
		cfg.Trading.RetryAttempts = 3
	}
	if cfg.Trading.RetryBaseDelayMs == 0 {
		cfg.Trading.RetryBaseDelayMs = 1000
	}
	if cfg.Trading.JupiterURL == "" {
		cfg.Trading.JupiterURL = "https://quote-api.jup.ag/v6"
	}

	if cfg.Risk.PassThreshold == 0 {
		cfg.Risk.PassThreshold = 70
	}
	if cfg.Risk.MinLiquidityUSD == 0 {
		cfg.Risk.MinLiquidityUSD = 5000
	}
	if cfg.Risk.MaxTaxPct == 0 {
		cfg.Risk.MaxTaxPct = 5
	}
	if cfg.Risk.CacheTTLS == 0 {
		cfg.Risk.CacheTTLS = 300
	}
	if cfg.Risk.ProviderTimeoutS == 0 {
		cfg.Risk.ProviderTimeoutS = 10
	}
	if cfg.Risk.ProviderRetries == 0 {
		cfg.Risk.ProviderRetries = 3
	}
	if cfg.Risk.GoPlusURL == "" {
		cfg.Risk.GoPlusURL = "https://api.gopluslabs.io"
	}
	if cfg.Risk.GoPlusRPM == 0 {
		cfg.Risk.GoPlusRPM = 30
	}
	if cfg.Risk.DexScreenerURL == "" {
		cfg.Risk.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Risk.DexScreenerRPM == 0 {
		cfg.Risk.DexScreenerRPM = 300
	}

	if cfg.Monitoring.PollIntervalMs == 0 {
		cfg.Monitoring.PollIntervalMs = 5000
	}
	if cfg.Monitoring.FirstTarget == 0 {
		cfg.Monitoring.FirstTarget = 2.0
	}
	if cfg.Monitoring.FirstTargetSellPct == 0 {
		cfg.Monitoring.FirstTargetSellPct = 50
	}
	if cfg.Monitoring.SecondTarget == 0 {
		cfg.Monitoring.SecondTarget = 5.0
	}
	if cfg.Monitoring.StopLossPct == 0 {
		cfg.Monitoring.StopLossPct = 30
	}
	if cfg.Monitoring.TrailingStopPct == 0 {
		cfg.Monitoring.TrailingStopPct = 20
	}

	for i := range cfg.CopyTrade.Wallets {
		if cfg.CopyTrade.Wallets[i].Tier == "" {
			cfg.CopyTrade.Wallets[i].Tier = copytrade.TierSmartMoney
		}
	}

	if cfg.Control.Port == 0 {
		cfg.Control.Port = 8090
	}
	if cfg.Control.HealthIntervalS == 0 {
		cfg.Control.HealthIntervalS = 30
	}

	if cfg.Audit.Buffer == 0 {
		cfg.Audit.Buffer = 1000
	}
}

// Validate checks cross-field constraints. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Solana.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		fail("solana.commitment: unknown level %q", c.Solana.Commitment)
	}
	if !c.Trading.DryRun && strings.TrimSpace(c.Solana.PrivateKey) == "" {
		fail("solana.private_key: required when trading.dry_run is false")
	}

	if c.Trading.MaxBuySOL <= 0 {
		fail("trading.max_buy_sol: must be positive")
	}
	if c.Trading.DefaultBuySOL <= 0 || c.Trading.DefaultBuySOL > c.Trading.MaxBuySOL {
		fail("trading.default_buy_sol: must be in (0, max_buy_sol]")
	}
	if c.Trading.SlippageBps < 1 || c.Trading.SlippageBps > 10_000 {
		fail("trading.slippage_bps: must be in [1, 10000]")
	}
	if c.Trading.RetryAttempts < 1 {
		fail("trading.retry_attempts: must be at least 1")
	}

	if c.Risk.PassThreshold < 0 || c.Risk.PassThreshold > 100 {
		fail("risk.pass_threshold: must be in [0, 100]")
	}

	m := c.Monitoring
	if m.FirstTarget <= 1 {
		fail("monitoring.first_target: must be above 1.0")
	}
	if m.SecondTarget <= m.FirstTarget {
		fail("monitoring.second_target: must be above first_target")
	}
	if m.FirstTargetSellPct <= 0 || m.FirstTargetSellPct > 100 {
		fail("monitoring.first_target_sell_pct: must be in (0, 100]")
	}
	if m.StopLossPct < 0 || m.StopLossPct >= 100 {
		fail("monitoring.stop_loss_pct: must be in [0, 100)")
	}
	if m.TrailingStopPct < 0 || m.TrailingStopPct >= 100 {
		fail("monitoring.trailing_stop_pct: must be in [0, 100)")
	}

	if c.CopyTrade.Enabled && len(c.CopyTrade.Wallets) == 0 {
		fail("copytrade.wallets: at least one wallet required when enabled")
	}
	for i, w := range c.CopyTrade.Wallets {
		if _, err := solana.ParsePubkey(string(w.Address)); err != nil {
			fail("copytrade.wallets[%d]: %w", i, err)
			continue
		}
		if !solana.IsOnCurve(w.Address) {
			fail("copytrade.wallets[%d]: %s is not a wallet address (off curve)", i, w.Address)
		}
	}

	return errors.Join(errs...)
}

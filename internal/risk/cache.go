package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache stores verdicts per mint. Implementations must not return a verdict
// older than their TTL.
type Cache interface {
	Get(ctx context.Context, mint solana.Pubkey) (*Verdict, bool)
	Set(ctx context.Context, v *Verdict)
}

// ---- In-memory ----

// MemoryCache is a mutex-guarded map with per-entry expiry. Set sweeps
// expired entries at most once per TTL, so mints that are never read again
// do not accumulate.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	entries   map[solana.Pubkey]*Verdict
	lastSweep time.Time
}

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:       ttl,
		now:       time.Now,
		entries:   make(map[solana.Pubkey]*Verdict),
		lastSweep: time.Now(),
	}
}

func (c *MemoryCache) Get(_ context.Context, mint solana.Pubkey) (*Verdict, bool) {
	c.mu.RLock()
	v, ok := c.entries[mint]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(v.EvaluatedAt) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[mint]; ok && cur == v {
			delete(c.entries, mint)
		}
		c.mu.Unlock()
		return nil, false
	}
	return v, true
}

func (c *MemoryCache) Set(_ context.Context, v *Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := c.now(); now.Sub(c.lastSweep) >= c.ttl {
		c.prune(now)
		c.lastSweep = now
	}
	c.entries[v.Mint] = v
}

// prune drops expired entries and returns how many were removed.
// Caller holds mu.
func (c *MemoryCache) prune(now time.Time) int {
	removed := 0
	for k, v := range c.entries {
		if now.Sub(v.EvaluatedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached verdicts, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ---- Redis ----

// RedisConfig configures the shared verdict cache.
type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RedisCache shares verdicts between instances. Entries expire server-side
// (SET ... EX ttl). Redis errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache connects lazily; the first command dials.
func NewRedisCache(cfg RedisConfig, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "hunter:risk:"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		MaxRetries:   1,
	})
	return &RedisCache{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "risk_cache").Logger(),
	}
}

func (c *RedisCache) key(mint solana.Pubkey) string { return c.prefix + string(mint) }

func (c *RedisCache) Get(ctx context.Context, mint solana.Pubkey) (*Verdict, bool) {
	raw, err := c.client.Get(ctx, c.key(mint)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("mint", mint.Short()).Msg("risk_cache: get failed")
		}
		return nil, false
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn().Err(err).Str("mint", mint.Short()).Msg("risk_cache: corrupt entry")
		return nil, false
	}
	if v.Age() >= c.ttl {
		return nil, false
	}
	return &v, true
}

func (c *RedisCache) Set(ctx context.Context, v *Verdict) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("risk_cache: marshal verdict")
		return
	}
	if err := c.client.Set(ctx, c.key(v.Mint), raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("mint", v.Mint.Short()).Msg("risk_cache: set failed")
	}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("risk_cache: ping %s: %w", c.client.Options().Addr, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

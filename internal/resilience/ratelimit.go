package resilience

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a token bucket: Requests slots per Window. Callers block in
// Wait until a slot frees; the caller's context bounds the wait.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Limiter builds a limiter that refills one slot every Window/Requests and
// allows bursts of up to Requests.
func (r RateLimit) Limiter() *rate.Limiter {
	if r.Requests <= 0 || r.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(r.Window/time.Duration(r.Requests)), r.Requests)
}

// Wait takes one slot from l, honouring ctx.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

package resilience

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ---------------------------------------------------------------------------
// Retry policy — exponential backoff shared by the stream reconnector,
// the swap executor and the RPC client.
// ---------------------------------------------------------------------------

// DefaultBaseDelay is used when a policy is built with a zero base delay.
const DefaultBaseDelay = 500 * time.Millisecond

// Policy describes a bounded exponential backoff.
// The delay before attempt n (n >= 2) is BaseDelay * 2^(n-2), i.e. the wait
// after the k-th failure is BaseDelay * 2^(k-1).
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"` // 0 = uncapped
}

// Delay returns the wait after the given failure count (1-based).
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	shift := failures - 1
	if shift > 30 {
		shift = 30
	}
	d := base * time.Duration(1<<uint(shift))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether the failure count has used up the policy.
func (p Policy) Exhausted(failures int) bool {
	return failures >= p.attempts()
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	return goretry.WithMaxRetries(uint64(p.attempts()-1), b)
}

// Do runs fn until it succeeds, returns a Permanent error, or the policy is
// exhausted. The last failure is the one returned. A Permanent error keeps
// its mark so an outer policy wrapping this one stops as well.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || IsPermanent(err) {
			return err
		}
		return goretry.RetryableError(err)
	})
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (validation, on-chain rejection
// of a malformed request, ...).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

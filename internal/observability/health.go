package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ComponentStatus is the health of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck reports the health of one component. Name, LastChecked and
// Latency are filled in by the monitor.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the last result for one component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ns"`
}

// SystemHealth is the worst component status plus every component result.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     time.Duration              `json:"uptime_ns"`
}

// ErrorCheck adapts an error-returning check. An error is unhealthy; a
// check slower than slow is degraded.
func ErrorCheck(fn func(ctx context.Context) error, slow time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		if err := fn(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		if slow > 0 && time.Since(start) > slow {
			return ComponentHealth{Status: StatusDegraded, Message: "slow response"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// FlagCheck reports unhealthy with message whenever ok returns false.
func FlagCheck(ok func() bool, message string) HealthCheck {
	return func(context.Context) ComponentHealth {
		if ok() {
			return ComponentHealth{Status: StatusHealthy}
		}
		return ComponentHealth{Status: StatusUnhealthy, Message: message}
	}
}

// HealthMonitor runs registered checks concurrently on an interval and logs
// every status transition.
type HealthMonitor struct {
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	started  time.Time

	mu      sync.RWMutex
	checks  map[string]HealthCheck
	results map[string]ComponentHealth

	transitions atomic.Int64
}

// NewHealthMonitor creates a monitor. Each check gets at most timeout.
func NewHealthMonitor(interval, timeout time.Duration, logger zerolog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "health").Logger(),
		started:  time.Now(),
		checks:   make(map[string]HealthCheck),
		results:  make(map[string]ComponentHealth),
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Run checks immediately and then on every interval until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs every check now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	var (
		resMu   sync.Mutex
		results = make(map[string]ComponentHealth, len(checks))
		g       errgroup.Group
	)
	for name, fn := range checks {
		name, fn := name, fn
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			h := fn(checkCtx)
			h.Name = name
			h.LastChecked = time.Now()
			h.Latency = time.Since(start)

			resMu.Lock()
			results[name] = h
			resMu.Unlock()
			return nil
		})
	}
	g.Wait()

	m.mu.Lock()
	previous := m.results
	m.results = results
	m.mu.Unlock()

	for name, cur := range results {
		if prev, ok := previous[name]; ok && prev.Status == cur.Status {
			continue
		}
		m.transitions.Add(1)
		ev := m.logger.Info()
		switch cur.Status {
		case StatusDegraded:
			ev = m.logger.Warn()
		case StatusUnhealthy:
			ev = m.logger.Error()
		}
		ev.Str("check", name).
			Str("status", string(cur.Status)).
			Str("message", cur.Message).
			Msg("health: status changed")
	}
	return m.Snapshot()
}

// Snapshot returns the last results without running any check.
func (m *HealthMonitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := StatusHealthy
	components := make(map[string]ComponentHealth, len(m.results))
	for name, h := range m.results {
		components[name] = h
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Uptime:     time.Since(m.started),
	}
}

// ComponentStatus returns the last result for name.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

// Transitions returns how many status changes have been observed.
func (m *HealthMonitor) Transitions() int64 { return m.transitions.Load() }

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	}
	return -1
}

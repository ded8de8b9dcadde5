// Package health provides periodic health checks with auto-recovery.
// Results feed the /health endpoint and the health_check_status gauge.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/focusquest/focusquest/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is the durable store's liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the standard checks observe.
type Deps struct {
	Store      Pinger
	Pending    func() int                    // writes the store has not accepted yet
	Flush      func(ctx context.Context) int // retries pending writes, returns what is left
	Backlog    func() int                    // notification dispatcher queue length
	DataDir    string
	MaxPending int // pending writes above this mark the store degraded
	MaxBacklog int
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *slog.Logger
}

// NewChecker creates a health checker with the standard checks.
func NewChecker(d Deps, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if d.MaxPending <= 0 {
		d.MaxPending = 100
	}
	if d.MaxBacklog <= 0 {
		d.MaxBacklog = 512
	}

	checks := []Check{
		{
			Name: "sqlite",
			CheckFn: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return d.Store.Ping(ctx)
			},
			RecoverFn: func(ctx context.Context) error {
				return nil // SQLite auto-recovers via WAL
			},
		},
		{
			Name: "pending_writes",
			CheckFn: func(ctx context.Context) error {
				if n := d.Pending(); n > d.MaxPending {
					return fmt.Errorf("%d writes waiting for the store (max %d)", n, d.MaxPending)
				}
				return nil
			},
			RecoverFn: func(ctx context.Context) error {
				if pending := d.Flush(ctx); pending > d.MaxPending {
					return fmt.Errorf("still %d pending after flush", pending)
				}
				return nil
			},
		},
		{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(d.DataDir)
			},
		},
	}
	if d.Backlog != nil {
		checks = append(checks, Check{
			Name: "notification_backlog",
			CheckFn: func(ctx context.Context) error {
				if n := d.Backlog(); n > d.MaxBacklog {
					return fmt.Errorf("%d notifications queued (max %d)", n, d.MaxBacklog)
				}
				return nil
			},
		})
	}

	return &Checker{
		checks:   checks,
		interval: interval,
		log:      slog.Default().With("component", "health"),
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			c.log.Warn("health check failed", "check", check.Name, "err", err)
			// Attempt recovery
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Warn("recovery failed", "check", check.Name, "err", rerr)
				}
			}
		} else {
			s.Healthy = true
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(boolGauge(s.Healthy))
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// RunOnce runs every check synchronously and returns the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	c.runAll(ctx)
	return c.Statuses()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

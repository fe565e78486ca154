// Package health provides periodic health checks with optional recovery.
// Three checks run every 60 seconds: sqlite, artifacts_dir and workers.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/infra/metrics"
	"github.com/tutu-network/reelq/internal/infra/sqlite"
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

// WorkerSource lists the current workers.
type WorkerSource interface {
	Snapshot() []domain.WorkerCredential
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// ErrNoViableWorker is reported when every worker lacks a secret or is quarantined.
var ErrNoViableWorker = errors.New("no viable worker: configure a secret or restore a quarantined worker")

// NewChecker creates a health checker with the standard checks.
func NewChecker(db *sqlite.DB, artifactsDir string, workers WorkerSource) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "artifacts_dir",
				CheckFn: func(ctx context.Context) error {
					return checkWritable(artifactsDir)
				},
				RecoverFn: func(ctx context.Context) error {
					return os.MkdirAll(artifactsDir, 0755)
				},
			},
			{
				Name: "workers",
				CheckFn: func(ctx context.Context) error {
					return checkWorkers(workers.Snapshot())
				},
			},
		},
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

// RunOnce runs every check now and returns the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	c.runAll(ctx)
	return c.Statuses()
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
			log.WithFields(log.Fields{"component": "health", "check": check.Name}).
				WithError(err).Warn("health check failed")
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					log.WithField("check", check.Name).WithError(rerr).Warn("recovery failed")
				}
			}
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
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

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("artifacts dir %s does not exist", dir)
		}
		return fmt.Errorf("check artifacts dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".reelq-probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("artifacts dir not writable: %w", err)
	}
	return os.Remove(probe)
}

func checkWorkers(workers []domain.WorkerCredential) error {
	for _, w := range workers {
		if w.Viable() {
			return nil
		}
	}
	return ErrNoViableWorker
}

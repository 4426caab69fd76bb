// Package handlers holds reusable pieces behind the HTTP API.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the health of the service and its backends.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns an error when the checked component is unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is satisfied by the postgres connection, the redis cache and the
// sqlite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// HealthStatus is the aggregated result.
type HealthStatus struct {
	// Healthy is false when a critical check fails.
	Healthy bool `json:"healthy"`

	// Degraded is true when only optional checks fail, e.g. the result
	// cache, without which queries are recomputed.
	Degraded bool `json:"degraded,omitempty"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type namedCheck struct {
	fn       HealthCheckFunc
	critical bool
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker runs all registered checks concurrently.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a checker with a 3s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]namedCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   3 * time.Second,
	}
}

// AddCheck registers a critical check.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.add(name, fn, true)
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.add(name, fn, false)
}

func (c *CompositeHealthChecker) add(name string, fn HealthCheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: fn, critical: critical}
}

// Check runs every check and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, nc := range c.checks {
		checks[name] = nc
	}
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, nc := range checks {
		name, nc := name, nc
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := nc.fn(checkCtx)
			res := CheckResult{
				Healthy:  err == nil,
				Critical: nc.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for name, res := range status.Checks {
		if res.Healthy {
			continue
		}
		failed = append(failed, name)
		if res.Critical {
			status.Healthy = false
		} else {
			status.Degraded = true
		}
	}
	sort.Strings(failed)

	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		status.Message = "Failed checks: " + strings.Join(failed, ", ")
	}
	return status
}

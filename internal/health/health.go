// Package health serves the health, readiness and liveness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result.
type Check struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// CheckFunc produces the current state of one component.
type CheckFunc func(context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// CheckHealth performs all registered health checks.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Check, len(c.checks))
	for name, checkFunc := range c.checks {
		results[name] = checkFunc(ctx)
	}
	return results
}

// Handler returns an HTTP handler for health checks. Any unhealthy check
// makes the response a 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())

		overallStatus := StatusHealthy
		for _, check := range results {
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
				break
			}
		}

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// PingCheck adapts a reachability probe such as a Docker daemon ping.
func PingCheck(ping func(context.Context) error, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		check := Check{Status: StatusHealthy, Timestamp: time.Now()}
		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Details = map[string]any{"error": err.Error()}
		}
		return check
	}
}

// Readiness tracks whether the service has finished starting up.
type Readiness struct {
	ready atomic.Bool
}

// SetReady marks the service ready or not ready.
func (r *Readiness) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Handler returns 200 once ready and 503 before.
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !r.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}

// Package health exposes liveness and readiness probes for the service and
// its dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfmeta/workflow-agent/pkg/logging"
)

// Status constants for check results
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// Check probes one dependency. Critical checks gate readiness; non-critical
// checks only report.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Probe    func(ctx context.Context) error
}

// Result is the latest outcome of one check
type Result struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Critical  bool      `json:"critical"`
	CheckedAt time.Time `json:"checked_at"`
	Duration  string    `json:"duration"`
}

// Checker runs dependency probes on demand and serves the probe endpoints
type Checker struct {
	mu      sync.RWMutex
	checks  []Check
	ready   atomic.Bool
	started time.Time
	version string
	logger  *logging.StructuredLogger
}

// NewChecker creates a health checker. Readiness starts false until the
// service flips it after initialization.
func NewChecker(version string, logger *logging.StructuredLogger) *Checker {
	return &Checker{
		started: time.Now(),
		version: version,
		logger:  logger.WithComponent("health"),
	}
}

// RegisterCheck adds a dependency probe
func (c *Checker) RegisterCheck(check Check) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// SetReady flips the readiness gate. Called once startup ingestion and
// dependency wiring completed, and again on shutdown.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Run executes every registered probe and returns the results
func (c *Checker) Run(ctx context.Context) []Result {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		results = append(results, c.runOne(ctx, check))
	}
	return results
}

func (c *Checker) runOne(ctx context.Context, check Check) Result {
	probeCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := time.Now()
	err := check.Probe(probeCtx)
	result := Result{
		Name:      check.Name,
		Status:    StatusHealthy,
		Critical:  check.Critical,
		CheckedAt: start,
		Duration:  time.Since(start).String(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		c.logger.Warn("health probe failed", "check", check.Name, "error", err)
	}
	return result
}

// HealthzHandler serves liveness: the process is up and serving
func (c *Checker) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  StatusHealthy,
		"version": c.version,
		"uptime":  time.Since(c.started).String(),
	})
}

// ReadyzHandler serves readiness: initialization finished and every critical
// dependency answers its probe.
func (c *Checker) ReadyzHandler(w http.ResponseWriter, r *http.Request) {
	if !c.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": StatusUnknown,
			"reason": "service is still initializing",
		})
		return
	}

	results := c.Run(r.Context())
	status := StatusHealthy
	code := http.StatusOK
	for _, res := range results {
		if res.Status == StatusUnhealthy && res.Critical {
			status = StatusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": c.version,
		"uptime":  time.Since(c.started).String(),
		"checks":  results,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Package health provides liveness and readiness endpoints for a node.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Check reports whether one dependency is usable
type Check func(ctx context.Context) error

// Checker runs named readiness checks in the background and serves the
// last result
type Checker struct {
	logger        *zap.Logger
	checkInterval time.Duration
	checkTimeout  time.Duration

	mu        sync.RWMutex
	checks    map[string]Check
	results   map[string]error
	ready     bool
	lastCheck time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status    string `json:"status"`
	NodeID    string `json:"node_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	LastCheck string            `json:"last_check,omitempty"`
}

// NewChecker creates a checker. Call Start to begin background checks.
func NewChecker(interval time.Duration, logger *zap.Logger) *Checker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Checker{
		logger:        logger,
		checkInterval: interval,
		checkTimeout:  interval,
		checks:        make(map[string]Check),
		results:       make(map[string]error),
		stopChan:      make(chan struct{}),
	}
}

// Register adds a named check
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Start runs the checks now and then on every interval
func (c *Checker) Start() {
	c.RunChecks(context.Background())
	go c.backgroundCheck()
}

// Stop ends the background checks
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Checker) backgroundCheck() {
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunChecks(context.Background())
		case <-c.stopChan:
			return
		}
	}
}

// RunChecks runs every check once and records the results
func (c *Checker) RunChecks(ctx context.Context) bool {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]error, len(checks))
	ready := true
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		err := check(checkCtx)
		cancel()
		results[name] = err
		if err != nil {
			ready = false
			c.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.results = results
	c.ready = ready
	c.lastCheck = time.Now()
	c.mu.Unlock()
	return ready
}

// IsReady returns the current readiness status.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// ReadinessHandler handles GET /ready requests.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	ready := c.ready
	last := c.lastCheck
	names := make([]string, 0, len(c.results))
	for name := range c.results {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := c.results[name]; err != nil {
			checks[name] = err.Error()
		} else {
			checks[name] = "healthy"
		}
	}
	c.mu.RUnlock()

	resp := ReadinessResponse{Status: "ready", Checks: checks}
	if !last.IsZero() {
		resp.LastCheck = last.Format(time.RFC3339)
	}
	if !ready {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

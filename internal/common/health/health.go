// Package health provides liveness, readiness and dependency health endpoints
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependency and overall statuses
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"

	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health of the service
type HealthStatus struct {
	Status       string                     `json:"status"` // healthy, degraded, unhealthy
	Version      string                     `json:"version,omitempty"`
	Uptime       string                     `json:"uptime"`
	Dependencies map[string]DependencyCheck `json:"dependencies"`
	CheckedAt    time.Time                  `json:"checked_at"`
}

// DependencyCheck represents the health check result for a single dependency
type DependencyCheck struct {
	Status    string    `json:"status"` // up, degraded, down
	Latency   string    `json:"latency"`
	Details   string    `json:"details,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthChecker is implemented by every dependency check
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) DependencyCheck
}

// Pinger is anything that can verify its connection, e.g. the database wrappers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService orchestrates health checks across all registered dependencies
type HealthService struct {
	checkers  []HealthChecker
	optional  map[string]bool
	logger    *zap.Logger
	startTime time.Time
	version   string
	mu        sync.RWMutex
}

// NewHealthService creates a new HealthService
func NewHealthService(logger *zap.Logger, version string) *HealthService {
	return &HealthService{
		optional:  make(map[string]bool),
		logger:    logger.With(zap.String("component", "health")),
		startTime: time.Now(),
		version:   version,
	}
}

// RegisterCheck adds a dependency whose outage makes the service unready
func (h *HealthService) RegisterCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// RegisterOptionalCheck adds a dependency whose outage only degrades the service.
// The search index is optional: verdicts are still recorded without it.
func (h *HealthService) RegisterOptionalCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
	h.optional[checker.Name()] = true
}

// Check runs all registered health checkers concurrently and aggregates the results
func (h *HealthService) Check(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checkers := append([]HealthChecker(nil), h.checkers...)
	optional := make(map[string]bool, len(h.optional))
	for k, v := range h.optional {
		optional[k] = v
	}
	h.mu.RUnlock()

	type result struct {
		name  string
		check DependencyCheck
	}
	results := make(chan result, len(checkers))
	for _, checker := range checkers {
		go func(c HealthChecker) {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			results <- result{name: c.Name(), check: c.Check(checkCtx)}
		}(checker)
	}

	dependencies := make(map[string]DependencyCheck, len(checkers))
	for range checkers {
		r := <-results
		dependencies[r.name] = r.check
	}

	overall := StatusHealthy
	for name, dep := range dependencies {
		switch {
		case dep.Status == StatusDown && !optional[name]:
			overall = StatusUnhealthy
			h.logger.Warn("Dependency is down", zap.String("dependency", name))
		case dep.Status != StatusUp && overall != StatusUnhealthy:
			overall = StatusDegraded
			h.logger.Warn("Dependency is degraded", zap.String("dependency", name), zap.String("status", dep.Status))
		}
	}

	return &HealthStatus{
		Status:       overall,
		Version:      h.version,
		Uptime:       formatDuration(time.Since(h.startTime)),
		Dependencies: dependencies,
		CheckedAt:    time.Now(),
	}
}

// Handler serves the full health report: 200 for healthy or degraded, 503 otherwise
func (h *HealthService) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.Check(c.Request.Context())

		httpStatus := http.StatusOK
		if status.Status == StatusUnhealthy {
			httpStatus = http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, status)
	}
}

// readyHandler returns 503 while any required dependency is down
func (h *HealthService) readyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.Check(c.Request.Context())
		if status.Status == StatusUnhealthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": status.Dependencies,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// liveHandler always returns 200 while the process is alive
func (h *HealthService) liveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": formatDuration(time.Since(h.startTime)),
		})
	}
}

// RegisterStandardRoutes registers /health, /health/live and /health/ready
func (h *HealthService) RegisterStandardRoutes(router gin.IRoutes) {
	router.GET("/health/live", h.liveHandler())
	router.GET("/health/ready", h.readyHandler())
	router.GET("/health", h.Handler())
}

// PingChecker reports a dependency as down when Ping fails and degraded when it is slow
type PingChecker struct {
	name        string
	target      Pinger
	slowLatency time.Duration
}

// NewPingChecker creates a checker for target
func NewPingChecker(name string, target Pinger, slowLatency time.Duration) *PingChecker {
	return &PingChecker{name: name, target: target, slowLatency: slowLatency}
}

// NewPostgresChecker checks PostgreSQL; over 500ms counts as degraded
func NewPostgresChecker(db Pinger) *PingChecker {
	return NewPingChecker("postgres", db, 500*time.Millisecond)
}

// NewRedisChecker checks Redis; over 200ms counts as degraded
func NewRedisChecker(redis Pinger) *PingChecker {
	return NewPingChecker("redis", redis, 200*time.Millisecond)
}

// NewElasticsearchChecker checks the verdict search cluster; over 1s counts as degraded
func NewElasticsearchChecker(es Pinger) *PingChecker {
	return NewPingChecker("elasticsearch", es, time.Second)
}

// Name returns the checker name
func (p *PingChecker) Name() string {
	return p.name
}

// Check pings the target and measures latency
func (p *PingChecker) Check(ctx context.Context) DependencyCheck {
	start := time.Now()
	err := p.target.Ping(ctx)
	latency := time.Since(start)

	check := DependencyCheck{
		Status:    StatusUp,
		Latency:   latency.String(),
		CheckedAt: time.Now(),
	}
	switch {
	case err != nil:
		check.Status = StatusDown
		check.Details = fmt.Sprintf("ping failed: %v", err)
	case p.slowLatency > 0 && latency > p.slowLatency:
		check.Status = StatusDegraded
		check.Details = fmt.Sprintf("high latency: %s", latency)
	}
	return check
}

// formatDuration produces a human-readable duration string
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

package resilience

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dokterku/presensi/internal/common/health"
)

// Registry tracks the circuit breakers of the service and reports them as one
// health dependency
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a new circuit breaker registry
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Register adds a circuit breaker to the registry
func (r *Registry) Register(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.name] = cb
}

// Get returns a circuit breaker by name
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// AllStats returns stats for all registered circuit breakers, sorted by name
func (r *Registry) AllStats() []CircuitBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Name implements health.HealthChecker
func (r *Registry) Name() string {
	return "circuit_breakers"
}

// Check implements health.HealthChecker. Any open breaker degrades the
// service; guarded dependencies are optional by construction.
func (r *Registry) Check(_ context.Context) health.DependencyCheck {
	var open []string
	for _, s := range r.AllStats() {
		if s.State != StateClosed {
			open = append(open, fmt.Sprintf("%s=%s", s.Name, s.State))
		}
	}

	check := health.DependencyCheck{
		Status:    health.StatusUp,
		Latency:   "0ms",
		CheckedAt: time.Now(),
	}
	if len(open) > 0 {
		check.Status = health.StatusDegraded
		check.Details = strings.Join(open, ", ")
	}
	return check
}

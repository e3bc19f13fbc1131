package resilience

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per collaborator.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
	ignore   func(error) bool
}

// NewRegistry creates a registry whose breakers share config and ignore.
func NewRegistry(config BreakerConfig, ignore func(error) bool) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		ignore:   ignore,
	}
}

// Get returns or creates the breaker for name.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.config, r.ignore)
	r.breakers[name] = cb
	return cb
}

// Stats returns statistics for every breaker, sorted by name.
func (r *Registry) Stats() []BreakerStats {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	stats := make([]BreakerStats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Healthy reports whether no breaker is open.
func (r *Registry) Healthy() bool {
	for _, s := range r.Stats() {
		if s.State == CircuitOpen {
			return false
		}
	}
	return true
}

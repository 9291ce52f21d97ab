package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one breaker per downstream analytics path.
//
// There is a single backend host, so keying by host would make one breaker
// for everything. The analytics routes fail independently, and a broken
// chart endpoint must not turn recommendations into 503s.
type Registry struct {
	mutex        sync.RWMutex
	breakers     map[string]*CircuitBreaker
	threshold    int
	resetTimeout time.Duration
}

// NewRegistry creates breakers lazily with the given threshold and reset
// timeout. A threshold of zero yields breakers that never open.
func NewRegistry(threshold int, resetTimeout time.Duration) *Registry {
	return &Registry{
		breakers:     make(map[string]*CircuitBreaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// GetBreaker returns the breaker for path, creating it on first use.
func (r *Registry) GetBreaker(path string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[path]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, exists = r.breakers[path]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.resetTimeout)
	r.breakers[path] = cb
	return cb
}

// Stats reports the state of every breaker created so far, by path.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for path, cb := range r.breakers {
		stats[path] = cb.State()
	}
	return stats
}

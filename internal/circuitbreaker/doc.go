// Package circuitbreaker implements an optional circuit breaker in front of
// the analytics backend.
//
// A breaker has three states:
//
//   - CLOSED: calls pass through
//   - OPEN: the backend kept failing, calls fail fast
//   - HALF-OPEN: one probe call decides whether to close again
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("/analytics/recomendacoes")
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
//
// A threshold of zero disables breaking entirely: Allow always returns true.
package circuitbreaker

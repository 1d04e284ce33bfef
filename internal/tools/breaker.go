package tools

import (
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds a circuit breaker around a flaky upstream (the ArXiv
// and OpenAlex search clients; PDF fetches, URL collection and HF trending
// do not use one) — timeout-prone external calls the concurrency model
// flags as performance-critical, so a tripped breaker
// turns a slow upstream into a fast phase-local failure instead of letting
// every in-flight request queue up behind it.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
}

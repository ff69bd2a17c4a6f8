package recovery

import (
	"time"
)

// BreakerState is a circuit breaker's position.
type BreakerState string

// Breaker states
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// DefaultFailureThreshold opens a breaker after this many consecutive failures.
const DefaultFailureThreshold = 5

// DefaultOpenTimeout is how long an open breaker blocks before allowing a probe.
const DefaultOpenTimeout = 60 * time.Second

// breaker is one service's circuit breaker. Callers hold the service mutex.
type breaker struct {
	state       BreakerState
	failures    int
	nextAttempt time.Time
}

func newBreaker() *breaker {
	return &breaker{state: BreakerClosed}
}

// recordFailure counts a failure and opens the breaker at the threshold.
// A failure while half-open reopens immediately with a fresh timeout.
func (b *breaker) recordFailure(now time.Time, threshold int, timeout time.Duration) {
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.nextAttempt = now.Add(timeout)
	case BreakerClosed:
		b.failures++
		if b.failures >= threshold {
			b.state = BreakerOpen
			b.nextAttempt = now.Add(timeout)
		}
	case BreakerOpen:
		// Already open; nothing to count.
	}
}

// recordSuccess closes a half-open breaker and resets the failure count.
func (b *breaker) recordSuccess() {
	if b.state == BreakerHalfOpen || b.state == BreakerClosed {
		b.state = BreakerClosed
		b.failures = 0
	}
}

// available reports whether calls may pass. The first check past
// nextAttemptTime moves an open breaker to half-open as a side effect.
func (b *breaker) available(now time.Time) bool {
	switch b.state {
	case BreakerOpen:
		if !now.Before(b.nextAttempt) {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

package provider

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimit is the per-operation request budget.
const DefaultRateLimit = 100

// DefaultRateWindow is the window the budget applies to.
const DefaultRateWindow = time.Minute

// opLimiter enforces a per-operation-name request cap so a hot caller cannot
// hammer the fragile platform service. Excess calls are rejected
// synchronously; they never reach the bridge.
type opLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newOpLimiter creates a limiter allowing `requests` calls per `window` for
// each distinct operation name.
func newOpLimiter(requests int, window time.Duration) *opLimiter {
	if requests <= 0 {
		requests = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &opLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
	}
}

// Allow reports whether one more call to op fits in the budget.
func (ol *opLimiter) Allow(op string) bool {
	ol.mu.Lock()
	lim, ok := ol.limiters[op]
	if !ok {
		lim = rate.NewLimiter(ol.limit, ol.burst)
		ol.limiters[op] = lim
	}
	ol.mu.Unlock()

	return lim.Allow()
}

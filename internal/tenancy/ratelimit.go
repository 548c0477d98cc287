package tenancy

import (
	"sync"

	"golang.org/x/time/rate"
)

// APICallLimiter throttles the ApiCalls resource per tenant with a token
// bucket, giving that quota resource an actual producer instead of being
// a bookkeeping-only entry nothing ever calls into.
type APICallLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewAPICallLimiter builds a limiter allowing perSecond sustained calls
// per tenant with the given burst capacity.
func NewAPICallLimiter(perSecond float64, burst int) *APICallLimiter {
	return &APICallLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *APICallLimiter) limiterFor(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[tenantID] = lim
	}
	return lim
}

// Allow reports whether tenantID may make another API call right now,
// consuming a token if so.
func (l *APICallLimiter) Allow(tenantID string) bool {
	return l.limiterFor(tenantID).Allow()
}

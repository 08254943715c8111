package proxy

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/hrygo/memrelay/config"
)

// RateLimiter throttles requests per resolved user id.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a per-user limiter, or nil when disabled.
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
	}
}

// Allow reports whether the user may proceed. A nil limiter allows everything.
func (l *RateLimiter) Allow(userKey string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[userKey]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[userKey] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	appctx "github.com/Ramsey-B/thistle/pkg/context"
)

const (
	DefaultLimiterIdleTTL    = 10 * time.Minute
	DefaultLimiterMaxEntries = 10000
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Buckets idle longer than the
// TTL are dropped, and the least recently seen one goes when the cap is hit.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	limit      rate.Limit
	burst      int
	idleTTL    time.Duration
	maxEntries int
	lastSweep  time.Time
	now        func() time.Time
}

type RateLimiterOption func(*RateLimiter)

func WithIdleTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.idleTTL = ttl
	}
}

func WithMaxEntries(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.maxEntries = n
	}
}

func NewRateLimiter(perSecond float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		idleTTL:    DefaultLimiterIdleTTL,
		maxEntries: DefaultLimiterMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	rl.sweep(now)

	entry, ok := rl.limiters[key]
	if !ok {
		if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
			rl.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Len reports how many callers currently hold a bucket.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// sweep runs at most twice per TTL. Callers must hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if rl.idleTTL <= 0 || now.Sub(rl.lastSweep) < rl.idleTTL/2 {
		return
	}
	rl.lastSweep = now
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range rl.limiters {
		if oldestKey == "" || entry.lastSeen.Before(oldest) {
			oldestKey, oldest = key, entry.lastSeen
		}
	}
	delete(rl.limiters, oldestKey)
}

// RateLimit keys on the authenticated user and falls back to the client IP.
func RateLimit(logger ectologger.Logger, rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := appctx.GetUserID(ctx)
			if key == "" {
				key = c.RealIP()
			}
			if !rl.Allow(key) {
				logger.WithContext(ctx).WithField("path", c.Path()).Warn("rate limit exceeded")
				return httperror.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

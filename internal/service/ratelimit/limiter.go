package ratelimit

import (
	"sync"
	"time"

	"BrentBreaks/internal/service/metrics"
	xhttp "BrentBreaks/pkg/http"

	"github.com/labstack/echo/v4"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Every key shares one capacity and refill rate.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*bucket
	capacity float64
	refill   float64 // tokens per second
	idle     time.Duration
	sweep    time.Time
	now      func() time.Time
}

func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		m:        make(map[string]*bucket),
		capacity: capacity,
		refill:   refillPerSec,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIdle(now)
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+elapsed*l.refill, l.capacity)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// evictIdle drops buckets untouched for the idle period. Runs at most once per period.
func (l *Limiter) evictIdle(now time.Time) {
	if now.Sub(l.sweep) < l.idle {
		return
	}
	l.sweep = now
	for k, b := range l.m {
		if now.Sub(b.last) >= l.idle {
			delete(l.m, k)
		}
	}
}

// Middleware rejects requests once the client's bucket for the route is empty.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if l.Allow(c.RealIP() + "|" + route) {
				return next(c)
			}
			metrics.RateLimited.WithLabelValues(route).Inc()
			c.Response().Header().Set("Retry-After", "1")
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded, retry later"))
		}
	}
}

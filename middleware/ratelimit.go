// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielhkuo/agora/models"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter throttles requests per client IP with a token bucket. It sits
// in front of every route; the gate's credential and vote limits apply on
// top of it.
type IPLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	rate       rate.Limit
	burst      int
	trustProxy bool
	idle       time.Duration
	now        func() time.Time
}

// NewIPLimiter allows requestsPerSecond per IP with the given burst.
// Limiters idle for longer than idle are forgotten on Sweep.
func NewIPLimiter(requestsPerSecond float64, burst int, trustProxy bool) *IPLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &IPLimiter{
		visitors:   make(map[string]*visitor),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		trustProxy: trustProxy,
		idle:       10 * time.Minute,
		now:        time.Now,
	}
}

// Allow reports whether ip may make a request now
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	now := l.now()
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Sweep drops limiters that have been idle and returns how many remain
func (l *IPLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
	return len(l.visitors)
}

// Run sweeps idle limiters every interval until ctx is done
func (l *IPLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Middleware rejects requests over the limit with 429
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(GetClientIP(r, l.trustProxy)) {
			w.Header().Set("Retry-After", "1")
			RejectionResponse(w, models.Reject(models.ReasonRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/example/nonprofit-platform/internal/platform/api"
	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/httpserver"
)

// RateLimiter is a token bucket per signed-in viewer, or per client IP for
// anonymous requests.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// sweepEvery spaces out the scans that drop refilled buckets.
const sweepEvery = time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepEvery {
		rl.sweep(now)
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), last: now}
		rl.buckets[key] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.last).Seconds()*rl.rate, float64(rl.burst))
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have been idle long enough to refill completely;
// a full bucket behaves exactly like a missing one.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.lastSweep = now
	if rl.rate <= 0 {
		return
	}
	full := time.Duration(float64(rl.burst) / rl.rate * float64(time.Second))
	for key, b := range rl.buckets {
		if now.Sub(b.last) >= full {
			delete(rl.buckets, key)
		}
	}
}

// Middleware rejects requests over the limit with 429. Must run after
// auth.ResolveViewer so signed-in viewers are keyed by id.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(limitKey(r)) {
			rid := httpserver.RequestIDFromContext(r.Context())
			api.RateLimited(w, "RATE_LIMITED", "too many requests", rid, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if v := auth.ViewerFromContext(r.Context()); !v.IsAnonymous() {
		return "viewer:" + v.ID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

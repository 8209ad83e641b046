package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// visitor holds one client's token bucket and the last time it was used,
// so idle buckets can be evicted.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is an in-memory, per-client-IP token bucket. Process-local
// is enough here: the ops server runs as a single instance on localhost,
// and the limiter only guards against runaway curl loops triggering
// expensive manual cycles.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// get returns the limiter for key, creating it if absent. Idle buckets are
// swept opportunistically every few thousand lookups, before the requested
// key is touched so a stale bucket for that key can still be evicted.
func (rl *rateLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// handler enforces the per-IP limit, answering 429 with the standard error
// envelope when a bucket is empty.
func (rl *rateLimiter) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.get("ip:" + c.ClientIP()).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		fail(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
	}
}

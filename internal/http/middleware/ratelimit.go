package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
)

const (
	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = 5000
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByClientIP buckets by client IP. Checkout callers are anonymous
// browsers, so the IP is the only identity available before the handler.
func KeyByClientIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// RateLimiter keeps one token bucket per key in process memory. Each request
// admitted on the push route can ring a payer's phone and costs a Daraja
// call, so limits are enforced before the handler runs. Buckets idle for
// bucketIdleTTL are swept every sweepEvery lookups.
//
// Limits are per replica; several replicas multiply the effective rate.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	key     KeyFunc
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows rps requests per second per key with the given
// burst. A burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		idleTTL: bucketIdleTTL,
		buckets: make(map[string]*bucket),
	}
}

// Handler enforces the limit. Replays flagged by IdempotencyValidator pass
// without spending a token. A refused request gets 429 with Retry-After set
// to the whole seconds until its bucket next has a token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := time.Now()
		wait := time.Second
		res := rl.bucketFor(rl.key(c), now).ReserveN(now, 1)
		if res.OK() {
			if wait = res.DelayFrom(now); wait == 0 {
				c.Next()
				return
			}
			res.CancelAt(now)
		}
		rl.refuse(c, wait)
	}
}

func (rl *RateLimiter) refuse(c *gin.Context, wait time.Duration) {
	route := c.FullPath()
	if route == "" {
		route = metrics.UnmatchedRoute
	}
	metrics.RateLimitedTotal.WithLabelValues(route).Inc()

	secs := max(int(math.Ceil(wait.Seconds())), 1)
	c.Header("Retry-After", strconv.Itoa(secs))
	abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
}

// bucketFor returns the limiter for key, creating it on first use.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		rl.sweep(now)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// sweep drops buckets idle for at least idleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.idleTTL {
			delete(rl.buckets, k)
		}
	}
	rl.lookups = 0
}

package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
)

const pushRoute = "/api/mpesa/stkpush"

func limitedRouter(t *testing.T, rl *RateLimiter, before ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	handlers := append(before, rl.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST(pushRoute, handlers...)
	return r
}

func push(r *gin.Engine, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, pushRoute, nil)
	req.RemoteAddr = net.JoinHostPort("198.51.100.7", "5100")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, pushRoute, nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyByClientIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestNewRateLimiter_BurstFloor(t *testing.T) {
	for _, burst := range []int{-3, 0} {
		if rl := NewRateLimiter(1, burst, KeyByClientIP()); rl.burst != 1 {
			t.Fatalf("burst %d -> %d, want 1", burst, rl.burst)
		}
	}
	if rl := NewRateLimiter(1, 4, KeyByClientIP()); rl.burst != 4 {
		t.Fatalf("burst 4 -> %d", rl.burst)
	}
}

func TestRateLimiter_RefusalCarriesRetryAfterAndEnvelope(t *testing.T) {
	before := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues(pushRoute))
	r := limitedRouter(t, NewRateLimiter(0.5, 1, KeyByClientIP()))

	if w := push(r, nil); w.Code != http.StatusOK {
		t.Fatalf("first push = %d", w.Code)
	}
	w := push(r, map[string]string{requestIDHeader: "rid-429"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second push = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2 at 0.5 rps", got)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	want := errorBody{RequestID: "rid-429", Code: "too_many_requests", Message: "rate limit exceeded"}
	if body != want {
		t.Fatalf("body = %+v, want %+v", body, want)
	}
	if got := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues(pushRoute)); got != before+1 {
		t.Fatalf("rate_limited_total = %v, want %v", got, before+1)
	}
}

func TestRateLimiter_RefusalDoesNotBorrowFutureTokens(t *testing.T) {
	r := limitedRouter(t, NewRateLimiter(20, 1, KeyByClientIP()))

	if w := push(r, nil); w.Code != http.StatusOK {
		t.Fatalf("first push = %d", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := push(r, nil); w.Code != http.StatusTooManyRequests {
			t.Fatalf("burst push %d = %d, want 429", i, w.Code)
		}
	}
	time.Sleep(150 * time.Millisecond)
	if w := push(r, nil); w.Code != http.StatusOK {
		t.Fatalf("push after refill = %d; refusals must not consume tokens", w.Code)
	}
}

func TestRateLimiter_ZeroRateAllowsOnlyBurst(t *testing.T) {
	r := limitedRouter(t, NewRateLimiter(0, 1, KeyByClientIP()))

	if w := push(r, nil); w.Code != http.StatusOK {
		t.Fatalf("first push = %d", w.Code)
	}
	w := push(r, nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second push = %d Retry-After=%q", w.Code, w.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_ReplaysSkipTheBucket(t *testing.T) {
	recorded := func(_ context.Context, _, key string, _ time.Time) (bool, error) {
		return key == "order-7", nil
	}
	validator := IdempotencyValidator(IdempotencyOptions{Scope: "sales.create"}, recorded)
	r := limitedRouter(t, NewRateLimiter(0, 1, KeyByClientIP()), validator)

	for i := 0; i < 3; i++ {
		if w := push(r, map[string]string{HeaderIdempotencyKey: "order-7"}); w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d", i, w.Code)
		}
	}
	if w := push(r, map[string]string{HeaderIdempotencyKey: "order-8"}); w.Code != http.StatusOK {
		t.Fatalf("first new key = %d; replays must not spend the burst", w.Code)
	}
	if w := push(r, map[string]string{HeaderIdempotencyKey: "order-9"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second new key = %d, want 429", w.Code)
	}
}

func TestRateLimiter_BucketReusedPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByClientIP())
	now := time.Now()

	a := rl.bucketFor("ip:a", now)
	if rl.bucketFor("ip:a", now) != a {
		t.Fatalf("same key should reuse its bucket")
	}
	if rl.bucketFor("ip:b", now) == a {
		t.Fatalf("different keys share a bucket")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByClientIP())
	now := time.Now()

	rl.buckets["ip:idle"] = &bucket{lim: rate.NewLimiter(1, 1), seen: now.Add(-2 * bucketIdleTTL)}
	rl.buckets["ip:recent"] = &bucket{lim: rate.NewLimiter(1, 1), seen: now.Add(-time.Minute)}
	rl.lookups = sweepEvery - 1

	rl.bucketFor("ip:new", now)

	if _, ok := rl.buckets["ip:idle"]; ok {
		t.Fatalf("idle bucket survived the sweep")
	}
	for _, k := range []string{"ip:recent", "ip:new"} {
		if _, ok := rl.buckets[k]; !ok {
			t.Fatalf("bucket %s missing", k)
		}
	}
	if rl.lookups != 0 {
		t.Fatalf("lookup counter not reset: %d", rl.lookups)
	}
}

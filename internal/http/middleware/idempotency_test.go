package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const salesRoute = "/api/sales/create"

type idemSeen struct {
	key    string
	hasKey bool
	replay bool
	bypass bool
	ran    bool
}

func idemRouter(t *testing.T, opts IdempotencyOptions, lookup IdempotencyLookup, seen *idemSeen) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.POST(salesRoute, IdempotencyValidator(opts, lookup), func(c *gin.Context) {
		seen.key, seen.hasKey = GetIdempotencyKey(c)
		seen.replay = IsReplay(c)
		seen.bypass = IsRateBypass(c)
		seen.ran = true
		c.Status(http.StatusOK)
	})
	return r
}

func createSale(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, salesRoute, nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_NoHeaderSkipsLookup(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}
	var seen idemSeen
	r := idemRouter(t, IdempotencyOptions{Scope: "sales.create"}, lookup, &seen)

	if w := createSale(r, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if called || seen.hasKey || seen.replay || seen.bypass {
		t.Fatalf("no header: lookup=%v seen=%+v", called, seen)
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"over MaxLen", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"over default cap", IdempotencyOptions{}, strings.Repeat("k", defaultIdempotencyMax+1)},
		{"inner space", IdempotencyOptions{}, "order 7"},
		{"slash", IdempotencyOptions{}, "order/7"},
		{"blank", IdempotencyOptions{}, "   "},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen idemSeen
			r := idemRouter(t, tc.opts, nil, &seen)

			w := createSale(r, tc.key)
			if w.Code != http.StatusBadRequest || seen.ran {
				t.Fatalf("status = %d handler ran = %v", w.Code, seen.ran)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body.Code != "invalid_idempotency_key" || body.Success || body.RequestID == "" {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestIdempotencyValidator_StoresTrimmedKey(t *testing.T) {
	var seen idemSeen
	r := idemRouter(t, IdempotencyOptions{}, nil, &seen)

	if w := createSale(r, "  cart-2024:09~a.b  "); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if seen.key != "cart-2024:09~a.b" || !seen.hasKey || seen.replay {
		t.Fatalf("seen = %+v", seen)
	}
}

func TestIdempotencyValidator_LookupOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		found      bool
		err        error
		wantReplay bool
	}{
		{"first attempt", false, nil, false},
		{"recorded result", true, nil, true},
		{"lookup failure", true, errors.New("db locked"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := logSink(t)
			var gotScope, gotKey string
			var gotNow time.Time
			lookup := func(_ context.Context, scope, key string, now time.Time) (bool, error) {
				gotScope, gotKey, gotNow = scope, key, now
				return tc.found, tc.err
			}
			var seen idemSeen
			r := idemRouter(t, IdempotencyOptions{Scope: "sales.create"}, lookup, &seen)

			if w := createSale(r, "order-42"); w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if gotScope != "sales.create" || gotKey != "order-42" || gotNow.Location() != time.UTC {
				t.Fatalf("lookup args scope=%q key=%q now=%v", gotScope, gotKey, gotNow)
			}
			if seen.replay != tc.wantReplay || seen.bypass != tc.wantReplay {
				t.Fatalf("seen = %+v, want replay=%v", seen, tc.wantReplay)
			}
			logged := strings.Contains(buf.String(), "idempotency lookup failed")
			if logged != (tc.err != nil) {
				t.Fatalf("lookup failure logged = %v:\n%s", logged, buf.String())
			}
		})
	}
}

func TestIdempotencyAccessors_DefaultToAbsent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, salesRoute, nil)

	if k, ok := GetIdempotencyKey(c); ok || k != "" {
		t.Fatalf("key = %q ok = %v", k, ok)
	}
	c.Set(idempotencyStateKey, "not state")
	if IsReplay(c) || IsRateBypass(c) {
		t.Fatalf("foreign value read as replay")
	}
}

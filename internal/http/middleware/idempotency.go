package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's retry key on order creation.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	idempotencyStateKey   = "idempotency"
	defaultIdempotencyMax = 200
)

var defaultIdempotencyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:\-]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// Scope namespaces keys per operation, e.g. "sales.create".
	Scope string
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern overrides the accepted key alphabet (letters, digits, ._~:-).
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether an unexpired result is recorded for
// (scope, key). Expiry is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, scope, key string, now time.Time) (bool, error)

type idempotencyState struct {
	key    string
	replay bool
}

// IdempotencyValidator checks an optional Idempotency-Key and asks lookup
// whether the key already produced an order. Requests without the header
// pass untouched. A malformed key is refused with 400. A failing lookup is
// logged and treated as a first attempt; an existing order id is still
// answered as a replay by the order service.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdempotencyMax
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultIdempotencyPattern
	}

	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderIdempotencyKey)
		if raw == "" {
			c.Next()
			return
		}
		key := strings.TrimSpace(raw)
		if key == "" || len(key) > maxLen || !pattern.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "invalid_idempotency_key", "invalid Idempotency-Key")
			return
		}

		st := idempotencyState{key: key}
		if lookup != nil {
			found, err := lookup(c.Request.Context(), opts.Scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("scope", opts.Scope).Msg("idempotency lookup failed")
			}
			st.replay = found && err == nil
		}
		c.Set(idempotencyStateKey, st)
		c.Next()
	}
}

func idempotencyOf(c *gin.Context) idempotencyState {
	v, _ := c.Get(idempotencyStateKey)
	st, _ := v.(idempotencyState)
	return st
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	st := idempotencyOf(c)
	return st.key, st.key != ""
}

// IsReplay reports whether the key already has a recorded result.
func IsReplay(c *gin.Context) bool {
	return idempotencyOf(c).replay
}

// IsRateBypass reports whether RateLimiter should let c through without
// spending a token. Only replays qualify: answering one costs no gateway call.
func IsRateBypass(c *gin.Context) bool {
	return IsReplay(c)
}

package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedactOptions adds headers whose values RedactingLogger masks entirely, on
// top of Authorization, Cookie and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger is the access logger used in production. Payer MSISDNs,
// other phone numbers, emails and UUIDs are scrubbed from the query, the
// path of unmatched requests and header values. Masked headers are replaced
// wholesale. The request-scoped logger carries only request_id, method and
// path, and bodies are never logged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	r := newRedactor(opts.MaskHeaders)
	return accessLog{
		scrub:   func(s string) string { return r.scrub(truncate(s, maxQueryLen)) },
		headers: r.headers,
	}.handler()
}

type redactRule struct {
	re   *regexp.Regexp
	repl string
}

type redactor struct {
	rules  []redactRule
	masked map[string]struct{}
}

// Rules run in order: UUIDs before the loose phone pattern, which would
// otherwise eat their digit groups.
func newRedactor(maskHeaders []string) *redactor {
	r := &redactor{
		rules: []redactRule{
			{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
			{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
			// Safaricom numbers as payers type them: 2547.., +2541.., 07.., 01..
			{regexp.MustCompile(`(?:\+?254|\b0)[17]\d{8}\b`), "[REDACTED:phone]"},
			{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
		},
		masked: map[string]struct{}{
			"authorization": {},
			"cookie":        {},
			"set-cookie":    {},
		},
	}
	for _, h := range maskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.masked[h] = struct{}{}
		}
	}
	return r
}

func (r *redactor) scrub(s string) string {
	for _, rule := range r.rules {
		if s == "" {
			break
		}
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.scrub(strings.Join(vv, ", "))
	}
	return out
}

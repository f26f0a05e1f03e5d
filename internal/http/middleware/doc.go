// Package middleware holds the gin middleware that wraps every checkout
// route: request correlation, access logging (plain or PII-redacted), panic
// recovery, Prometheus instrumentation, response hardening, Idempotency-Key
// handling for order creation, and the per-client rate limit on the paid
// M-Pesa routes.
//
// Router order matters:
//
//	RequestID -> Logger | RedactingLogger -> Recovery -> Metrics -> SecurityHeaders
//
// and, per route, IdempotencyValidator before the RateLimiter so that replays
// of a recorded order are never throttled. The gateway callback route carries
// neither: Safaricom does not retry on 429.
//
// Error bodies written here use the same envelope as the handlers package:
//
//	{"success": false, "request_id": "...", "code": "...", "message": "..."}
package middleware

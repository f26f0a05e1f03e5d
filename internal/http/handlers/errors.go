// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found) mirror common HTTP status
//     semantics to aid interoperability.
//   - Gateway codes (gateway_timeout, gateway_unreachable, upstream_error) tell a
//     checkout client whether retrying the push makes sense.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//   {
//     "success": false,
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "gateway_timeout",
//     "message": "Request timeout. M-Pesa servers are taking too long to respond."
//   }

package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Gateway:
	ErrCodeConfig             = "config_error"
	ErrCodeGatewayTimeout     = "gateway_timeout"
	ErrCodeGatewayUnreachable = "gateway_unreachable"
	ErrCodeUpstream           = "upstream_error"

	// Domain-specific:
	ErrCodeStatusFailed = "status_failed"
	ErrCodeOrderFailed  = "order_failed"
	ErrCodeListFailed   = "list_failed"
)

// Package services holds the payment use-cases: STK push initiation, callback
// ingestion, status resolution, and the post-payment effects (inventory and
// order materialization). This file centralizes service-level error values so
// handlers can map them to HTTP results consistently.
//
// Gateway failures are returned as the mpesa package's errors
// (mpesa.ErrConfig, mpesa.ErrTimeout, mpesa.ErrUnreachable, mpesa.ErrMalformed,
// *mpesa.HTTPError) and are not re-wrapped here.
package services

import "errors"

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is a rejected input. It never reaches the gateway or the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// Push request errors.
var (
	ErrInvalidPhone       = invalid("phone", "phone is required; use a valid Safaricom number (07 or 01)")
	ErrInvalidAmount      = invalid("amount", "amount must be a positive number")
	ErrMissingReference   = invalid("reference", "reference is required")
	ErrInvalidCallbackURL = invalid("callbackUrl", "invalid callback URL configuration")
)

// ErrMissingCheckoutID is returned by the status operations for a blank id.
var ErrMissingCheckoutID = invalid("checkoutRequestId", "checkoutRequestId is required")

// Order errors.
var (
	ErrMissingOrderID       = invalid("orderId", "orderId is required")
	ErrMissingCustomerName  = invalid("customerName", "customerName is required")
	ErrMissingCustomerPhone = invalid("customerPhone", "customerPhone is required")
	ErrMissingMpesaPhone    = invalid("mpesaPhone", "mpesaPhone is required")
	ErrInvalidTotal         = invalid("totalAmount", "totalAmount must be positive")
	ErrEmptyItems           = invalid("items", "items must not be empty")
)


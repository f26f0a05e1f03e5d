package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-mpesa-checkout/internal/events"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
)

// Gateway is the subset of the Daraja client the services use.
// *mpesa.Client satisfies it; tests provide stubs.
type Gateway interface {
	Ready() error
	AccessToken(ctx context.Context) (mpesa.Token, error)
	Push(ctx context.Context, tok mpesa.Token, in mpesa.PushRequest) (*mpesa.PushResult, error)
	Query(ctx context.Context, tok mpesa.Token, checkoutID string) (*mpesa.QueryResult, error)
}

var _ Gateway = (*mpesa.Client)(nil)

// gatewayErrorClass names the failure class of a gateway error for metrics
// and for the result code stored on a transaction that never got a checkout id.
func gatewayErrorClass(err error) string {
	var herr *mpesa.HTTPError
	switch {
	case errors.As(err, &herr):
		return "http_error"
	case errors.Is(err, mpesa.ErrConfig):
		return "config"
	case errors.Is(err, mpesa.ErrTimeout):
		return "timeout"
	case errors.Is(err, mpesa.ErrUnreachable):
		return "network_error"
	case errors.Is(err, mpesa.ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}

// publish emits ev best-effort. A nil publisher disables events.
func publish(ctx context.Context, pub events.Publisher, ev events.PaymentEvent) {
	if pub == nil {
		return
	}
	if err := pub.PublishPayment(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("checkout_request_id", ev.CheckoutRequestID).
			Msg("payment event not published")
	}
}

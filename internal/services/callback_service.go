// Package services – CallbackService
//
// CallbackService applies a gateway STK callback to the transaction store.
// The HTTP layer acknowledges the gateway before Ingest runs, so nothing here
// affects the response; errors are returned for logging only.
//
// The write is two explicit steps keyed by checkout id: a guarded update,
// then, only when it touched no row, a guarded upsert. A terminal status
// already stored is never replaced by a different one.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/events"
	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// CallbackService ingests gateway callbacks.
type CallbackService struct {
	DB        *gorm.DB
	Inventory *InventoryService
	Events    events.Publisher
}

// CallbackOutcome reports what Ingest did, for logs and tests.
type CallbackOutcome struct {
	CheckoutRequestID string
	Status            domain.TransactionStatus
	Written           bool // false when a stored terminal status won
	Deducted          bool
}

// Ingest parses a raw callback body and records its outcome. A body without
// an stkCallback (or without a checkout id) is ignored with a nil outcome.
func (s *CallbackService) Ingest(ctx context.Context, raw []byte) (*CallbackOutcome, error) {
	tr := otel.Tracer("services/CallbackService")
	ctx, span := tr.Start(ctx, "Ingest")
	defer span.End()

	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("unparsable").Inc()
		return nil, err
	}
	if cb.CheckoutRequestID == "" {
		metrics.CallbacksTotal.WithLabelValues("ignored").Inc()
		return nil, nil
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", cb.CheckoutRequestID))
	return s.Apply(ctx, cb)
}

// Apply records an already-parsed callback.
func (s *CallbackService) Apply(ctx context.Context, cb mpesa.STKCallback) (*CallbackOutcome, error) {
	tr := otel.Tracer("services/CallbackService")
	ctx, span := tr.Start(ctx, "Apply",
		trace.WithAttributes(
			attribute.String("mpesa.checkout_request_id", cb.CheckoutRequestID),
			attribute.String("mpesa.result_code", cb.ResultCode.String()),
		),
	)
	defer span.End()

	status := mpesa.CallbackStatus(cb.ResultCode)
	metrics.CallbacksTotal.WithLabelValues(string(status)).Inc()

	lg := zerolog.Ctx(ctx).With().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("status", string(status)).
		Logger()

	d := cb.Details()
	upd := repo.TransactionUpdate{
		Status:            status,
		ResultCode:        cb.ResultCode.Ptr(),
		ResultDesc:        domain.StringPtr(cb.ResultDesc),
		MerchantRequestID: cb.MerchantRequestID,
		Receipt:           d.Receipt,
		TransactionDate:   d.TransactionDate,
		Amount:            d.Amount,
	}
	if p, ok := msisdn.Normalize(d.Phone); ok {
		upd.Phone = p
	}

	out := &CallbackOutcome{CheckoutRequestID: cb.CheckoutRequestID, Status: status}

	n, err := repo.UpdateTransactionStatus(ctx, s.DB, cb.CheckoutRequestID, upd)
	if err != nil {
		lg.Error().Err(err).Msg("callback update failed")
		return out, err
	}
	if n == 0 {
		n, err = repo.UpsertTransaction(ctx, s.DB, cb.CheckoutRequestID, upd)
		if err != nil {
			lg.Error().Err(err).Msg("callback upsert failed")
			return out, err
		}
	}
	out.Written = n > 0
	if !out.Written {
		lg.Info().Msg("stored terminal status kept; callback ignored")
		return out, nil
	}
	lg.Info().Str("receipt", d.Receipt).Msg("callback applied")

	// Deduct before publishing.
	if status == domain.StatusSuccess && s.Inventory != nil {
		claimed, all, err := s.Inventory.DeductForCheckout(lg.WithContext(ctx), cb.CheckoutRequestID, SiteCallback)
		if err != nil {
			lg.Error().Err(err).Msg("inventory deduction failed")
		} else {
			out.Deducted = claimed
			if claimed {
				lg.Info().Bool("all_applied", all).Msg("inventory deducted")
			}
		}
	}

	if status.Terminal() {
		publish(ctx, s.Events, events.PaymentEvent{
			CheckoutRequestID: cb.CheckoutRequestID,
			Status:            string(status),
			ResultCode:        cb.ResultCode.String(),
			ResultDesc:        cb.ResultDesc,
			Receipt:           d.Receipt,
			Amount:            d.Amount,
			Phone:             upd.Phone,
			Source:            "callback",
			OccurredAt:        time.Now().UTC(),
		})
	}
	return out, nil
}

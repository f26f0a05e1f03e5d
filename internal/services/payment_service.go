// Package services – PaymentService
//
// PaymentService initiates STK pushes. The transaction row is written in
// status "initiating" before the gateway is called, because the checkout
// request id that later keys every callback and poll does not exist until
// the push returns. The push outcome then finalizes that row:
//
//	accepted (ResponseCode 0)  -> pending, result code left null
//	rejected (2xx, code != 0)  -> failed, ResponseCode / ResponseDescription
//	non-2xx                    -> failed, gateway errorCode / errorMessage
//	timeout / network / bad body -> failed, result code names the class
//
// A callback can beat the push response to the store. In that case the
// callback's row for the checkout id is authoritative; the initiator only
// merges its bookkeeping (amount, phone, cart) into it.
package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// PaymentService starts STK push payments.
type PaymentService struct {
	DB      *gorm.DB
	Gateway Gateway

	// CallbackURL, when set, overrides the per-request default.
	CallbackURL string

	// Inventory settles a callback that won the race against the push
	// response. Optional.
	Inventory *InventoryService
}

// InitiateInput is a checkout request. DefaultCallbackURL is derived from the
// incoming request by the caller and used when no CallbackURL is configured.
type InitiateInput struct {
	Phone              string
	Amount             float64
	Reference          string
	Items              []domain.CartItem
	DefaultCallbackURL string
}

// InitiateResult is the synchronous push outcome.
type InitiateResult struct {
	Accepted          bool
	Message           string
	TransactionID     string
	CheckoutRequestID string
	MerchantRequestID string
}

type pushRequest struct {
	phone       string
	amount      int64
	reference   string
	callbackURL string
}

func (s *PaymentService) validate(in InitiateInput) (pushRequest, error) {
	phone, ok := msisdn.Normalize(in.Phone)
	if !ok {
		return pushRequest{}, ErrInvalidPhone
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0 {
		return pushRequest{}, ErrInvalidAmount
	}
	amount := int64(math.Round(in.Amount))
	if amount < 1 {
		return pushRequest{}, ErrInvalidAmount
	}
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		return pushRequest{}, ErrMissingReference
	}
	cb := strings.TrimSpace(s.CallbackURL)
	if cb == "" {
		cb = strings.TrimSpace(in.DefaultCallbackURL)
	}
	if !strings.HasPrefix(cb, "http") {
		return pushRequest{}, ErrInvalidCallbackURL
	}
	return pushRequest{phone: phone, amount: amount, reference: ref, callbackURL: cb}, nil
}

// Initiate validates in, records the attempt, and sends the STK push.
//
// Errors:
//   - *ValidationError for bad input (no network, no store writes).
//   - mpesa.ErrConfig when gateway credentials are missing.
//   - *mpesa.HTTPError when the token or push call answered non-2xx.
//   - mpesa.ErrTimeout, mpesa.ErrUnreachable, mpesa.ErrMalformed for
//     transport failures and undecodable answers.
//
// A rejected push (2xx with a non-zero ResponseCode) is not an error; it is
// reported with Accepted=false.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Initiate",
		trace.WithAttributes(attribute.Int("items", len(in.Items))),
	)
	defer span.End()

	req, err := s.validate(in)
	if err != nil {
		metrics.PushTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := s.Gateway.Ready(); err != nil {
		metrics.PushTotal.WithLabelValues("config").Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("mpesa.amount", req.amount),
		attribute.String("mpesa.phone", msisdn.Mask(req.phone)),
	)

	tok, err := s.Gateway.AccessToken(ctx)
	if err != nil {
		metrics.PushTotal.WithLabelValues(gatewayErrorClass(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, err
	}

	lg := zerolog.Ctx(ctx).With().Str("phone", msisdn.Mask(req.phone)).Logger()
	meta := domain.TransactionMetadata{
		Items:     in.Items,
		Reference: req.reference,
		Timestamp: time.Now().UTC(),
	}
	txID := s.recordInitiating(ctx, &lg, req, meta)

	res, err := s.Gateway.Push(ctx, tok, mpesa.PushRequest{
		Phone:       req.phone,
		Amount:      req.amount,
		Reference:   req.reference,
		CallbackURL: req.callbackURL,
	})
	if err != nil {
		class := gatewayErrorClass(err)
		metrics.PushTotal.WithLabelValues(class).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, class)

		// The gateway answered: the push failed. A timeout or network error
		// leaves the outcome unknown, so the row stays initiating.
		upd := repo.TransactionUpdate{Status: domain.StatusFailed}
		var herr *mpesa.HTTPError
		switch {
		case errors.As(err, &herr):
			upd.ResultCode, upd.ResultDesc = &herr.Code, &herr.Message
		case errors.Is(err, mpesa.ErrMalformed):
			desc := err.Error()
			upd.ResultCode, upd.ResultDesc = &class, &desc
		default:
			lg.Warn().Err(err).Str("class", class).Str("transaction_id", txID).
				Msg("gateway unreachable; transaction left initiating")
			return nil, err
		}
		s.finalize(ctx, &lg, txID, "", upd)
		return nil, err
	}

	upd := repo.TransactionUpdate{
		Status:            domain.StatusPending,
		MerchantRequestID: strings.TrimSpace(res.MerchantRequestID),
		Amount:            req.amount,
		Phone:             req.phone,
		Metadata:          &meta,
	}
	outcome := "accepted"
	if !res.Accepted() {
		outcome = "rejected"
		upd.Status = domain.StatusFailed
		code, desc := string(res.ResponseCode), res.ResponseDescription
		upd.ResultCode, upd.ResultDesc = &code, domain.StringPtr(desc)
	}
	checkoutID := strings.TrimSpace(res.CheckoutRequestID)
	s.finalize(ctx, &lg, txID, checkoutID, upd)
	metrics.PushTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("mpesa.checkout_request_id", checkoutID),
		attribute.String("mpesa.outcome", outcome),
	)

	msg := res.ResponseDescription
	if msg == "" {
		msg = "STK push initiated"
		if !res.Accepted() {
			msg = "STK push rejected"
		}
	}
	return &InitiateResult{
		Accepted:          res.Accepted(),
		Message:           msg,
		TransactionID:     txID,
		CheckoutRequestID: checkoutID,
		MerchantRequestID: upd.MerchantRequestID,
	}, nil
}

// recordInitiating writes the pre-push row. A storage failure is logged and
// the push proceeds; the outcome is then upserted by checkout id instead.
func (s *PaymentService) recordInitiating(ctx context.Context, lg *zerolog.Logger, req pushRequest, meta domain.TransactionMetadata) string {
	row := &domain.Transaction{
		ID:          uuid.NewString(),
		Amount:      req.amount,
		PhoneNumber: req.phone,
		Status:      domain.StatusInitiating,
		Metadata:    datatypes.NewJSONType(meta),
	}
	if err := repo.CreateTransaction(ctx, s.DB, row); err != nil {
		lg.Error().Err(err).Msg("initiating transaction not stored")
		return ""
	}
	return row.ID
}

// finalize applies the push outcome to the initiating row, or to the row
// keyed by checkoutID when there is no initiating row.
func (s *PaymentService) finalize(ctx context.Context, lg *zerolog.Logger, txID, checkoutID string, upd repo.TransactionUpdate) {
	if txID != "" {
		ok, err := repo.FinalizeInitiated(ctx, s.DB, txID, checkoutID, upd)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			s.mergeIntoCallbackRow(ctx, lg, checkoutID, upd)
			return
		case err != nil:
			lg.Error().Err(err).Str("transaction_id", txID).Msg("push outcome not stored")
		case ok:
			return
		}
	}
	if checkoutID == "" {
		return
	}
	if _, err := repo.UpsertTransaction(ctx, s.DB, checkoutID, upd); err != nil {
		lg.Error().Err(err).Str("checkout_request_id", checkoutID).Msg("push outcome upsert failed")
	}
}

// mergeIntoCallbackRow handles a callback that stored the checkout row
// before the push response did. The callback's status stands; the cart is
// attached and, if the payment already succeeded, inventory is settled here
// because the callback found no cart to deduct.
func (s *PaymentService) mergeIntoCallbackRow(ctx context.Context, lg *zerolog.Logger, checkoutID string, upd repo.TransactionUpdate) {
	l := lg.With().Str("checkout_request_id", checkoutID).Logger()
	l.Info().Msg("callback arrived before push response; merging details")
	if err := repo.MergeTransactionDetails(ctx, s.DB, checkoutID, upd); err != nil {
		l.Error().Err(err).Msg("merge into callback row failed")
		return
	}
	if s.Inventory == nil {
		return
	}
	if _, _, err := s.Inventory.DeductForCheckout(ctx, checkoutID, SitePush); err != nil {
		l.Error().Err(err).Msg("inventory settlement failed")
	}
}

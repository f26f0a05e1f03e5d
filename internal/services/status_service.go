// Package services – StatusService
//
// StatusService answers client polls for a checkout. Resolve may ask the
// gateway; Read never does.
//
// Resolve follows a fixed decision table:
//
//	store state | gateway                      | answer                   | source
//	------------+------------------------------+--------------------------+---------------------
//	terminal    | not called                   | stored                   | store
//	absent      | not called                   | pending, exists=false    | store
//	open        | answered                     | classified and persisted | gateway
//	open        | non-2xx or bad body          | stored                   | store_fallback
//	open        | token, transport, config err | stored                   | store_error_fallback
//
// When the persisting write loses to a terminal status written meanwhile by
// a callback, the stored value is returned with source=store.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/events"
	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// Status provenances.
const (
	SourceStore              = "store"
	SourceGateway            = "gateway"
	SourceStoreFallback      = "store_fallback"
	SourceStoreErrorFallback = "store_error_fallback"
)

// StatusService resolves and reads transaction status.
type StatusService struct {
	DB      *gorm.DB
	Gateway Gateway
	Events  events.Publisher
}

// StatusResult is the answer to a status poll.
type StatusResult struct {
	CheckoutRequestID string
	Status            domain.TransactionStatus
	ResultCode        *string
	ResultDesc        *string
	Source            string
	Exists            bool
}

type storeState int

const (
	stateAbsent storeState = iota
	stateOpen
	stateTerminal
)

func classifyStore(tx *domain.Transaction) storeState {
	switch {
	case tx == nil:
		return stateAbsent
	case tx.Status.Terminal():
		return stateTerminal
	default:
		return stateOpen
	}
}

// fallbackSource picks the provenance for a failed gateway query: the
// gateway answered but unusably, or it could not be asked at all.
func fallbackSource(err error) string {
	var herr *mpesa.HTTPError
	if errors.As(err, &herr) && herr.Op != "token" {
		return SourceStoreFallback
	}
	if errors.Is(err, mpesa.ErrMalformed) {
		return SourceStoreFallback
	}
	return SourceStoreErrorFallback
}

func stored(tx *domain.Transaction, source string) *StatusResult {
	status := tx.Status
	if status == "" {
		status = domain.StatusPending
	}
	return &StatusResult{
		CheckoutRequestID: domain.StringOrEmpty(tx.CheckoutRequestID),
		Status:            status,
		ResultCode:        tx.ResultCode,
		ResultDesc:        tx.ResultDesc,
		Source:            source,
		Exists:            true,
	}
}

func absent(checkoutID string) *StatusResult {
	return &StatusResult{CheckoutRequestID: checkoutID, Status: domain.StatusPending, Source: SourceStore}
}

// lookup returns the stored transaction, or nil when there is none.
func (s *StatusService) lookup(ctx context.Context, checkoutID string) (*domain.Transaction, error) {
	tx, err := repo.GetTransactionByCheckoutID(ctx, s.DB, checkoutID)
	if repo.IsNotFound(err) {
		return nil, nil
	}
	return tx, err
}

// Resolve answers a poll for checkoutID, querying the gateway only while the
// stored status is still open. Only a blank id or a store read failure is
// an error; gateway failures degrade to the stored state.
func (s *StatusService) Resolve(ctx context.Context, checkoutID string) (*StatusResult, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, ErrMissingCheckoutID
	}

	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("mpesa.checkout_request_id", checkoutID)),
	)
	defer span.End()

	res, err := s.resolve(ctx, checkoutID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.ResolutionsTotal.WithLabelValues(res.Source, string(res.Status)).Inc()
	span.SetAttributes(
		attribute.String("status.source", res.Source),
		attribute.String("status.value", string(res.Status)),
	)
	return res, nil
}

func (s *StatusService) resolve(ctx context.Context, checkoutID string) (*StatusResult, error) {
	tx, err := s.lookup(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	switch classifyStore(tx) {
	case stateAbsent:
		return absent(checkoutID), nil
	case stateTerminal:
		return stored(tx, SourceStore), nil
	}

	lg := zerolog.Ctx(ctx).With().Str("checkout_request_id", checkoutID).Logger()

	qr, err := s.query(ctx, checkoutID)
	if err != nil {
		src := fallbackSource(err)
		lg.Warn().Err(err).Str("source", src).Msg("status query failed; answering from store")
		return stored(tx, src), nil
	}

	status := mpesa.QueryStatus(qr.ResultCode)
	// Result fields are stored only with a terminal status; a still-pending
	// row keeps them empty for store readers.
	upd := repo.TransactionUpdate{Status: status}
	if status.Terminal() {
		upd.ResultCode = qr.ResultCode.Ptr()
		upd.ResultDesc = domain.StringPtr(qr.ResultDesc)
	}
	n, err := repo.UpdateTransactionStatus(ctx, s.DB, checkoutID, upd)
	if err != nil {
		lg.Error().Err(err).Msg("status query result not stored")
	} else if n == 0 {
		// A terminal status landed between our read and write.
		cur, rerr := s.lookup(ctx, checkoutID)
		if rerr == nil && cur != nil {
			return stored(cur, SourceStore), nil
		}
	} else if status.Terminal() {
		publish(ctx, s.Events, events.PaymentEvent{
			CheckoutRequestID: checkoutID,
			Status:            string(status),
			ResultCode:        qr.ResultCode.String(),
			ResultDesc:        qr.ResultDesc,
			Amount:            tx.Amount,
			Phone:             tx.PhoneNumber,
			Source:            "resolver",
			OccurredAt:        time.Now().UTC(),
		})
	}

	return &StatusResult{
		CheckoutRequestID: checkoutID,
		Status:            status,
		ResultCode:        qr.ResultCode.Ptr(),
		ResultDesc:        domain.StringPtr(qr.ResultDesc),
		Source:            SourceGateway,
		Exists:            true,
	}, nil
}

func (s *StatusService) query(ctx context.Context, checkoutID string) (*mpesa.QueryResult, error) {
	if s.Gateway == nil {
		return nil, &mpesa.ConfigError{Missing: []string{"gateway"}}
	}
	if err := s.Gateway.Ready(); err != nil {
		return nil, err
	}
	tok, err := s.Gateway.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.Gateway.Query(ctx, tok, checkoutID)
}

// Read answers a poll from the store only. The status is reported as
// cancelled when the stored result code is 1032 or the stored description
// mentions cancellation, whatever the status column says.
func (s *StatusService) Read(ctx context.Context, checkoutID string) (*StatusResult, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, ErrMissingCheckoutID
	}

	tr := otel.Tracer("services/StatusService")
	ctx, span := tr.Start(ctx, "Read",
		trace.WithAttributes(attribute.String("mpesa.checkout_request_id", checkoutID)),
	)
	defer span.End()

	tx, err := s.lookup(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return absent(checkoutID), nil
	}
	res := stored(tx, SourceStore)
	if looksCancelled(tx) {
		res.Status = domain.StatusCancelled
	}
	if res.ResultDesc == nil {
		empty := ""
		res.ResultDesc = &empty
	}
	return res, nil
}

func looksCancelled(tx *domain.Transaction) bool {
	if domain.StringOrEmpty(tx.ResultCode) == string(mpesa.CodeCancelled) {
		return true
	}
	return strings.Contains(cases.Fold().String(domain.StringOrEmpty(tx.ResultDesc)), "cancel")
}

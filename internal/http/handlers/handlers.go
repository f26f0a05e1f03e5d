// Package handlers exposes the checkout HTTP API.
//
// Handlers are transport-thin: they decode input, call the payment services,
// and translate results and errors into the JSON shapes checkout clients
// expect. The callback endpoint is the exception to "thin": it acknowledges
// first and hands the body to a background worker.
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/services"
)

//
// Service contracts (context-aware)
//

// PaymentInitiator starts STK pushes.
type PaymentInitiator interface {
	Initiate(ctx context.Context, in services.InitiateInput) (*services.InitiateResult, error)
}

// CallbackIngestor applies a raw gateway callback body.
type CallbackIngestor interface {
	Ingest(ctx context.Context, raw []byte) (*services.CallbackOutcome, error)
}

// StatusResolver answers payment status polls. Resolve may consult the
// gateway; Read never does.
type StatusResolver interface {
	Resolve(ctx context.Context, checkoutID string) (*services.StatusResult, error)
	Read(ctx context.Context, checkoutID string) (*services.StatusResult, error)
}

// OrderCreator materializes paid orders.
type OrderCreator interface {
	Create(ctx context.Context, in services.OrderInput) (*services.OrderResult, error)
}

// TransactionLister backs the operator listing.
type TransactionLister interface {
	List(ctx context.Context, q services.TransactionQuery) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, q services.TransactionQuery) (int64, *time.Time, error)
	Summary(ctx context.Context) (map[domain.TransactionStatus]int64, error)
}

// IdempotencyKeeper records Idempotency-Key results.
type IdempotencyKeeper interface {
	Lookup(ctx context.Context, scope, key string, now time.Time) (*domain.Idempotency, error)
	Remember(ctx context.Context, scope, key, resourceID string, status int) error
}

//
// Handler wiring
//

// DefaultCallbackTimeout bounds background processing of one callback.
const DefaultCallbackTimeout = 30 * time.Second

// Deps are the services the handlers call. Transactions and Idempotency are
// optional.
type Deps struct {
	Payments     PaymentInitiator
	Callbacks    CallbackIngestor
	Status       StatusResolver
	Orders       OrderCreator
	Transactions TransactionLister
	Idempotency  IdempotencyKeeper

	// CallbackTimeout defaults to DefaultCallbackTimeout.
	CallbackTimeout time.Duration
}

// Handlers groups the checkout endpoints.
type Handlers struct {
	payments  PaymentInitiator
	callbacks CallbackIngestor
	status    StatusResolver
	orders    OrderCreator
	txs       TransactionLister
	idem      IdempotencyKeeper

	callbackTimeout time.Duration
	inflight        sync.WaitGroup
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	to := d.CallbackTimeout
	if to <= 0 {
		to = DefaultCallbackTimeout
	}
	return &Handlers{
		payments:        d.Payments,
		callbacks:       d.Callbacks,
		status:          d.Status,
		orders:          d.Orders,
		txs:             d.Transactions,
		idem:            d.Idempotency,
		callbackTimeout: to,
	}
}

// Wait blocks until every acknowledged callback has been processed or ctx
// ends. The server calls it during shutdown after the listener has stopped.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

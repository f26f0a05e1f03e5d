// Package services – OrderService
//
// OrderService materializes a paid store-front order. The order row is the
// idempotency anchor: an existing order_id, or a unique-key conflict on
// insert, is a replay and answers success without any further writes. Only
// the request that inserts the order deducts inventory, and when a checkout
// id is supplied the deduction is additionally gated by the transaction's
// inventory marker so the callback and the order never both deduct.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// Order result messages.
const (
	MsgOrderCreated = "Order created successfully"
	MsgOrderExists  = "Order already exists"
)

// OrderService creates orders and applies their effects.
type OrderService struct {
	DB        *gorm.DB
	Inventory *InventoryService
}

// OrderInput is a create-order request.
type OrderInput struct {
	OrderID           string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	DeliveryAddress   string
	Location          string
	MpesaPhone        string
	TotalAmount       decimal.Decimal
	Items             []domain.CartItem
	CheckoutRequestID string
}

// OrderResult reports the outcome. Replay is true when the order already
// existed; InventoryUpdated is meaningful only when Replay is false.
type OrderResult struct {
	OrderID          string
	Message          string
	Replay           bool
	InventoryUpdated bool
}

func (in *OrderInput) normalize() error {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.DeliveryAddress = strings.TrimSpace(in.DeliveryAddress)
	in.Location = strings.TrimSpace(in.Location)
	in.MpesaPhone = strings.TrimSpace(in.MpesaPhone)
	in.CheckoutRequestID = strings.TrimSpace(in.CheckoutRequestID)

	switch {
	case in.OrderID == "":
		return ErrMissingOrderID
	case in.CustomerName == "":
		return ErrMissingCustomerName
	case in.CustomerPhone == "":
		return ErrMissingCustomerPhone
	case in.MpesaPhone == "":
		return ErrMissingMpesaPhone
	case !in.TotalAmount.IsPositive():
		return ErrInvalidTotal
	case len(in.Items) == 0:
		return ErrEmptyItems
	}
	if p, ok := msisdn.Normalize(in.MpesaPhone); ok {
		in.MpesaPhone = p
	}
	return nil
}

// Create materializes the order described by in.
//
// Semantics:
//   - Validation failures return a *ValidationError.
//   - An existing order, or a duplicate-key conflict on insert, returns
//     Replay=true with MsgOrderExists and performs no other writes.
//   - Inventory is deducted line by line; short lines are skipped and
//     reported as InventoryUpdated=false without failing the order.
//   - Line items and the transaction link are best effort: failures are
//     logged, not returned.
func (s *OrderService) Create(ctx context.Context, in OrderInput) (*OrderResult, error) {
	if err := in.normalize(); err != nil {
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("order.id", in.OrderID),
			attribute.Int("items", len(in.Items)),
			attribute.String("mpesa.checkout_request_id", in.CheckoutRequestID),
		),
	)
	defer span.End()

	lg := zerolog.Ctx(ctx).With().Str("order_id", in.OrderID).Logger()
	ctx = lg.WithContext(ctx)

	replay := &OrderResult{OrderID: in.OrderID, Message: MsgOrderExists, Replay: true}

	if _, err := repo.GetOrder(ctx, s.DB, in.OrderID); err == nil {
		metrics.OrdersTotal.WithLabelValues("replay").Inc()
		return replay, nil
	} else if !repo.IsNotFound(err) {
		metrics.OrdersTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, "lookup")
		return nil, err
	}

	order := &domain.Order{
		OrderID:         in.OrderID,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		CustomerPhone:   in.CustomerPhone,
		DeliveryAddress: in.DeliveryAddress,
		Location:        domain.StringPtr(in.Location),
		MpesaPhone:      in.MpesaPhone,
		TotalAmount:     in.TotalAmount,
		Status:          domain.OrderStatusPaid,
		PaymentMethod:   domain.PaymentMethodMpesa,
		OrderType:       domain.OrderTypeStoreFront,
	}
	if err := repo.CreateOrder(ctx, s.DB, order); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			metrics.OrdersTotal.WithLabelValues("replay").Inc()
			lg.Info().Msg("order inserted concurrently; replay")
			return replay, nil
		}
		metrics.OrdersTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return nil, err
	}

	updated := s.deduct(ctx, &lg, in)

	lines := make([]domain.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		lines = append(lines, domain.NewOrderItem(uuid.NewString(), in.OrderID, it))
	}
	if err := repo.CreateOrderItems(ctx, s.DB, lines); err != nil {
		lg.Error().Err(err).Msg("order line items not stored")
	}

	if in.CheckoutRequestID != "" {
		n, err := repo.LinkOrder(ctx, s.DB, in.CheckoutRequestID, in.OrderID)
		switch {
		case err != nil:
			lg.Warn().Err(err).Msg("transaction not linked to order")
		case n == 0:
			lg.Warn().Str("checkout_request_id", in.CheckoutRequestID).Msg("no transaction to link")
		}
	}

	metrics.OrdersTotal.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.Bool("inventory_updated", updated))
	return &OrderResult{OrderID: in.OrderID, Message: MsgOrderCreated, InventoryUpdated: updated}, nil
}

// deduct applies the order's inventory effect. With a checkout id the
// deduction runs only if this call wins the transaction's marker; when the
// callback already deducted, inventory counts as updated.
func (s *OrderService) deduct(ctx context.Context, lg *zerolog.Logger, in OrderInput) bool {
	if s.Inventory == nil {
		return false
	}
	if in.CheckoutRequestID == "" {
		return s.Inventory.Deduct(ctx, in.Items, SiteOrder)
	}
	won, err := repo.ClaimInventoryDeduction(ctx, s.DB, in.CheckoutRequestID, in.MpesaPhone, time.Now().UTC())
	if err != nil {
		lg.Error().Err(err).Msg("inventory claim failed; not deducting")
		return false
	}
	if !won {
		lg.Info().Str("checkout_request_id", in.CheckoutRequestID).Msg("inventory already deducted for checkout")
		return true
	}
	return s.Inventory.Deduct(ctx, in.Items, SiteOrder)
}

// Package services – InventoryService
//
// Stock is decremented per line with a single conditional UPDATE
// (stock >= qty), so concurrent deductions can never drive a product below
// zero. A line with insufficient stock, or an unknown product, is skipped
// and the rest continue.
//
// Two call sites deduct: the callback (from the cart stored on the
// transaction) and order creation. For any one checkout only the caller that
// wins repo.ClaimInventoryDeduction deducts.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/metrics"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// Deduction call sites, used as a metrics label.
const (
	SiteCallback = "callback"
	SiteOrder    = "order"
	SitePush     = "push"
)

// InventoryService applies cart deductions to product stock.
type InventoryService struct {
	DB *gorm.DB
}

// Deduct decrements stock for every line of items. It reports whether every
// line was applied; insufficient stock and unknown products are skipped and
// counted. Storage errors on a line are logged and skipped too.
func (s *InventoryService) Deduct(ctx context.Context, items []domain.CartItem, site string) bool {
	tr := otel.Tracer("services/InventoryService")
	ctx, span := tr.Start(ctx, "Deduct",
		trace.WithAttributes(
			attribute.Int("items", len(items)),
			attribute.String("site", site),
		),
	)
	defer span.End()

	lg := zerolog.Ctx(ctx)
	all := true
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			metrics.InventoryLinesTotal.WithLabelValues(site, "skipped").Inc()
			all = false
			continue
		}
		ok, err := repo.DecrementStock(ctx, s.DB, id, it.Qty())
		switch {
		case err != nil:
			metrics.InventoryLinesTotal.WithLabelValues(site, "error").Inc()
			lg.Error().Err(err).Str("product_id", id).Msg("stock decrement failed")
			all = false
		case !ok:
			metrics.InventoryLinesTotal.WithLabelValues(site, "insufficient").Inc()
			lg.Warn().Str("product_id", id).Int("quantity", it.Qty()).Msg("insufficient stock, line skipped")
			all = false
		default:
			metrics.InventoryLinesTotal.WithLabelValues(site, "applied").Inc()
		}
	}
	span.SetAttributes(attribute.Bool("all_applied", all))
	return all
}

// DeductForCheckout deducts the cart stored on a successful transaction,
// once. It returns claimed=false when the transaction is not successful, has
// no cart, or another call site already claimed the deduction.
func (s *InventoryService) DeductForCheckout(ctx context.Context, checkoutID, site string) (claimed, allApplied bool, err error) {
	tx, err := repo.GetTransactionByCheckoutID(ctx, s.DB, checkoutID)
	if err != nil {
		return false, false, err
	}
	if tx.Status != domain.StatusSuccess || tx.InventoryDeductedAt != nil {
		return false, false, nil
	}
	items := tx.Items()
	if len(items) == 0 {
		return false, false, nil
	}
	won, err := repo.ClaimInventoryDeduction(ctx, s.DB, checkoutID, tx.PhoneNumber, time.Now().UTC())
	if err != nil || !won {
		return false, false, err
	}
	return true, s.Deduct(ctx, items, site), nil
}

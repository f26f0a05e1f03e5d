package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
)

func TestTransactionService_ListAndFilter(t *testing.T) {
	db := newSvcDB(t)
	seedCheckout(t, db, "ws_1", domain.StatusPending)
	seedCheckout(t, db, "ws_2", domain.StatusSuccess)
	seedCheckout(t, db, "ws_3", domain.StatusSuccess)
	s := &TransactionService{DB: db}
	ctx := context.Background()

	items, total, err := s.List(ctx, TransactionQuery{Status: "SUCCESS", Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].Status != domain.StatusSuccess {
		t.Fatalf("total=%d items=%+v", total, items)
	}

	_, total, _ = s.List(ctx, TransactionQuery{Phone: "0712345678"})
	if total != 3 {
		t.Fatalf("phone filter should normalize, total=%d", total)
	}

	items, total, _ = s.List(ctx, TransactionQuery{Phone: "254799999999"})
	if total != 0 || items == nil {
		t.Fatalf("empty page must be a non-nil slice: %v %d", items, total)
	}

	if _, _, err := s.List(ctx, TransactionQuery{Status: "refunded"}); !errors.Is(err, ErrInvalidStatusFilter) {
		t.Fatalf("want ErrInvalidStatusFilter, got %v", err)
	}
	if _, _, err := s.List(ctx, TransactionQuery{Phone: "123"}); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("want ErrInvalidPhone, got %v", err)
	}

	n, last, err := s.Stats(ctx, TransactionQuery{Status: "success"})
	if err != nil || n != 2 || last == nil {
		t.Fatalf("stats: n=%d last=%v err=%v", n, last, err)
	}

	sum, err := s.Summary(ctx)
	if err != nil || sum[domain.StatusSuccess] != 2 || sum[domain.StatusPending] != 1 {
		t.Fatalf("summary = %v err=%v", sum, err)
	}
}

func TestInventoryService_Deduct(t *testing.T) {
	db := newSvcDB(t)
	seedProduct(t, db, "p1", 3)
	s := &InventoryService{DB: db}

	all := s.Deduct(context.Background(), cart(
		soap(2),
		domain.CartItem{ID: "ghost", Quantity: 1},
		domain.CartItem{ID: "", Quantity: 1},
	), SiteOrder)
	if all {
		t.Fatalf("unknown and blank products must be reported")
	}
	if got := stockOf(t, db, "p1"); got != 1 {
		t.Fatalf("stock = %d, want 1", got)
	}

	// quantity defaults to 1
	if !s.Deduct(context.Background(), cart(domain.CartItem{ID: "p1"}), SiteOrder) {
		t.Fatalf("single unit should apply")
	}
	if got := stockOf(t, db, "p1"); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
	if s.Deduct(context.Background(), cart(domain.CartItem{ID: "p1"}), SiteOrder) {
		t.Fatalf("stock must never go negative")
	}
}

func TestInventoryService_DeductForCheckout(t *testing.T) {
	db := newSvcDB(t)
	seedProduct(t, db, "p1", 5)
	seedCheckout(t, db, "ws_open", domain.StatusPending, soap(1))
	seedCheckout(t, db, "ws_paid", domain.StatusSuccess, soap(1))
	seedCheckout(t, db, "ws_empty", domain.StatusSuccess)
	s := &InventoryService{DB: db}
	ctx := context.Background()

	if claimed, _, err := s.DeductForCheckout(ctx, "ws_open", SiteCallback); err != nil || claimed {
		t.Fatalf("open transaction must not deduct: %v %v", claimed, err)
	}
	if claimed, _, err := s.DeductForCheckout(ctx, "ws_empty", SiteCallback); err != nil || claimed {
		t.Fatalf("empty cart must not claim: %v %v", claimed, err)
	}
	claimed, all, err := s.DeductForCheckout(ctx, "ws_paid", SiteCallback)
	if err != nil || !claimed || !all {
		t.Fatalf("paid: claimed=%v all=%v err=%v", claimed, all, err)
	}
	if claimed, _, _ := s.DeductForCheckout(ctx, "ws_paid", SiteCallback); claimed {
		t.Fatalf("second claim must lose")
	}
	if got := stockOf(t, db, "p1"); got != 4 {
		t.Fatalf("stock = %d, want 4", got)
	}
	if _, _, err := s.DeductForCheckout(ctx, "ws_missing", SiteCallback); err == nil {
		t.Fatalf("missing transaction should error")
	}
}

// Package services – TransactionService
//
// Read-only operator view over stored payment attempts.
package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
)

// TransactionService lists transactions.
type TransactionService struct {
	DB *gorm.DB
}

// TransactionQuery filters a listing. Phone may be in any accepted format;
// an unknown Status yields ErrInvalidStatusFilter.
type TransactionQuery struct {
	Status   string
	Phone    string
	Page     int
	PageSize int
}

// ErrInvalidStatusFilter is returned for a status outside the known set.
var ErrInvalidStatusFilter = invalid("status", "status must be one of initiating, pending, success, failed, cancelled")

func (q TransactionQuery) filter() (repo.TransactionFilter, error) {
	var f repo.TransactionFilter
	if st := strings.ToLower(strings.TrimSpace(q.Status)); st != "" {
		switch s := domain.TransactionStatus(st); s {
		case domain.StatusInitiating, domain.StatusPending, domain.StatusSuccess, domain.StatusFailed, domain.StatusCancelled:
			f.Status = s
		default:
			return f, ErrInvalidStatusFilter
		}
	}
	if p := strings.TrimSpace(q.Phone); p != "" {
		if n, ok := msisdn.Normalize(p); ok {
			f.Phone = n
		} else {
			return f, ErrInvalidPhone
		}
	}
	return f, nil
}

// List returns one page of transactions, newest first, and the total count.
func (s *TransactionService) List(ctx context.Context, q TransactionQuery) ([]domain.Transaction, int64, error) {
	tr := otel.Tracer("services/TransactionService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("filter.status", q.Status),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	f, err := q.filter()
	if err != nil {
		return nil, 0, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	items, total, err := repo.ListTransactions(ctx, s.DB, f, (q.Page-1)*q.PageSize, q.PageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	return items, total, nil
}

// Stats returns the count and latest update time for the filtered set, for
// conditional GETs.
func (s *TransactionService) Stats(ctx context.Context, q TransactionQuery) (int64, *time.Time, error) {
	f, err := q.filter()
	if err != nil {
		return 0, nil, err
	}
	return repo.TransactionsStats(ctx, s.DB, f)
}

// Summary returns transaction counts per status.
func (s *TransactionService) Summary(ctx context.Context) (map[domain.TransactionStatus]int64, error) {
	return repo.StatusCounts(ctx, s.DB)
}

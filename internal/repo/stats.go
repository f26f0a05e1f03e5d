// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) on the transaction listing.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
)

// TransactionsStats returns the number of transactions matching f and the
// greatest UpdatedAt among them. maxUpdatedAt is nil when nothing matches.
func TransactionsStats(ctx context.Context, db *gorm.DB, f TransactionFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Transaction{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Phone != "" {
		q = q.Where("phone_number = ?", f.Phone)
	}

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StatusCounts returns how many transactions sit in each status.
func StatusCounts(ctx context.Context, db *gorm.DB) (map[domain.TransactionStatus]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.TransactionStatus]int64, len(rows))
	for _, r := range rows {
		out[domain.TransactionStatus(r.Status)] = r.N
	}
	return out, nil
}

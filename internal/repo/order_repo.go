// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders, their
// line items, and product stock.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
)

// GetOrder fetches an order by its caller-supplied id, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts o. A second insert of the same order id returns
// ErrDuplicate; the primary key is what makes materialization at-most-once.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	err := db.WithContext(ctx).Create(o).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// CreateOrderItems inserts line items in one statement.
func CreateOrderItems(ctx context.Context, db *gorm.DB, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(&items).Error
}

// ListOrderItems returns the lines of orderID in insertion order.
func ListOrderItems(ctx context.Context, db *gorm.DB, orderID string) ([]domain.OrderItem, error) {
	var out []domain.OrderItem
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetProduct fetches a product by id, or ErrNotFound.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// DecrementStock subtracts qty from the product's stock only when enough is
// on hand. It reports false, without error, when the product is missing or
// short.
func DecrementStock(ctx context.Context, db *gorm.DB, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Transaction model.
//
// Every status write is guarded so that a terminal status is never replaced
// by a different one:
//
//	WHERE status IN ('initiating','pending') OR status = <new status>
//
// Writers keyed by checkout id go through two explicit steps: a guarded
// UPDATE, and only when that touched no row, a guarded INSERT ... ON CONFLICT
// (checkout_request_id) DO UPDATE ... WHERE <guard>. Neither step relies on a
// failed statement to pick the next one.
//
// Functions:
//
//   - CreateTransaction(ctx, db, tx) -> error
//   - GetTransaction(ctx, db, id) -> *domain.Transaction, error
//   - GetTransactionByCheckoutID(ctx, db, checkoutID) -> *domain.Transaction, error
//   - FinalizeInitiated(ctx, db, id, checkoutID, upd) -> (bool, error)
//   - UpdateTransactionStatus(ctx, db, checkoutID, upd) -> (int64, error)
//   - UpsertTransaction(ctx, db, checkoutID, upd) -> (int64, error)
//   - MergeTransactionDetails(ctx, db, checkoutID, upd) -> error
//   - ClaimInventoryDeduction(ctx, db, checkoutID, phone, now) -> (bool, error)
//   - LinkOrder(ctx, db, checkoutID, orderID) -> (int64, error)
//   - ListTransactions(ctx, db, filter, offset, limit) -> ([]domain.Transaction, int64, error)
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
)

// TransactionUpdate is a partial write to a transaction. Zero-valued optional
// fields are left untouched; Status is always written.
type TransactionUpdate struct {
	Status            domain.TransactionStatus
	ResultCode        *string
	ResultDesc        *string
	MerchantRequestID string
	Receipt           string
	TransactionDate   *time.Time
	Amount            int64 // 0 = unknown
	Phone             string
	Metadata          *domain.TransactionMetadata
}

func openStatuses() []string {
	return []string{string(domain.StatusInitiating), string(domain.StatusPending)}
}

// detailColumns returns the non-status columns this update carries.
func (u TransactionUpdate) detailColumns() map[string]any {
	cols := map[string]any{}
	if u.ResultCode != nil {
		cols["result_code"] = *u.ResultCode
	}
	if u.ResultDesc != nil {
		cols["result_desc"] = *u.ResultDesc
	}
	if u.MerchantRequestID != "" {
		cols["merchant_request_id"] = u.MerchantRequestID
	}
	if u.Receipt != "" {
		cols["mpesa_receipt_number"] = u.Receipt
	}
	if u.TransactionDate != nil {
		cols["transaction_date"] = *u.TransactionDate
	}
	if u.Amount > 0 {
		cols["amount"] = u.Amount
	}
	if u.Phone != "" {
		cols["phone_number"] = u.Phone
	}
	if u.Metadata != nil {
		cols["metadata"] = datatypes.NewJSONType(*u.Metadata)
	}
	return cols
}

func (u TransactionUpdate) columns(now time.Time) map[string]any {
	cols := u.detailColumns()
	cols["status"] = string(u.Status)
	cols["updated_at"] = now
	return cols
}

func (u TransactionUpdate) row(checkoutID string, now time.Time) *domain.Transaction {
	tx := &domain.Transaction{
		ID:                 uuid.NewString(),
		CheckoutRequestID:  &checkoutID,
		MerchantRequestID:  domain.StringPtr(u.MerchantRequestID),
		Amount:             u.Amount,
		PhoneNumber:        u.Phone,
		ResultCode:         u.ResultCode,
		ResultDesc:         u.ResultDesc,
		Status:             u.Status,
		MpesaReceiptNumber: domain.StringPtr(u.Receipt),
		TransactionDate:    u.TransactionDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if u.Metadata != nil {
		tx.Metadata = datatypes.NewJSONType(*u.Metadata)
	}
	return tx
}

// CreateTransaction inserts tx as given.
func CreateTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	err := db.WithContext(ctx).Create(tx).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetTransaction fetches a transaction by primary key, or ErrNotFound.
func GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := db.WithContext(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionByCheckoutID fetches a transaction by gateway checkout id, or ErrNotFound.
func GetTransactionByCheckoutID(ctx context.Context, db *gorm.DB, checkoutID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := db.WithContext(ctx).Where("checkout_request_id = ?", checkoutID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// FinalizeInitiated moves the initiating row id to the push outcome and, when
// checkoutID is non-empty, attaches the gateway correlation id. It returns
// ErrDuplicate when another writer (a fast callback) already created a row
// for checkoutID.
func FinalizeInitiated(ctx context.Context, db *gorm.DB, id, checkoutID string, upd TransactionUpdate) (bool, error) {
	cols := upd.columns(time.Now().UTC())
	if checkoutID != "" {
		cols["checkout_request_id"] = checkoutID
	}
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("id = ? AND status = ?", id, string(domain.StatusInitiating)).
		Updates(cols)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return false, ErrDuplicate
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateTransactionStatus applies upd to the row for checkoutID if the guard
// allows it. Zero rows means either no row exists or the stored status is
// terminal and different.
func UpdateTransactionStatus(ctx context.Context, db *gorm.DB, checkoutID string, upd TransactionUpdate) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("checkout_request_id = ?", checkoutID).
		Where("(status IN ? OR status = ?)", openStatuses(), string(upd.Status)).
		Updates(upd.columns(time.Now().UTC()))
	return res.RowsAffected, res.Error
}

// UpsertTransaction inserts a row for checkoutID, or merges upd into the
// existing one under the same guard as UpdateTransactionStatus. It returns
// the number of rows written; zero means the stored terminal status won.
func UpsertTransaction(ctx context.Context, db *gorm.DB, checkoutID string, upd TransactionUpdate) (int64, error) {
	now := time.Now().UTC()
	assign := []string{"status", "updated_at"}
	for col := range upd.detailColumns() {
		assign = append(assign, col)
	}
	open := openStatuses()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "checkout_request_id"}},
			DoUpdates: clause.AssignmentColumns(assign),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{
					SQL:  "mpesa_transactions.status IN (?, ?) OR mpesa_transactions.status = excluded.status",
					Vars: []any{open[0], open[1]},
				},
			}},
		}).
		Create(upd.row(checkoutID, now))
	return res.RowsAffected, res.Error
}

// MergeTransactionDetails copies the initiator's bookkeeping (amount, phone,
// metadata, merchant id) onto the row for checkoutID without touching status.
// Used when a callback created that row before the push response was stored.
func MergeTransactionDetails(ctx context.Context, db *gorm.DB, checkoutID string, upd TransactionUpdate) error {
	cols := map[string]any{"updated_at": time.Now().UTC()}
	if upd.Metadata != nil {
		cols["metadata"] = datatypes.NewJSONType(*upd.Metadata)
	}
	if upd.Amount > 0 {
		cols["amount"] = gorm.Expr("CASE WHEN amount > 0 THEN amount ELSE ? END", upd.Amount)
	}
	if upd.Phone != "" {
		cols["phone_number"] = gorm.Expr("CASE WHEN phone_number <> '' THEN phone_number ELSE ? END", upd.Phone)
	}
	if upd.MerchantRequestID != "" {
		cols["merchant_request_id"] = gorm.Expr("COALESCE(merchant_request_id, ?)", upd.MerchantRequestID)
	}
	return db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("checkout_request_id = ?", checkoutID).
		Updates(cols).Error
}

// ClaimInventoryDeduction sets inventory_deducted_at for checkoutID exactly
// once. It reports true to the single caller that wins the claim. When no
// transaction row exists yet, a pending placeholder carrying the marker is
// inserted so a later callback for the same checkout cannot claim it again.
// The placeholder stores phone in canonical form, or no phone when it does
// not normalize.
func ClaimInventoryDeduction(ctx context.Context, db *gorm.DB, checkoutID, phone string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("checkout_request_id = ? AND inventory_deducted_at IS NULL", checkoutID).
		Updates(map[string]any{"inventory_deducted_at": now, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	phone, _ = msisdn.Normalize(phone)
	placeholder := &domain.Transaction{
		ID:                  uuid.NewString(),
		CheckoutRequestID:   &checkoutID,
		PhoneNumber:         phone,
		Status:              domain.StatusPending,
		InventoryDeductedAt: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	res = db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "checkout_request_id"}}, DoNothing: true}).
		Create(placeholder)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LinkOrder records the materialized order on the transaction for checkoutID.
func LinkOrder(ctx context.Context, db *gorm.DB, checkoutID, orderID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("checkout_request_id = ?", checkoutID).
		Updates(map[string]any{"order_id": orderID, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// TransactionFilter narrows ListTransactions. Empty fields match everything.
type TransactionFilter struct {
	Status domain.TransactionStatus
	Phone  string
}

// ListTransactions returns a page of transactions, newest first, and the
// total number matching filter.
func ListTransactions(ctx context.Context, db *gorm.DB, f TransactionFilter, offset, limit int) ([]domain.Transaction, int64, error) {
	filter := func(q *gorm.DB) *gorm.DB {
		if f.Status != "" {
			q = q.Where("status = ?", string(f.Status))
		}
		if f.Phone != "" {
			q = q.Where("phone_number = ?", f.Phone)
		}
		return q
	}

	var total int64
	if err := db.WithContext(ctx).Model(&domain.Transaction{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []domain.Transaction
	err := db.WithContext(ctx).
		Scopes(filter).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

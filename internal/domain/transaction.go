// Package domain defines the persistence models for M-Pesa payment attempts,
// store-front orders, and product inventory. These types are mapped with GORM
// and shared across the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionStatus is the reconciliation state of a single STK push attempt.
type TransactionStatus string

const (
	// StatusInitiating is written before the gateway push call is made.
	StatusInitiating TransactionStatus = "initiating"
	// StatusPending means the gateway accepted the push and the payer has been prompted.
	StatusPending TransactionStatus = "pending"
	// StatusSuccess means the payer completed the payment.
	StatusSuccess TransactionStatus = "success"
	// StatusFailed covers every non-success, non-cancel outcome.
	StatusFailed TransactionStatus = "failed"
	// StatusCancelled means the payer dismissed the prompt (result code 1032).
	StatusCancelled TransactionStatus = "cancelled"
)

// TerminalStatuses lists the statuses that are final for a transaction.
var TerminalStatuses = []TransactionStatus{StatusSuccess, StatusFailed, StatusCancelled}

// OpenStatuses lists the statuses a transaction may still leave.
var OpenStatuses = []TransactionStatus{StatusInitiating, StatusPending}

// Terminal reports whether s is final. A terminal status is authoritative and
// is never replaced by a different status.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TransactionMetadata is carried from the push request through to the
// post-payment effects. Reference is stored in full even though the gateway
// only receives its first 12 characters.
type TransactionMetadata struct {
	Items     []CartItem `json:"items"`
	Reference string     `json:"reference"`
	Timestamp time.Time  `json:"timestamp"`
}

// Transaction is one STK push attempt.
//
// Fields:
//   - ID: UUID primary key, assigned before the gateway call because the
//     checkout request id does not exist yet.
//   - CheckoutRequestID: gateway correlation id; unique once present.
//   - Status: see TransactionStatus; enforced by a CHECK constraint.
//   - InventoryDeductedAt: set exactly once by whichever call site claims the
//     inventory deduction for this transaction.
type Transaction struct {
	ID                  string                                  `json:"id"                              gorm:"type:char(36);primaryKey"`
	CheckoutRequestID   *string                                 `json:"checkout_request_id,omitempty"   gorm:"type:varchar(64);uniqueIndex:ux_mpesa_tx_checkout"`
	MerchantRequestID   *string                                 `json:"merchant_request_id,omitempty"   gorm:"type:varchar(64)"`
	OrderID             *string                                 `json:"order_id,omitempty"              gorm:"type:varchar(64);index"`
	Amount              int64                                   `json:"amount"                          gorm:"not null;default:0"`
	PhoneNumber         string                                  `json:"phone_number"                    gorm:"type:varchar(16);index"`
	ResultCode          *string                                 `json:"result_code,omitempty"           gorm:"type:varchar(16)"`
	ResultDesc          *string                                 `json:"result_desc,omitempty"           gorm:"type:text"`
	Status              TransactionStatus                       `json:"status"                          gorm:"type:varchar(16);not null;index;check:chk_mpesa_tx_status,status IN ('initiating','pending','success','failed','cancelled')"`
	MpesaReceiptNumber  *string                                 `json:"mpesa_receipt_number,omitempty"  gorm:"type:varchar(32)"`
	TransactionDate     *time.Time                              `json:"transaction_date,omitempty"`
	Metadata            datatypes.JSONType[TransactionMetadata] `json:"metadata"`
	InventoryDeductedAt *time.Time                              `json:"inventory_deducted_at,omitempty"`
	CreatedAt           time.Time                               `json:"created_at"`
	UpdatedAt           time.Time                               `json:"updated_at"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "mpesa_transactions" }

// Items returns the cart line items recorded when the push was initiated.
func (t *Transaction) Items() []CartItem {
	return t.Metadata.Data().Items
}

// StringOrEmpty dereferences an optional column value.
func StringOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// OrderStatusPaid is the only status this service writes; orders are
	// materialized after payment has been observed.
	OrderStatusPaid = "paid"

	PaymentMethodMpesa  = "M-Pesa"
	OrderTypeStoreFront = "store_front_sale"

	defaultPriceType = "retail"
	defaultTierLabel = "Retail"
)

// CartItem is a purchased line as sent by the storefront, both in the push
// request (stored in transaction metadata) and in order creation.
type CartItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Price     decimal.Decimal `json:"price"` // line total
	PriceType string          `json:"priceType,omitempty"`
	TierLabel string          `json:"tierLabel,omitempty"`
}

// Qty returns the quantity, treating missing or non-positive values as 1.
func (it CartItem) Qty() int {
	if it.Quantity <= 0 {
		return 1
	}
	return it.Quantity
}

// LineTotal returns Price when set, otherwise UnitPrice * Qty.
func (it CartItem) LineTotal() decimal.Decimal {
	if !it.Price.IsZero() {
		return it.Price
	}
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty())))
}

// Order is a materialized store-front sale. OrderID is caller-supplied and
// unique; inserting it is the claim that makes order creation idempotent.
type Order struct {
	OrderID         string          `json:"order_id"         gorm:"column:order_id;type:varchar(64);primaryKey"`
	CustomerName    string          `json:"customer_name"    gorm:"type:varchar(255);not null"`
	CustomerEmail   string          `json:"customer_email"   gorm:"type:varchar(255);not null;default:''"`
	CustomerPhone   string          `json:"customer_phone"   gorm:"type:varchar(32);not null"`
	DeliveryAddress string          `json:"delivery_address" gorm:"type:text;not null;default:''"`
	Location        *string         `json:"location,omitempty" gorm:"type:varchar(255)"`
	MpesaPhone      string          `json:"mpesa_phone"      gorm:"type:varchar(16);not null"`
	TotalAmount     decimal.Decimal `json:"total_amount"     gorm:"type:numeric(12,2);not null"`
	Status          string          `json:"status"           gorm:"type:varchar(16);not null"`
	PaymentMethod   string          `json:"payment_method"   gorm:"type:varchar(32);not null"`
	OrderType       string          `json:"order_type"       gorm:"type:varchar(32);not null"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "store_front_sales" }

// OrderItem is one line of an Order.
type OrderItem struct {
	ID          string          `json:"id"           gorm:"type:char(36);primaryKey"`
	OrderID     string          `json:"order_id"     gorm:"type:varchar(64);not null;index:idx_sale_items_order"`
	ProductID   *string         `json:"product_id"   gorm:"type:varchar(64)"`
	ProductName string          `json:"product_name" gorm:"type:varchar(255);not null;default:''"`
	Quantity    int             `json:"quantity"     gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price"   gorm:"type:numeric(12,2);not null"`
	PriceType   string          `json:"price_type"   gorm:"type:varchar(32);not null"`
	TierLabel   string          `json:"tier_label"   gorm:"type:varchar(64);not null"`
	TotalPrice  decimal.Decimal `json:"total_price"  gorm:"type:numeric(12,2);not null"`
	CreatedAt   time.Time       `json:"created_at"`

	Order Order `json:"-" gorm:"foreignKey:OrderID;references:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "store_front_sale_items" }

// NewOrderItem maps a cart line to a line-item row, applying the storefront's
// defaults for missing price type and tier label.
func NewOrderItem(id, orderID string, it CartItem) OrderItem {
	priceType := strings.TrimSpace(it.PriceType)
	if priceType == "" {
		priceType = defaultPriceType
	}
	tier := strings.TrimSpace(it.TierLabel)
	if tier == "" {
		tier = defaultTierLabel
	}
	return OrderItem{
		ID:          id,
		OrderID:     orderID,
		ProductID:   StringPtr(strings.TrimSpace(it.ID)),
		ProductName: it.Name,
		Quantity:    it.Qty(),
		UnitPrice:   it.UnitPrice,
		PriceType:   priceType,
		TierLabel:   tier,
		TotalPrice:  it.LineTotal(),
	}
}

// Product is an inventory item. Stock must never go negative; decrements are
// conditional on sufficient stock.
type Product struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;default:''"`
	Stock     int       `json:"stock"      gorm:"not null;default:0;check:chk_products_stock,stock >= 0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

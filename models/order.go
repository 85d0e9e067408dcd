package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the order aggregate as seen by the reconciliation engine.
// It is created by the checkout flow in status "pending"; from then on
// OrderStatus only changes through the workflow state machine.
//
// Version is an optimistic-concurrency token: every status update is a
// compare-and-swap on (id, version).
type Order struct {
	ID              int             `gorm:"primary_key" json:"id"`
	OrderNumber     string          `gorm:"size:40;index" json:"order_number"`
	CorrelationId   string          `gorm:"size:255;uniqueIndex" json:"correlation_id"`
	PaymentIntentId string          `gorm:"size:255;index" json:"payment_intent_id"`
	OrderStatus     OrderStatus     `gorm:"size:20;index;not null;default:pending" json:"order_status"`
	ShippingStatus  ShippingStatus  `gorm:"size:20;not null;default:not_shipped" json:"shipping_status"`
	Total           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	CouponCode      *string         `gorm:"size:50" json:"coupon_code"`
	CustomerName    string          `gorm:"size:100" json:"customer_name"`
	CustomerEmail   string          `gorm:"size:255;index" json:"customer_email"`
	CustomerPhone   string          `gorm:"size:30" json:"customer_phone"`
	PaymentCredited bool            `gorm:"not null;default:false" json:"payment_credited"`
	OrderCanceled   bool            `gorm:"not null;default:false" json:"order_canceled"`
	RefundRequested bool            `gorm:"not null;default:false" json:"refund_requested"`
	OrderDate       *time.Time      `json:"order_date"`
	Version         int             `gorm:"not null;default:0" json:"version"`
	Details         []OrderDetail   `gorm:"foreignKey:OrderId" json:"details"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderDetail is one line item. Line items are immutable after order
// creation; the stock reconciler relies on that for symmetric restoration.
type OrderDetail struct {
	ID         int             `gorm:"primary_key" json:"id"`
	OrderId    int             `gorm:"index;not null" json:"order_id"`
	Sku        string          `gorm:"size:100;not null" json:"sku"`
	VariantSku *string         `gorm:"size:100" json:"variant_sku"`
	Qty        int             `gorm:"not null" json:"qty"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Discount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
}

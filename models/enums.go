package models

// OrderStatus is the payment-driven lifecycle status of an order.
// It only changes through the order state machine (workflow package).
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusExpired    OrderStatus = "expired"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// ShippingStatus is owned by fulfilment; the reconciliation engine never
// touches it.
type ShippingStatus string

const (
	ShippingStatusNotShipped ShippingStatus = "not_shipped"
	ShippingStatusPreparing  ShippingStatus = "preparing"
	ShippingStatusShipped    ShippingStatus = "shipped"
	ShippingStatusDelivered  ShippingStatus = "delivered"
)

type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodCashVoucher PaymentMethod = "cash_voucher"
	PaymentMethodTransfer    PaymentMethod = "bank_transfer"
	PaymentMethodUnknown     PaymentMethod = ""
)

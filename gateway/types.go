package gateway

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPaymentIntentSucceeded      EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed         EventType = "payment_intent.payment_failed"
	EventPaymentIntentCanceled       EventType = "payment_intent.canceled"
	EventPaymentIntentRequiresAction EventType = "payment_intent.requires_action"
	EventCheckoutSessionCompleted    EventType = "checkout.session.completed"
	EventCheckoutSessionExpired      EventType = "checkout.session.expired"
	EventChargeRefunded              EventType = "charge.refunded"
)

// Event is the verified, strongly-typed notification envelope. The payload
// union is decoded once here, at the boundary; exactly one of Intent,
// Session, Charge is non-nil for known event types. Unknown types keep only
// Raw so the caller can log and acknowledge them.
type Event struct {
	ID        string
	Type      EventType
	CreatedAt time.Time
	Intent    *PaymentIntent
	Session   *CheckoutSession
	Charge    *Charge
	Raw       json.RawMessage
}

// CorrelationKey returns the payment-intent id that groups related events,
// falling back to the session id (pre-intent sessions) and finally to the
// event id so locking always has a key.
func (e Event) CorrelationKey() string {
	switch {
	case e.Intent != nil && e.Intent.ID != "":
		return e.Intent.ID
	case e.Charge != nil && e.Charge.PaymentIntentId != "":
		return e.Charge.PaymentIntentId
	case e.Session != nil && e.Session.PaymentIntentId != "":
		return e.Session.PaymentIntentId
	case e.Session != nil:
		return e.Session.ID
	}
	return e.ID
}

// Intent status values as the gateway reports them.
const (
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusProcessing            = "processing"
	IntentStatusSucceeded             = "succeeded"
	IntentStatusCanceled              = "canceled"
)

type PaymentIntent struct {
	ID                 string      `json:"id"`
	Status             string      `json:"status"`
	Amount             int64       `json:"amount"`
	Currency           string      `json:"currency"`
	PaymentMethodTypes []string    `json:"payment_method_types"`
	LatestCharge       *Charge     `json:"latest_charge"`
	NextAction         *NextAction `json:"next_action"`
}

type NextAction struct {
	Type           string          `json:"type"`
	VoucherDisplay *VoucherDisplay `json:"voucher_display"`
}

// VoucherDisplay carries the cash-voucher details the customer needs to pay
// at a physical location.
type VoucherDisplay struct {
	HostedVoucherURL string `json:"hosted_voucher_url"`
	Reference        string `json:"reference"`
	ExpiresAt        int64  `json:"expires_at"`
}

type Charge struct {
	ID                   string                `json:"id"`
	PaymentIntentId      string                `json:"payment_intent"`
	Status               string                `json:"status"`
	PaymentMethodDetails *PaymentMethodDetails `json:"payment_method_details"`
}

type PaymentMethodDetails struct {
	Type string       `json:"type"`
	Card *CardDetails `json:"card"`
}

type CardDetails struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type CheckoutSession struct {
	ID                 string   `json:"id"`
	PaymentIntentId    string   `json:"payment_intent"`
	Status             string   `json:"status"`
	PaymentStatus      string   `json:"payment_status"`
	PaymentMethodTypes []string `json:"payment_method_types"`
	CustomerEmail      string   `json:"customer_email"`
	AmountTotal        int64    `json:"amount_total"`
}

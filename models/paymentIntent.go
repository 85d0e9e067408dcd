package models

import "time"

// PaymentIntentRecord is the canonical "what the gateway last told us" per
// transaction id. Upserted idempotently: a write only happens when status,
// method, amount or card suffix actually changed.
type PaymentIntentRecord struct {
	ID         int           `gorm:"primary_key" json:"id"`
	IntentId   string        `gorm:"size:255;not null;uniqueIndex:uniq_intent" json:"intent_id"`
	Status     string        `gorm:"size:40;not null;index" json:"status"`
	Amount     int64         `gorm:"not null;default:0" json:"amount"`
	Currency   string        `gorm:"size:10" json:"currency"`
	Method     PaymentMethod `gorm:"size:30" json:"method"`
	CardSuffix *string       `gorm:"size:8" json:"card_suffix"`
	RawDetail  string        `gorm:"type:mediumtext" json:"raw_detail"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Changed reports whether the snapshot differs from the stored record in any
// of the fields that matter for the upsert decision.
func (r *PaymentIntentRecord) Changed(next *PaymentIntentRecord) bool {
	if r.Status != next.Status || r.Method != next.Method || r.Amount != next.Amount {
		return true
	}
	a, b := "", ""
	if r.CardSuffix != nil {
		a = *r.CardSuffix
	}
	if next.CardSuffix != nil {
		b = *next.CardSuffix
	}
	return a != b
}

package models

import "time"

// ProcessedEvent is the durable idempotency ledger: one row per gateway
// event id, inserted only after the event has been fully applied. Presence
// of the row is the sole "already handled" marker; rows are never updated
// or deleted by the engine (cmd/ledger-prune removes old rows externally).
type ProcessedEvent struct {
	ID          int       `gorm:"primary_key" json:"id"`
	EventId     string    `gorm:"size:255;not null;uniqueIndex:uniq_event" json:"event_id"`
	EventType   string    `gorm:"size:100;not null;index" json:"event_type"`
	ReceivedAt  time.Time `gorm:"not null" json:"received_at"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ReplayEvent stores a verified raw event payload for asynchronous
// re-application: operators enqueue payloads via the replay ops endpoint
// and the background sweeper drains them. At-least-once is safe because
// ProcessEvent dedups against ProcessedEvent.
type ReplayEvent struct {
	ID        int        `gorm:"primary_key" json:"id"`
	EventId   string     `gorm:"size:255;not null;index" json:"event_id"`
	Payload   []byte     `gorm:"type:mediumblob;not null" json:"payload"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError *string    `gorm:"type:text" json:"last_error"`
	AppliedAt *time.Time `gorm:"index" json:"applied_at"`
	LockedAt  *time.Time `json:"locked_at"`
	LockedBy  *string    `gorm:"size:100" json:"locked_by"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

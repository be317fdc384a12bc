package models

import "time"

const (
	IdempotencyStatusReceived  = "received"
	IdempotencyStatusProcessed = "processed"
	IdempotencyStatusFailed    = "failed"
)

// IdempotencyRecord guards handler side effects for one (event, dedup key)
// pair. Inserting the row claims the pair; a processed row is never updated.
type IdempotencyRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	EventID     string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_idempotency_event_dedup,priority:1" json:"event_id"`
	DedupKey    string     `gorm:"type:varchar(191);not null;default:'';uniqueIndex:ux_idempotency_event_dedup,priority:2" json:"dedup_key"`
	Status      string     `gorm:"type:varchar(20);not null;index" json:"status"`
	ResultJSON  string     `gorm:"type:text" json:"result_json"`
	Error       string     `gorm:"type:text" json:"error"`
	ClaimedAt   time.Time  `gorm:"type:timestamp" json:"claimed_at"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

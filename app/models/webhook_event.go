package models

import "time"

const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusFailed    = "failed"
	WebhookStatusParked    = "parked"
)

// WebhookEvent stores a verified gateway delivery. The payload and signature
// columns are written once on ingestion; the remaining columns track dispatch.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	OccurredAt      time.Time  `gorm:"type:timestamp" json:"occurred_at"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureHeader string     `gorm:"type:varchar(512);not null" json:"-"`
	Status          string     `gorm:"type:varchar(20);not null;default:'received';index" json:"status"`
	Attempts        int        `gorm:"default:0" json:"attempts"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ArchivedAt      *time.Time `gorm:"type:timestamp;default:null" json:"archived_at,omitempty"`
	ArchiveKey      string     `gorm:"type:varchar(255);default:''" json:"archive_key"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

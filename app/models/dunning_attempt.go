package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DunningAttempt records one failed collection for a subscription. All rows for
// a subscription are deleted when a payment succeeds. EventID is the gateway
// event that reported the failure; one event yields at most one attempt.
type DunningAttempt struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID string          `gorm:"type:varchar(191);not null;index:idx_dunning_subscription_created,priority:1;index:idx_dunning_subscription_event,priority:1" json:"subscription_id"`
	InvoiceID      string          `gorm:"type:varchar(191);not null" json:"invoice_id"`
	EventID        string          `gorm:"type:varchar(191);not null;default:'';index:idx_dunning_subscription_event,priority:2" json:"event_id"`
	AttemptNumber  int             `gorm:"not null" json:"attempt_number"`
	FailureReason  string          `gorm:"type:varchar(255);default:''" json:"failure_reason"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	NextRetryAt    *time.Time      `gorm:"type:timestamp;default:null" json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `gorm:"index:idx_dunning_subscription_created,priority:2" json:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
)

// Payout is one disbursement to an affiliate.
type Payout struct {
	ID               string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	AffiliateID      uint            `gorm:"not null;index:idx_payouts_affiliate_status,priority:1" json:"affiliate_id"`
	GrossAmount      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"gross_amount"`
	ProcessingFee    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"processing_fee"`
	TaxWithheld      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"tax_withheld"`
	NetAmount        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"net_amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	PaymentMethod    string          `gorm:"type:varchar(32);not null" json:"payment_method"`
	Status           string          `gorm:"type:varchar(20);not null;index:idx_payouts_affiliate_status,priority:2" json:"status"`
	Provider         string          `gorm:"type:varchar(32);default:''" json:"provider"`
	PaymentReference string          `gorm:"type:varchar(191);default:''" json:"payment_reference"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason"`
	RetryCount       int             `gorm:"default:0" json:"retry_count"`
	Manual           bool            `gorm:"default:false" json:"manual"`
	CompletedAt      *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	FailedAt         *time.Time      `gorm:"type:timestamp;default:null;index" json:"failed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

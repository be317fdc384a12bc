package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionStatusConfirmed = "confirmed"
	CommissionStatusPaid      = "paid"
)

// CommissionRecord is an earned commission. PayoutID is set once when the
// commission is linked to a payout and is never reassigned.
type CommissionRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	AffiliateID     uint            `gorm:"not null;index:idx_commissions_affiliate_status,priority:1" json:"affiliate_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Status          string          `gorm:"type:varchar(20);not null;index:idx_commissions_affiliate_status,priority:2" json:"status"`
	PayoutID        *string         `gorm:"type:varchar(36);default:null;index" json:"payout_id,omitempty"`
	TransactionDate time.Time       `gorm:"type:timestamp;index" json:"transaction_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const BillingHistoryStatusPaid = "paid"

// BillingHistory is one line of an owner's invoice history.
type BillingHistory struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	OwnerID        uint            `gorm:"not null;index" json:"owner_id"`
	SubscriptionID string          `gorm:"type:varchar(191);not null;index" json:"subscription_id"`
	InvoiceID      string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"invoice_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status         string          `gorm:"type:varchar(32);not null" json:"status"`
	PaidAt         time.Time       `gorm:"type:timestamp" json:"paid_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

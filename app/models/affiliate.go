package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AffiliateStatusApproved  = "approved"
	AffiliateStatusPending   = "pending"
	AffiliateStatusSuspended = "suspended"
)

// Payout rails an affiliate can choose as payment method.
const (
	PaymentRailBankTransfer = "bank_transfer"
	PaymentRailPayPal       = "paypal"
	PaymentRailCard         = "card"
	PaymentRailWire         = "wire"
)

// Affiliate is a payee earning commissions. EncryptedPaymentDetails is only
// ever written through the payment details codec, which also maintains
// PaymentFingerprint.
type Affiliate struct {
	ID                      uint            `gorm:"primaryKey" json:"id"`
	Name                    string          `gorm:"type:varchar(150)" json:"name"`
	Email                   string          `gorm:"type:varchar(200);index" json:"email"`
	Status                  string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentMethod           string          `gorm:"type:varchar(32);not null;default:''" json:"payment_method"`
	EncryptedPaymentDetails string          `gorm:"type:text" json:"-"`
	PaymentFingerprint      string          `gorm:"type:varchar(64);default:'';index" json:"-"`
	TotalPending            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_pending"`
	TotalPaid               decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_paid"`
	MinimumPayoutThreshold  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"minimum_payout_threshold"`
	TaxWithholdingRate      decimal.Decimal `gorm:"type:decimal(6,4);not null;default:0" json:"tax_withholding_rate"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSupportedPaymentRail reports whether a payout can be dispatched for rail.
func IsSupportedPaymentRail(rail string) bool {
	switch rail {
	case PaymentRailBankTransfer, PaymentRailPayPal, PaymentRailCard, PaymentRailWire:
		return true
	default:
		return false
	}
}

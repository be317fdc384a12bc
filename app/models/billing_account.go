package models

import "time"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
)

// BillingAccount links an account holder to the gateway customer and mirrors
// the subscription state reported by verified webhook events.
type BillingAccount struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	OwnerID           uint       `gorm:"not null;uniqueIndex" json:"owner_id"`
	GatewayCustomerID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_customer_id"`
	SubscriptionID    string     `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	PriceRef          string     `gorm:"type:varchar(191);default:''" json:"price_ref"`
	Tier              string     `gorm:"type:varchar(50);not null;default:'free'" json:"tier"`
	Status            string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodEnd  *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEnd          *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	CancelAtPeriodEnd bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the account status grants the paid tier.
func (a *BillingAccount) IsEntitling() bool {
	switch a.Status {
	case BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue:
		return true
	default:
		return false
	}
}

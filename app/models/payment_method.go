package models

import "time"

// PaymentMethod is a gateway payment method attached to a customer.
type PaymentMethod struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	GatewayPaymentMethodID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_payment_method_id"`
	GatewayCustomerID      string    `gorm:"type:varchar(191);not null;index" json:"gateway_customer_id"`
	OwnerID                uint      `gorm:"not null;index" json:"owner_id"`
	Type                   string    `gorm:"type:varchar(32);not null;default:'card'" json:"type"`
	Brand                  string    `gorm:"type:varchar(32);default:''" json:"brand"`
	Last4                  string    `gorm:"type:varchar(4);default:''" json:"last4"`
	ExpMonth               int       `gorm:"default:0" json:"exp_month"`
	ExpYear                int       `gorm:"default:0" json:"exp_year"`
	IsDefault              bool      `gorm:"default:false" json:"is_default"`
	NeedsReplacement       bool      `gorm:"default:false;index" json:"needs_replacement"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

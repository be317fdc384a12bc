package models

import "time"

// BillingPlanMapping maps gateway price/plan references to internal tiers.
type BillingPlanMapping struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PriceRef  string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"price_ref"`
	Tier      string    `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// FraudAlert is the audit record written when screening blocks a payout.
type FraudAlert struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	AffiliateID uint           `gorm:"not null;index" json:"affiliate_id"`
	RiskScore   int            `gorm:"not null" json:"risk_score"`
	Reasons     datatypes.JSON `json:"reasons"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

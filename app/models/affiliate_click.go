package models

import "time"

// AffiliateClick is a tracked referral click.
type AffiliateClick struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AffiliateID uint      `gorm:"not null;index:idx_affiliate_clicks_affiliate_time,priority:1" json:"affiliate_id"`
	IP          string    `gorm:"type:varchar(45);default:''" json:"ip"`
	UserAgent   string    `gorm:"type:varchar(512);default:''" json:"user_agent"`
	Converted   bool      `gorm:"default:false" json:"converted"`
	ClickedAt   time.Time `gorm:"type:timestamp;index:idx_affiliate_clicks_affiliate_time,priority:2" json:"clicked_at"`
}

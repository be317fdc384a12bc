package models

import "time"

const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// NotificationLog records the delivery outcome of a templated message.
type NotificationLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Recipient string    `gorm:"type:varchar(200);not null;index" json:"recipient"`
	Template  string    `gorm:"type:varchar(100);not null" json:"template"`
	Status    string    `gorm:"type:varchar(20);not null" json:"status"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

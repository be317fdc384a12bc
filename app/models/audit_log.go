package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only state transition entry.
type AuditLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	EntityType string         `gorm:"type:varchar(50);not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(191);not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action     string         `gorm:"type:varchar(100);not null" json:"action"`
	FromState  string         `gorm:"type:varchar(50);default:''" json:"from_state"`
	ToState    string         `gorm:"type:varchar(50);default:''" json:"to_state"`
	Details    datatypes.JSON `json:"details,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

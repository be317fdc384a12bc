package repository

import (
	"context"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

type fraudAlertRepository struct {
	db *gorm.DB
}

// NewFraudAlertRepository creates a fraud alert repository backed by GORM.
func NewFraudAlertRepository(db *gorm.DB) FraudAlertRepository {
	return &fraudAlertRepository{db: db}
}

func (r *fraudAlertRepository) Create(ctx context.Context, alert *models.FraudAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *fraudAlertRepository) ListByAffiliate(ctx context.Context, affiliateID uint) ([]models.FraudAlert, error) {
	var alerts []models.FraudAlert
	err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at DESC").Find(&alerts).Error
	return alerts, err
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates an audit log repository backed by GORM.
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditLogRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

type notificationLogRepository struct {
	db *gorm.DB
}

// NewNotificationLogRepository creates a notification log repository backed by GORM.
func NewNotificationLogRepository(db *gorm.DB) NotificationLogRepository {
	return &notificationLogRepository{db: db}
}

func (r *notificationLogRepository) Create(ctx context.Context, entry *models.NotificationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

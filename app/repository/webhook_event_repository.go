package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook event repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetByProviderEventID(ctx, event.ProviderEventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *webhookEventRepository) GetByProviderEventID(ctx context.Context, providerEventID string) (*models.WebhookEvent, error) {
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider_event_id = ?", providerEventID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *webhookEventRepository) UpdateDispatch(ctx context.Context, providerEventID, status string, attempts int, lastError string) error {
	updates := map[string]interface{}{
		"status":     status,
		"attempts":   attempts,
		"last_error": lastError,
	}
	if status == models.WebhookStatusProcessed || status == models.WebhookStatusIgnored {
		updates["processed_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(updates).Error
}

func (r *webhookEventRepository) MarkArchived(ctx context.Context, providerEventID, archiveKey string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(map[string]interface{}{"archived_at": at, "archive_key": archiveKey}).Error
}

func (r *webhookEventRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

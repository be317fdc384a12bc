package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

type dunningAttemptRepository struct {
	db *gorm.DB
}

// NewDunningAttemptRepository creates a dunning attempt repository backed by GORM.
func NewDunningAttemptRepository(db *gorm.DB) DunningAttemptRepository {
	return &dunningAttemptRepository{db: db}
}

func (r *dunningAttemptRepository) Create(ctx context.Context, attempt *models.DunningAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *dunningAttemptRepository) GetByEvent(ctx context.Context, subscriptionID, eventID string) (*models.DunningAttempt, error) {
	var attempt models.DunningAttempt
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND event_id = ?", subscriptionID, eventID).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *dunningAttemptRepository) CountSince(ctx context.Context, subscriptionID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DunningAttempt{}).
		Where("subscription_id = ? AND created_at >= ?", subscriptionID, since).
		Count(&count).Error
	return count, err
}

func (r *dunningAttemptRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.DunningAttempt, error) {
	var attempts []models.DunningAttempt
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *dunningAttemptRepository) DeleteBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Delete(&models.DunningAttempt{})
	return res.RowsAffected, res.Error
}

package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates an idempotency ledger backed by GORM.
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Claim(ctx context.Context, rec *models.IdempotencyRecord) (bool, *models.IdempotencyRecord, error) {
	rec.Status = models.IdempotencyStatusReceived
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "dedup_key"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, rec, nil
	}

	existing, err := r.Get(ctx, rec.EventID, rec.DedupKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *idempotencyRepository) Reclaim(ctx context.Context, eventID, dedupKey string, staleBefore, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("event_id = ? AND dedup_key = ?", eventID, dedupKey).
		Where("status = ? OR (status = ? AND claimed_at < ?)",
			models.IdempotencyStatusFailed, models.IdempotencyStatusReceived, staleBefore).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusReceived,
			"claimed_at": now,
			"error":      "",
		})
	return res.RowsAffected == 1, res.Error
}

func (r *idempotencyRepository) MarkProcessed(ctx context.Context, eventID, dedupKey, resultJSON string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("event_id = ? AND dedup_key = ? AND status = ?", eventID, dedupKey, models.IdempotencyStatusReceived).
		Updates(map[string]interface{}{
			"status":       models.IdempotencyStatusProcessed,
			"result_json":  resultJSON,
			"processed_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, eventID, dedupKey, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("event_id = ? AND dedup_key = ? AND status = ?", eventID, dedupKey, models.IdempotencyStatusReceived).
		Updates(map[string]interface{}{
			"status": models.IdempotencyStatusFailed,
			"error":  errMsg,
		}).Error
}

func (r *idempotencyRepository) Get(ctx context.Context, eventID, dedupKey string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := r.db.WithContext(ctx).Where("event_id = ? AND dedup_key = ?", eventID, dedupKey).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

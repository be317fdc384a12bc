package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates a payout repository backed by GORM.
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

func (r *payoutRepository) CreateForAffiliate(ctx context.Context, affiliateID uint, failuresSince time.Time, prepare PayoutPreparer) (*models.Payout, error) {
	var created *models.Payout
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var affiliate models.Affiliate
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&affiliate, affiliateID).Error; err != nil {
			return err
		}

		var commissions []models.CommissionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("affiliate_id = ? AND status = ? AND payout_id IS NULL", affiliateID, models.CommissionStatusConfirmed).
			Find(&commissions).Error; err != nil {
			return err
		}
		unlinked := decimal.Zero
		ids := make([]uint, 0, len(commissions))
		for _, c := range commissions {
			unlinked = unlinked.Add(c.Amount)
			ids = append(ids, c.ID)
		}

		failures, err := failedAttempts(tx, affiliateID, failuresSince)
		if err != nil {
			return err
		}

		payout, err := prepare(&affiliate, unlinked, failures)
		if err != nil {
			return err
		}
		if err := tx.Create(payout).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Model(&models.CommissionRecord{}).
				Where("id IN ? AND payout_id IS NULL", ids).
				Update("payout_id", payout.ID).Error; err != nil {
				return err
			}
		}
		created = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *payoutRepository) GetByID(ctx context.Context, id string) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *payoutRepository) ListByAffiliate(ctx context.Context, affiliateID uint) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at DESC").Find(&payouts).Error
	return payouts, err
}

func (r *payoutRepository) CountFailedSince(ctx context.Context, affiliateID uint, since time.Time) (int64, error) {
	return failedAttempts(r.db.WithContext(ctx), affiliateID, since)
}

// failedAttempts counts every transfer attempt behind the failed payouts in
// the window: the first one plus each retry.
func failedAttempts(db *gorm.DB, affiliateID uint, since time.Time) (int64, error) {
	var attempts int64
	err := db.Model(&models.Payout{}).
		Select("COALESCE(SUM(retry_count + 1), 0)").
		Where("affiliate_id = ? AND status = ? AND failed_at >= ?", affiliateID, models.PayoutStatusFailed, since).
		Scan(&attempts).Error
	return attempts, err
}

func (r *payoutRepository) MarkCompleted(ctx context.Context, payoutID, provider, reference string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payout models.Payout
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", payoutID).First(&payout).Error; err != nil {
			return err
		}
		if payout.Status != models.PayoutStatusProcessing {
			return ErrStateConflict
		}

		if err := tx.Model(&models.Payout{}).Where("id = ?", payoutID).Updates(map[string]interface{}{
			"status":            models.PayoutStatusCompleted,
			"provider":          provider,
			"payment_reference": reference,
			"failure_reason":    "",
			"completed_at":      at,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.CommissionRecord{}).
			Where("payout_id = ?", payoutID).
			Update("status", models.CommissionStatusPaid).Error; err != nil {
			return err
		}

		gross := payout.GrossAmount
		return tx.Model(&models.Affiliate{}).Where("id = ?", payout.AffiliateID).Updates(map[string]interface{}{
			"total_paid":    gorm.Expr("total_paid + ?", gross),
			"total_pending": gorm.Expr("CASE WHEN total_pending > ? THEN total_pending - ? ELSE 0 END", gross, gross),
		}).Error
	})
}

func (r *payoutRepository) MarkFailed(ctx context.Context, payoutID, reason string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, models.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":         models.PayoutStatusFailed,
			"failure_reason": reason,
			"failed_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *payoutRepository) BeginRetry(ctx context.Context, payoutID string) (*models.Payout, error) {
	res := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", payoutID, models.PayoutStatusFailed).
		Updates(map[string]interface{}{
			"status":      models.PayoutStatusProcessing,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrStateConflict
	}
	return r.GetByID(ctx, payoutID)
}

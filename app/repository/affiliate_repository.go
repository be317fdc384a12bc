package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type affiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository creates an affiliate repository backed by GORM.
func NewAffiliateRepository(db *gorm.DB) AffiliateRepository {
	return &affiliateRepository{db: db}
}

func (r *affiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(affiliate).Error
}

func (r *affiliateRepository) GetByID(ctx context.Context, id uint) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).First(&affiliate, id).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

func (r *affiliateRepository) ListPayoutCandidates(ctx context.Context, minPending decimal.Decimal) ([]models.Affiliate, error) {
	var affiliates []models.Affiliate
	err := r.db.WithContext(ctx).
		Where("status = ? AND total_pending >= ?", models.AffiliateStatusApproved, minPending).
		Order("id ASC").
		Find(&affiliates).Error
	return affiliates, err
}

func (r *affiliateRepository) CountByPaymentFingerprint(ctx context.Context, fingerprint string, excludeID uint) (int64, error) {
	if fingerprint == "" {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("payment_fingerprint = ? AND id <> ?", fingerprint, excludeID).
		Count(&count).Error
	return count, err
}

func (r *affiliateRepository) ListMissingFingerprint(ctx context.Context, excludeID uint) ([]models.Affiliate, error) {
	var affiliates []models.Affiliate
	err := r.db.WithContext(ctx).
		Where("payment_fingerprint = '' AND encrypted_payment_details <> '' AND id <> ?", excludeID).
		Order("id ASC").
		Find(&affiliates).Error
	return affiliates, err
}

func (r *affiliateRepository) UpdatePaymentDetails(ctx context.Context, id uint, method, encrypted, fingerprint string) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_method":            method,
			"encrypted_payment_details": encrypted,
			"payment_fingerprint":       fingerprint,
		}).Error
}

type affiliateClickRepository struct {
	db *gorm.DB
}

// NewAffiliateClickRepository creates a click repository backed by GORM.
func NewAffiliateClickRepository(db *gorm.DB) AffiliateClickRepository {
	return &affiliateClickRepository{db: db}
}

func (r *affiliateClickRepository) Create(ctx context.Context, click *models.AffiliateClick) error {
	return r.db.WithContext(ctx).Create(click).Error
}

func (r *affiliateClickRepository) ListSince(ctx context.Context, affiliateID uint, since time.Time) ([]models.AffiliateClick, error) {
	var clicks []models.AffiliateClick
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND clicked_at >= ?", affiliateID, since).
		Find(&clicks).Error
	return clicks, err
}

func (r *affiliateClickRepository) CountConversions(ctx context.Context, affiliateID uint) (int64, int64, error) {
	var clicks, conversions int64
	db := r.db.WithContext(ctx).Model(&models.AffiliateClick{})
	if err := db.Where("affiliate_id = ?", affiliateID).Count(&clicks).Error; err != nil {
		return 0, 0, err
	}
	err := r.db.WithContext(ctx).Model(&models.AffiliateClick{}).
		Where("affiliate_id = ? AND converted = ?", affiliateID, true).
		Count(&conversions).Error
	return clicks, conversions, err
}

type commissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository creates a commission repository backed by GORM.
func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) Create(ctx context.Context, commission *models.CommissionRecord) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

func (r *commissionRepository) ListByAffiliateSince(ctx context.Context, affiliateID uint, since time.Time) ([]models.CommissionRecord, error) {
	var records []models.CommissionRecord
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND transaction_date >= ?", affiliateID, since).
		Order("transaction_date ASC").
		Find(&records).Error
	return records, err
}

func (r *commissionRepository) ListByPayout(ctx context.Context, payoutID string) ([]models.CommissionRecord, error) {
	var records []models.CommissionRecord
	err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).Find(&records).Error
	return records, err
}

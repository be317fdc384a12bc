package repository

import (
	"context"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type billingAccountRepository struct {
	db *gorm.DB
}

// NewBillingAccountRepository creates a billing account repository backed by GORM.
func NewBillingAccountRepository(db *gorm.DB) BillingAccountRepository {
	return &billingAccountRepository{db: db}
}

func (r *billingAccountRepository) Create(ctx context.Context, account *models.BillingAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *billingAccountRepository) GetByOwnerID(ctx context.Context, ownerID uint) (*models.BillingAccount, error) {
	return r.first(ctx, "owner_id = ?", ownerID)
}

func (r *billingAccountRepository) GetByGatewayCustomerID(ctx context.Context, customerID string) (*models.BillingAccount, error) {
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.first(ctx, "gateway_customer_id = ?", customerID)
}

func (r *billingAccountRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.BillingAccount, error) {
	if subscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.first(ctx, "subscription_id = ?", subscriptionID)
}

func (r *billingAccountRepository) Save(ctx context.Context, account *models.BillingAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *billingAccountRepository) first(ctx context.Context, query string, args ...interface{}) (*models.BillingAccount, error) {
	var account models.BillingAccount
	if err := r.db.WithContext(ctx).Where(query, args...).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

type planMappingRepository struct {
	db *gorm.DB
}

// NewPlanMappingRepository creates a plan mapping repository backed by GORM.
func NewPlanMappingRepository(db *gorm.DB) PlanMappingRepository {
	return &planMappingRepository{db: db}
}

func (r *planMappingRepository) FindActiveByPriceRef(ctx context.Context, priceRef string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.WithContext(ctx).
		Where("price_ref = ? AND is_active = ?", priceRef, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *planMappingRepository) Upsert(ctx context.Context, mapping *models.BillingPlanMapping) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "price_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "is_active", "updated_at"}),
	}).Create(mapping).Error
}

type billingHistoryRepository struct {
	db *gorm.DB
}

// NewBillingHistoryRepository creates a billing history repository backed by GORM.
func NewBillingHistoryRepository(db *gorm.DB) BillingHistoryRepository {
	return &billingHistoryRepository{db: db}
}

func (r *billingHistoryRepository) CreateIfNotExists(ctx context.Context, entry *models.BillingHistory) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_id"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *billingHistoryRepository) ListByOwner(ctx context.Context, ownerID uint) ([]models.BillingHistory, error) {
	var entries []models.BillingHistory
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&entries).Error
	return entries, err
}

type paymentMethodRepository struct {
	db *gorm.DB
}

// NewPaymentMethodRepository creates a payment method repository backed by GORM.
func NewPaymentMethodRepository(db *gorm.DB) PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

func (r *paymentMethodRepository) Upsert(ctx context.Context, pm *models.PaymentMethod) error {
	// is_default is deliberately absent from the update list.
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "gateway_payment_method_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"gateway_customer_id",
			"owner_id",
			"type",
			"brand",
			"last4",
			"exp_month",
			"exp_year",
			"needs_replacement",
			"updated_at",
		}),
	}).Create(pm).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).Where("gateway_payment_method_id = ?", pm.GatewayPaymentMethodID).First(pm).Error
}

func (r *paymentMethodRepository) GetByGatewayID(ctx context.Context, gatewayPaymentMethodID string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := r.db.WithContext(ctx).Where("gateway_payment_method_id = ?", gatewayPaymentMethodID).First(&pm).Error; err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *paymentMethodRepository) FlagForReplacement(ctx context.Context, customerID, paymentMethodID string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.PaymentMethod{})
	if paymentMethodID != "" {
		q = q.Where("gateway_payment_method_id = ?", paymentMethodID)
	} else {
		q = q.Where("gateway_customer_id = ? AND is_default = ?", customerID, true)
	}
	res := q.Update("needs_replacement", true)
	return res.RowsAffected, res.Error
}

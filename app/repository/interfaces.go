package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UserRepository defines the interface for billing owner lookups
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// BillingAccountRepository defines the interface for billing account operations
type BillingAccountRepository interface {
	Create(ctx context.Context, account *models.BillingAccount) error
	GetByOwnerID(ctx context.Context, ownerID uint) (*models.BillingAccount, error)
	GetByGatewayCustomerID(ctx context.Context, customerID string) (*models.BillingAccount, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.BillingAccount, error)
	Save(ctx context.Context, account *models.BillingAccount) error
}

// PlanMappingRepository maps gateway price references to internal tiers
type PlanMappingRepository interface {
	FindActiveByPriceRef(ctx context.Context, priceRef string) (*models.BillingPlanMapping, error)
	Upsert(ctx context.Context, mapping *models.BillingPlanMapping) error
}

// BillingHistoryRepository defines the interface for paid invoice history
type BillingHistoryRepository interface {
	// CreateIfNotExists inserts the entry unless one exists for the invoice.
	CreateIfNotExists(ctx context.Context, entry *models.BillingHistory) (bool, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]models.BillingHistory, error)
}

// PaymentMethodRepository defines the interface for stored payment methods
type PaymentMethodRepository interface {
	// Upsert creates or refreshes a payment method. The default flag of an
	// existing row is preserved.
	Upsert(ctx context.Context, pm *models.PaymentMethod) error
	GetByGatewayID(ctx context.Context, gatewayPaymentMethodID string) (*models.PaymentMethod, error)
	// FlagForReplacement flags paymentMethodID, or the customer's default
	// method when paymentMethodID is empty.
	FlagForReplacement(ctx context.Context, customerID, paymentMethodID string) (int64, error)
}

// WebhookEventRepository defines the interface for stored gateway deliveries
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByProviderEventID(ctx context.Context, providerEventID string) (*models.WebhookEvent, error)
	UpdateDispatch(ctx context.Context, providerEventID, status string, attempts int, lastError string) error
	MarkArchived(ctx context.Context, providerEventID, archiveKey string, at time.Time) error
	ListByStatus(ctx context.Context, status string, limit int) ([]models.WebhookEvent, error)
}

// IdempotencyRepository defines the ledger operations. Every state change is
// a single conditional statement so concurrent callers cannot both win.
type IdempotencyRepository interface {
	// Claim inserts rec with status received. When a record already exists,
	// claimed is false and the stored record is returned.
	Claim(ctx context.Context, rec *models.IdempotencyRecord) (claimed bool, existing *models.IdempotencyRecord, err error)
	// Reclaim moves a failed record, or a received record claimed before
	// staleBefore, back to received.
	Reclaim(ctx context.Context, eventID, dedupKey string, staleBefore, now time.Time) (bool, error)
	// MarkProcessed transitions received -> processed.
	MarkProcessed(ctx context.Context, eventID, dedupKey, resultJSON string, at time.Time) (bool, error)
	// MarkFailed transitions received -> failed.
	MarkFailed(ctx context.Context, eventID, dedupKey, errMsg string) error
	Get(ctx context.Context, eventID, dedupKey string) (*models.IdempotencyRecord, error)
}

// DunningAttemptRepository defines the interface for failed payment attempts
type DunningAttemptRepository interface {
	Create(ctx context.Context, attempt *models.DunningAttempt) error
	GetByEvent(ctx context.Context, subscriptionID, eventID string) (*models.DunningAttempt, error)
	CountSince(ctx context.Context, subscriptionID string, since time.Time) (int64, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]models.DunningAttempt, error)
	DeleteBySubscription(ctx context.Context, subscriptionID string) (int64, error)
}

// AffiliateRepository defines the interface for affiliate operations
type AffiliateRepository interface {
	Create(ctx context.Context, affiliate *models.Affiliate) error
	GetByID(ctx context.Context, id uint) (*models.Affiliate, error)
	// ListPayoutCandidates returns approved affiliates whose pending balance
	// reaches minPending, ordered by id.
	ListPayoutCandidates(ctx context.Context, minPending decimal.Decimal) ([]models.Affiliate, error)
	CountByPaymentFingerprint(ctx context.Context, fingerprint string, excludeID uint) (int64, error)
	// ListMissingFingerprint returns affiliates other than excludeID that hold
	// encrypted payment details but no stored fingerprint.
	ListMissingFingerprint(ctx context.Context, excludeID uint) ([]models.Affiliate, error)
	UpdatePaymentDetails(ctx context.Context, id uint, method, encrypted, fingerprint string) error
}

// AffiliateClickRepository defines the interface for tracked referral clicks
type AffiliateClickRepository interface {
	Create(ctx context.Context, click *models.AffiliateClick) error
	ListSince(ctx context.Context, affiliateID uint, since time.Time) ([]models.AffiliateClick, error)
	CountConversions(ctx context.Context, affiliateID uint) (clicks int64, conversions int64, err error)
}

// CommissionRepository defines the interface for commission records
type CommissionRepository interface {
	Create(ctx context.Context, commission *models.CommissionRecord) error
	ListByAffiliateSince(ctx context.Context, affiliateID uint, since time.Time) ([]models.CommissionRecord, error)
	ListByPayout(ctx context.Context, payoutID string) ([]models.CommissionRecord, error)
}

// PayoutPreparer decides, while the affiliate row is locked, whether a payout
// is created. unlinked is the sum of confirmed commissions not yet linked to a
// payout; failures counts failed transfer attempts in the lookback window,
// retries included.
type PayoutPreparer func(affiliate *models.Affiliate, unlinked decimal.Decimal, failures int64) (*models.Payout, error)

// PayoutRepository defines the interface for payout bookkeeping
type PayoutRepository interface {
	// CreateForAffiliate locks the affiliate, calls prepare and, when it
	// returns a payout, inserts it and links every unlinked confirmed
	// commission in the same transaction.
	CreateForAffiliate(ctx context.Context, affiliateID uint, failuresSince time.Time, prepare PayoutPreparer) (*models.Payout, error)
	GetByID(ctx context.Context, id string) (*models.Payout, error)
	ListByAffiliate(ctx context.Context, affiliateID uint) ([]models.Payout, error)
	CountFailedSince(ctx context.Context, affiliateID uint, since time.Time) (int64, error)
	// MarkCompleted settles a processing payout: linked commissions become
	// paid and the affiliate balances move by the gross amount.
	MarkCompleted(ctx context.Context, payoutID, provider, reference string, at time.Time) error
	MarkFailed(ctx context.Context, payoutID, reason string, at time.Time) error
	// BeginRetry transitions failed -> processing and increments retry_count.
	BeginRetry(ctx context.Context, payoutID string) (*models.Payout, error)
}

// FraudAlertRepository defines the interface for fraud audit records
type FraudAlertRepository interface {
	Create(ctx context.Context, alert *models.FraudAlert) error
	ListByAffiliate(ctx context.Context, affiliateID uint) ([]models.FraudAlert, error)
}

// AuditLogRepository defines the interface for the append-only audit trail
type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
}

// NotificationLogRepository defines the interface for delivery outcomes
type NotificationLogRepository interface {
	Create(ctx context.Context, entry *models.NotificationLog) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User            UserRepository
	BillingAccount  BillingAccountRepository
	PlanMapping     PlanMappingRepository
	BillingHistory  BillingHistoryRepository
	PaymentMethod   PaymentMethodRepository
	WebhookEvent    WebhookEventRepository
	Idempotency     IdempotencyRepository
	Dunning         DunningAttemptRepository
	Affiliate       AffiliateRepository
	Click           AffiliateClickRepository
	Commission      CommissionRepository
	Payout          PayoutRepository
	FraudAlert      FraudAlertRepository
	AuditLog        AuditLogRepository
	NotificationLog NotificationLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:            NewUserRepository(db),
		BillingAccount:  NewBillingAccountRepository(db),
		PlanMapping:     NewPlanMappingRepository(db),
		BillingHistory:  NewBillingHistoryRepository(db),
		PaymentMethod:   NewPaymentMethodRepository(db),
		WebhookEvent:    NewWebhookEventRepository(db),
		Idempotency:     NewIdempotencyRepository(db),
		Dunning:         NewDunningAttemptRepository(db),
		Affiliate:       NewAffiliateRepository(db),
		Click:           NewAffiliateClickRepository(db),
		Commission:      NewCommissionRepository(db),
		Payout:          NewPayoutRepository(db),
		FraudAlert:      NewFraudAlertRepository(db),
		AuditLog:        NewAuditLogRepository(db),
		NotificationLog: NewNotificationLogRepository(db),
	}
}

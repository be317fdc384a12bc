// Package memstore implements the repository interfaces in process memory.
// It backs unit tests and DB_DRIVER=memory local runs; all state is lost on
// exit.
package memstore

import (
	"sync"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
)

type Store struct {
	mu     sync.Mutex
	nextID uint

	users           map[uint]models.User
	accounts        map[uint]models.BillingAccount
	mappings        map[string]models.BillingPlanMapping
	history         map[string]models.BillingHistory
	paymentMethods  map[string]models.PaymentMethod
	events          map[string]models.WebhookEvent
	idempotency     map[ledgerKey]models.IdempotencyRecord
	dunning         []models.DunningAttempt
	affiliates      map[uint]models.Affiliate
	clicks          []models.AffiliateClick
	commissions     map[uint]models.CommissionRecord
	payouts         map[string]models.Payout
	fraudAlerts     []models.FraudAlert
	auditLogs       []models.AuditLog
	notificationLog []models.NotificationLog
}

type ledgerKey struct {
	eventID  string
	dedupKey string
}

func New() *Store {
	return &Store{
		users:          make(map[uint]models.User),
		accounts:       make(map[uint]models.BillingAccount),
		mappings:       make(map[string]models.BillingPlanMapping),
		history:        make(map[string]models.BillingHistory),
		paymentMethods: make(map[string]models.PaymentMethod),
		events:         make(map[string]models.WebhookEvent),
		idempotency:    make(map[ledgerKey]models.IdempotencyRecord),
		affiliates:     make(map[uint]models.Affiliate),
		commissions:    make(map[uint]models.CommissionRecord),
		payouts:        make(map[string]models.Payout),
	}
}

// Repositories returns the full repository set over this store.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:            &userRepo{s},
		BillingAccount:  &billingAccountRepo{s},
		PlanMapping:     &planMappingRepo{s},
		BillingHistory:  &billingHistoryRepo{s},
		PaymentMethod:   &paymentMethodRepo{s},
		WebhookEvent:    &webhookEventRepo{s},
		Idempotency:     &idempotencyRepo{s},
		Dunning:         &dunningRepo{s},
		Affiliate:       &affiliateRepo{s},
		Click:           &clickRepo{s},
		Commission:      &commissionRepo{s},
		Payout:          &payoutRepo{s},
		FraudAlert:      &fraudAlertRepo{s},
		AuditLog:        &auditLogRepo{s},
		NotificationLog: &notificationLogRepo{s},
	}
}

// NotificationLogs returns a snapshot of recorded deliveries.
func (s *Store) NotificationLogs() []models.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationLog(nil), s.notificationLog...)
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"gorm.io/gorm"
)

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.s.id()
	}
	user.CreatedAt = time.Now()
	r.s.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uint) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

type billingAccountRepo struct{ s *Store }

func (r *billingAccountRepo) Create(_ context.Context, account *models.BillingAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.OwnerID == account.OwnerID || a.GatewayCustomerID == account.GatewayCustomerID {
			return gorm.ErrDuplicatedKey
		}
	}
	if account.ID == 0 {
		account.ID = r.s.id()
	}
	if account.Tier == "" {
		account.Tier = "free"
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	r.s.accounts[account.ID] = *account
	return nil
}

func (r *billingAccountRepo) find(match func(models.BillingAccount) bool) (*models.BillingAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if match(a) {
			found := a
			return &found, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *billingAccountRepo) GetByOwnerID(_ context.Context, ownerID uint) (*models.BillingAccount, error) {
	return r.find(func(a models.BillingAccount) bool { return a.OwnerID == ownerID })
}

func (r *billingAccountRepo) GetByGatewayCustomerID(_ context.Context, customerID string) (*models.BillingAccount, error) {
	if customerID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.find(func(a models.BillingAccount) bool { return a.GatewayCustomerID == customerID })
}

func (r *billingAccountRepo) GetBySubscriptionID(_ context.Context, subscriptionID string) (*models.BillingAccount, error) {
	if subscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.find(func(a models.BillingAccount) bool { return a.SubscriptionID == subscriptionID })
}

func (r *billingAccountRepo) Save(_ context.Context, account *models.BillingAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if account.ID == 0 {
		account.ID = r.s.id()
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = time.Now()
	r.s.accounts[account.ID] = *account
	return nil
}

type planMappingRepo struct{ s *Store }

func (r *planMappingRepo) FindActiveByPriceRef(_ context.Context, priceRef string) (*models.BillingPlanMapping, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.mappings[priceRef]
	if !ok || !m.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return &m, nil
}

func (r *planMappingRepo) Upsert(_ context.Context, mapping *models.BillingPlanMapping) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.mappings[mapping.PriceRef]; ok {
		mapping.ID = existing.ID
	} else if mapping.ID == 0 {
		mapping.ID = r.s.id()
	}
	r.s.mappings[mapping.PriceRef] = *mapping
	return nil
}

type billingHistoryRepo struct{ s *Store }

func (r *billingHistoryRepo) CreateIfNotExists(_ context.Context, entry *models.BillingHistory) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.history[entry.InvoiceID]; ok {
		return false, nil
	}
	entry.ID = r.s.id()
	entry.CreatedAt = time.Now()
	r.s.history[entry.InvoiceID] = *entry
	return true, nil
}

func (r *billingHistoryRepo) ListByOwner(_ context.Context, ownerID uint) ([]models.BillingHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.BillingHistory
	for _, h := range r.s.history {
		if h.OwnerID == ownerID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type paymentMethodRepo struct{ s *Store }

func (r *paymentMethodRepo) Upsert(_ context.Context, pm *models.PaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	if existing, ok := r.s.paymentMethods[pm.GatewayPaymentMethodID]; ok {
		pm.ID = existing.ID
		pm.IsDefault = existing.IsDefault
		pm.CreatedAt = existing.CreatedAt
	} else {
		pm.ID = r.s.id()
		pm.CreatedAt = now
	}
	pm.UpdatedAt = now
	r.s.paymentMethods[pm.GatewayPaymentMethodID] = *pm
	return nil
}

func (r *paymentMethodRepo) GetByGatewayID(_ context.Context, gatewayPaymentMethodID string) (*models.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pm, ok := r.s.paymentMethods[gatewayPaymentMethodID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &pm, nil
}

func (r *paymentMethodRepo) FlagForReplacement(_ context.Context, customerID, paymentMethodID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key, pm := range r.s.paymentMethods {
		match := pm.GatewayPaymentMethodID == paymentMethodID
		if paymentMethodID == "" {
			match = pm.GatewayCustomerID == customerID && pm.IsDefault
		}
		if match {
			pm.NeedsReplacement = true
			r.s.paymentMethods[key] = pm
			n++
		}
	}
	return n, nil
}

type dunningRepo struct{ s *Store }

func (r *dunningRepo) Create(_ context.Context, attempt *models.DunningAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attempt.ID = r.s.id()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	r.s.dunning = append(r.s.dunning, *attempt)
	return nil
}

func (r *dunningRepo) GetByEvent(_ context.Context, subscriptionID, eventID string) (*models.DunningAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.dunning {
		if a.SubscriptionID == subscriptionID && a.EventID == eventID {
			found := a
			return &found, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *dunningRepo) CountSince(_ context.Context, subscriptionID string, since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.dunning {
		if a.SubscriptionID == subscriptionID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *dunningRepo) ListBySubscription(_ context.Context, subscriptionID string) ([]models.DunningAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.DunningAttempt
	for _, a := range r.s.dunning {
		if a.SubscriptionID == subscriptionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *dunningRepo) DeleteBySubscription(_ context.Context, subscriptionID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.dunning[:0]
	var n int64
	for _, a := range r.s.dunning {
		if a.SubscriptionID == subscriptionID {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.s.dunning = kept
	return n, nil
}

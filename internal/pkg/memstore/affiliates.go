package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type affiliateRepo struct{ s *Store }

func (r *affiliateRepo) Create(_ context.Context, affiliate *models.Affiliate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if affiliate.ID == 0 {
		affiliate.ID = r.s.id()
	}
	affiliate.CreatedAt = time.Now()
	r.s.affiliates[affiliate.ID] = *affiliate
	return nil
}

func (r *affiliateRepo) GetByID(_ context.Context, id uint) (*models.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.affiliates[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &a, nil
}

func (r *affiliateRepo) ListPayoutCandidates(_ context.Context, minPending decimal.Decimal) ([]models.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Affiliate
	for _, a := range r.s.affiliates {
		if a.Status == models.AffiliateStatusApproved && a.TotalPending.GreaterThanOrEqual(minPending) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *affiliateRepo) CountByPaymentFingerprint(_ context.Context, fingerprint string, excludeID uint) (int64, error) {
	if fingerprint == "" {
		return 0, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.affiliates {
		if a.ID != excludeID && a.PaymentFingerprint == fingerprint {
			n++
		}
	}
	return n, nil
}

func (r *affiliateRepo) ListMissingFingerprint(_ context.Context, excludeID uint) ([]models.Affiliate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Affiliate
	for _, a := range r.s.affiliates {
		if a.ID != excludeID && a.PaymentFingerprint == "" && a.EncryptedPaymentDetails != "" {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *affiliateRepo) UpdatePaymentDetails(_ context.Context, id uint, method, encrypted, fingerprint string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.affiliates[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.PaymentMethod = method
	a.EncryptedPaymentDetails = encrypted
	a.PaymentFingerprint = fingerprint
	r.s.affiliates[id] = a
	return nil
}

type clickRepo struct{ s *Store }

func (r *clickRepo) Create(_ context.Context, click *models.AffiliateClick) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	click.ID = r.s.id()
	if click.ClickedAt.IsZero() {
		click.ClickedAt = time.Now()
	}
	r.s.clicks = append(r.s.clicks, *click)
	return nil
}

func (r *clickRepo) ListSince(_ context.Context, affiliateID uint, since time.Time) ([]models.AffiliateClick, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.AffiliateClick
	for _, c := range r.s.clicks {
		if c.AffiliateID == affiliateID && !c.ClickedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *clickRepo) CountConversions(_ context.Context, affiliateID uint) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var clicks, conversions int64
	for _, c := range r.s.clicks {
		if c.AffiliateID != affiliateID {
			continue
		}
		clicks++
		if c.Converted {
			conversions++
		}
	}
	return clicks, conversions, nil
}

type commissionRepo struct{ s *Store }

func (r *commissionRepo) Create(_ context.Context, commission *models.CommissionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	commission.ID = r.s.id()
	if commission.TransactionDate.IsZero() {
		commission.TransactionDate = time.Now()
	}
	commission.CreatedAt = time.Now()
	r.s.commissions[commission.ID] = *commission
	return nil
}

func (r *commissionRepo) ListByAffiliateSince(_ context.Context, affiliateID uint, since time.Time) ([]models.CommissionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CommissionRecord
	for _, c := range r.s.commissions {
		if c.AffiliateID == affiliateID && !c.TransactionDate.Before(since) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionDate.Before(out[j].TransactionDate) })
	return out, nil
}

func (r *commissionRepo) ListByPayout(_ context.Context, payoutID string) ([]models.CommissionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CommissionRecord
	for _, c := range r.s.commissions {
		if c.PayoutID != nil && *c.PayoutID == payoutID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// payoutRepo serializes CreateForAffiliate under the store mutex, which
// stands in for the affiliate row lock of the SQL implementation.
type payoutRepo struct{ s *Store }

func (r *payoutRepo) CreateForAffiliate(_ context.Context, affiliateID uint, failuresSince time.Time, prepare repository.PayoutPreparer) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	affiliate, ok := r.s.affiliates[affiliateID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}

	unlinked := decimal.Zero
	var ids []uint
	for id, c := range r.s.commissions {
		if c.AffiliateID == affiliateID && c.Status == models.CommissionStatusConfirmed && c.PayoutID == nil {
			unlinked = unlinked.Add(c.Amount)
			ids = append(ids, id)
		}
	}
	failures := r.failedSinceLocked(affiliateID, failuresSince)

	snapshot := affiliate
	payout, err := prepare(&snapshot, unlinked, failures)
	if err != nil {
		return nil, err
	}
	payout.CreatedAt = time.Now()
	payout.UpdatedAt = payout.CreatedAt
	r.s.payouts[payout.ID] = *payout
	for _, id := range ids {
		c := r.s.commissions[id]
		pid := payout.ID
		c.PayoutID = &pid
		r.s.commissions[id] = c
	}
	stored := *payout
	return &stored, nil
}

func (r *payoutRepo) failedSinceLocked(affiliateID uint, since time.Time) int64 {
	var n int64
	for _, p := range r.s.payouts {
		if p.AffiliateID == affiliateID && p.Status == models.PayoutStatusFailed && p.FailedAt != nil && !p.FailedAt.Before(since) {
			n += int64(p.RetryCount) + 1
		}
	}
	return n
}

func (r *payoutRepo) GetByID(_ context.Context, id string) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *payoutRepo) ListByAffiliate(_ context.Context, affiliateID uint) ([]models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Payout
	for _, p := range r.s.payouts {
		if p.AffiliateID == affiliateID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *payoutRepo) CountFailedSince(_ context.Context, affiliateID uint, since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.failedSinceLocked(affiliateID, since), nil
}

func (r *payoutRepo) MarkCompleted(_ context.Context, payoutID, provider, reference string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.Status != models.PayoutStatusProcessing {
		return repository.ErrStateConflict
	}
	p.Status = models.PayoutStatusCompleted
	p.Provider = provider
	p.PaymentReference = reference
	p.FailureReason = ""
	p.CompletedAt = &at
	r.s.payouts[payoutID] = p

	for id, c := range r.s.commissions {
		if c.PayoutID != nil && *c.PayoutID == payoutID {
			c.Status = models.CommissionStatusPaid
			r.s.commissions[id] = c
		}
	}

	a := r.s.affiliates[p.AffiliateID]
	a.TotalPaid = a.TotalPaid.Add(p.GrossAmount)
	a.TotalPending = decimal.Max(decimal.Zero, a.TotalPending.Sub(p.GrossAmount))
	r.s.affiliates[p.AffiliateID] = a
	return nil
}

func (r *payoutRepo) MarkFailed(_ context.Context, payoutID, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok || p.Status != models.PayoutStatusProcessing {
		return repository.ErrStateConflict
	}
	p.Status = models.PayoutStatusFailed
	p.FailureReason = reason
	p.FailedAt = &at
	r.s.payouts[payoutID] = p
	return nil
}

func (r *payoutRepo) BeginRetry(_ context.Context, payoutID string) (*models.Payout, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payouts[payoutID]
	if !ok || p.Status != models.PayoutStatusFailed {
		return nil, repository.ErrStateConflict
	}
	p.Status = models.PayoutStatusProcessing
	p.RetryCount++
	r.s.payouts[payoutID] = p
	return &p, nil
}

type fraudAlertRepo struct{ s *Store }

func (r *fraudAlertRepo) Create(_ context.Context, alert *models.FraudAlert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	alert.ID = r.s.id()
	alert.CreatedAt = time.Now()
	r.s.fraudAlerts = append(r.s.fraudAlerts, *alert)
	return nil
}

func (r *fraudAlertRepo) ListByAffiliate(_ context.Context, affiliateID uint) ([]models.FraudAlert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.FraudAlert
	for _, a := range r.s.fraudAlerts {
		if a.AffiliateID == affiliateID {
			out = append(out, a)
		}
	}
	return out, nil
}

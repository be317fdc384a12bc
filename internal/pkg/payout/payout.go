// Package payout turns confirmed affiliate commissions into disbursements.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/audit"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/fraud"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentcodec"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxRetries      = 3
	DefaultFailureLookback = 30 * 24 * time.Hour
	DefaultLeaseTTL        = 30 * time.Minute

	leaseKey = "payfox:lease:scheduled-payouts"
)

var (
	// ErrRunInProgress is returned when another instance holds the run lease.
	ErrRunInProgress = errors.New("scheduled payout run already in progress")
	// ErrNotRetryable is returned for payouts that are not failed.
	ErrNotRetryable = errors.New("payout is not retryable")
)

// ProviderTransferError is recorded on the payout; the payout stays retryable.
type ProviderTransferError = gateway.ProviderTransferError

// Eligibility reasons
const (
	ReasonNotApproved     = "affiliate is not approved"
	ReasonBelowThreshold  = "pending balance below payout threshold"
	ReasonUnsupportedRail = "unsupported payment method"
	ReasonRetryLimit      = "too many failed payouts"
	ReasonFraudBlocked    = "blocked by fraud screening"
	ReasonNothingToPay    = "no unpaid commissions"
	ReasonZeroNet         = "net amount after fees is zero"
)

// EligibilityError means no payout was created and nothing was changed.
type EligibilityError struct {
	AffiliateID uint
	Reason      string
	Details     []string
}

func (e *EligibilityError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("affiliate %d not eligible for payout: %s", e.AffiliateID, e.Reason)
	}
	return fmt.Sprintf("affiliate %d not eligible for payout: %s (%s)", e.AffiliateID, e.Reason, strings.Join(e.Details, "; "))
}

type Config struct {
	Minimum         decimal.Decimal
	FlatFee         decimal.Decimal
	FeeRate         decimal.Decimal
	MaxRetries      int
	Currency        string
	FailureLookback time.Duration
	LeaseTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.FailureLookback <= 0 {
		c.FailureLookback = DefaultFailureLookback
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	return c
}

// Amounts is the split of a payout's gross amount.
type Amounts struct {
	Gross decimal.Decimal `json:"gross"`
	Fee   decimal.Decimal `json:"fee"`
	Tax   decimal.Decimal `json:"tax"`
	Net   decimal.Decimal `json:"net"`
}

// Calculate charges min(flatFee, gross*feeRate), withholds gross*taxRate and
// clamps the net amount at zero.
func Calculate(gross, flatFee, feeRate, taxRate decimal.Decimal) Amounts {
	fee := decimal.Min(flatFee, gross.Mul(feeRate)).Round(2)
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	tax := gross.Mul(taxRate).Round(2)
	net := decimal.Max(decimal.Zero, gross.Sub(fee).Sub(tax))
	return Amounts{Gross: gross, Fee: fee, Tax: tax, Net: net}
}

type Screener interface {
	Screen(ctx context.Context, affiliate *models.Affiliate) fraud.Result
}

// Transferer dispatches by payment rail. *gateway.Router implements it.
type Transferer interface {
	Supports(rail string) bool
	Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error)
}

type Decrypter interface {
	Decrypt(encoded string) (paymentcodec.Details, error)
}

// Deps are the collaborators of the orchestrator. Audit, Lease, Notifier and
// Publisher are optional.
type Deps struct {
	Affiliates repository.AffiliateRepository
	Payouts    repository.PayoutRepository
	Audit      repository.AuditLogRepository
	Fraud      Screener
	Transfers  Transferer
	Codec      Decrypter
	Lease      Lease
	Notifier   notify.Notifier
	Publisher  events.Publisher
}

// AffiliateError is one line of a run summary.
type AffiliateError struct {
	AffiliateID uint   `json:"affiliate_id"`
	PayoutID    string `json:"payout_id,omitempty"`
	Error       string `json:"error"`
}

// Summary describes a scheduled run, successful or not.
type Summary struct {
	Processed   int              `json:"processed"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Errors      []AffiliateError `json:"errors"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Event is the payload of payout.completed and payout.failed.
type Event struct {
	PayoutID      string          `json:"payout_id"`
	AffiliateID   uint            `json:"affiliate_id"`
	Status        string          `json:"status"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RetryCount    int             `json:"retry_count"`
}

type Orchestrator struct {
	cfg        Config
	affiliates repository.AffiliateRepository
	payouts    repository.PayoutRepository
	fraud      Screener
	transfers  Transferer
	codec      Decrypter
	lease      Lease
	notifier   notify.Notifier
	publisher  events.Publisher
	trail      *audit.Trail
	now        func() time.Time
	newID      func() string
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		affiliates: deps.Affiliates,
		payouts:    deps.Payouts,
		fraud:      deps.Fraud,
		transfers:  deps.Transfers,
		codec:      deps.Codec,
		lease:      deps.Lease,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		trail:      audit.NewTrail(deps.Audit),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// RunScheduledPayouts pays every eligible affiliate, one after another. The
// summary is returned even when the run stops early.
func (o *Orchestrator) RunScheduledPayouts(ctx context.Context) (*Summary, error) {
	summary := &Summary{TotalAmount: decimal.Zero, Errors: []AffiliateError{}, StartedAt: o.now()}
	defer func() { summary.FinishedAt = o.now() }()

	if o.lease != nil {
		release, ok, err := o.lease.Acquire(ctx, leaseKey, o.cfg.LeaseTTL)
		if err != nil {
			return summary, fmt.Errorf("acquire payout lease: %w", err)
		}
		if !ok {
			log.Infof("[Payout] Skipping scheduled run, another instance holds the lease")
			return summary, ErrRunInProgress
		}
		defer release()
	}

	candidates, err := o.affiliates.ListPayoutCandidates(ctx, o.cfg.Minimum)
	if err != nil {
		return summary, fmt.Errorf("list payout candidates: %w", err)
	}
	log.Infof("[Payout] Scheduled run started with %d candidates", len(candidates))

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, AffiliateError{AffiliateID: candidates[i].ID, Error: err.Error()})
			return summary, err
		}
		affiliate := &candidates[i]
		payout, err := o.payAffiliate(ctx, affiliate, false)

		var ineligible *EligibilityError
		switch {
		case err == nil:
			summary.Processed++
			summary.TotalAmount = summary.TotalAmount.Add(payout.NetAmount)
		case errors.As(err, &ineligible):
			summary.Skipped++
			if ineligible.Reason == ReasonFraudBlocked {
				summary.Errors = append(summary.Errors, AffiliateError{AffiliateID: affiliate.ID, Error: err.Error()})
			}
		default:
			summary.Failed++
			line := AffiliateError{AffiliateID: affiliate.ID, Error: err.Error()}
			if payout != nil {
				line.PayoutID = payout.ID
			}
			summary.Errors = append(summary.Errors, line)
		}
	}

	log.Infof("[Payout] Scheduled run finished: processed=%d failed=%d skipped=%d total=%s",
		summary.Processed, summary.Failed, summary.Skipped, summary.TotalAmount.StringFixed(2))
	return summary, nil
}

// PayAffiliate pays one affiliate now. force skips the eligibility gate for
// operator overrides; the payment method must still be dispatchable.
func (o *Orchestrator) PayAffiliate(ctx context.Context, affiliateID uint, force bool) (*models.Payout, error) {
	affiliate, err := o.affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("load affiliate %d: %w", affiliateID, err)
	}
	if force {
		log.Warnf("[Payout] Forced payout for affiliate %d skips eligibility checks", affiliateID)
	}
	return o.payAffiliate(ctx, affiliate, force)
}

// RetryFailedPayout re-sends a failed payout using the commissions already
// linked to it.
func (o *Orchestrator) RetryFailedPayout(ctx context.Context, payoutID string) (*models.Payout, error) {
	existing, err := o.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("load payout %s: %w", payoutID, err)
	}
	if existing.Status != models.PayoutStatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, existing.Status)
	}
	if existing.RetryCount >= o.cfg.MaxRetries {
		return nil, &EligibilityError{AffiliateID: existing.AffiliateID, Reason: ReasonRetryLimit}
	}
	affiliate, err := o.affiliates.GetByID(ctx, existing.AffiliateID)
	if err != nil {
		return nil, fmt.Errorf("load affiliate %d: %w", existing.AffiliateID, err)
	}

	payout, err := o.payouts.BeginRetry(ctx, payoutID)
	if errors.Is(err, repository.ErrStateConflict) {
		return nil, fmt.Errorf("%w: already being retried", ErrNotRetryable)
	}
	if err != nil {
		return nil, fmt.Errorf("begin retry of payout %s: %w", payoutID, err)
	}
	o.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntityPayout,
		EntityID:   payout.ID,
		Action:     "retry",
		From:       models.PayoutStatusFailed,
		To:         models.PayoutStatusProcessing,
		Details:    map[string]int{"retry_count": payout.RetryCount},
	})
	log.Infof("[Payout] Retrying payout %s (attempt %d)", payout.ID, payout.RetryCount)
	return o.disburse(ctx, affiliate, payout)
}

func (o *Orchestrator) payAffiliate(ctx context.Context, affiliate *models.Affiliate, force bool) (*models.Payout, error) {
	if !o.transfers.Supports(affiliate.PaymentMethod) {
		return nil, &EligibilityError{AffiliateID: affiliate.ID, Reason: ReasonUnsupportedRail, Details: []string{affiliate.PaymentMethod}}
	}
	if !force {
		if err := o.checkEligibility(ctx, affiliate); err != nil {
			return nil, err
		}
	}

	var amounts Amounts
	payout, err := o.payouts.CreateForAffiliate(ctx, affiliate.ID, o.now().Add(-o.cfg.FailureLookback),
		func(locked *models.Affiliate, unlinked decimal.Decimal, failures int64) (*models.Payout, error) {
			if !force {
				if locked.Status != models.AffiliateStatusApproved {
					return nil, &EligibilityError{AffiliateID: locked.ID, Reason: ReasonNotApproved}
				}
				if failures >= int64(o.cfg.MaxRetries) {
					return nil, &EligibilityError{AffiliateID: locked.ID, Reason: ReasonRetryLimit}
				}
			}
			if !unlinked.IsPositive() {
				return nil, &EligibilityError{AffiliateID: locked.ID, Reason: ReasonNothingToPay}
			}
			// TotalPending still counts commissions held by failed payouts.
			if !force && unlinked.LessThan(decimal.Max(locked.MinimumPayoutThreshold, o.cfg.Minimum)) {
				return nil, &EligibilityError{AffiliateID: locked.ID, Reason: ReasonBelowThreshold}
			}
			amounts = Calculate(unlinked, o.cfg.FlatFee, o.cfg.FeeRate, locked.TaxWithholdingRate)
			if !amounts.Net.IsPositive() {
				return nil, &EligibilityError{AffiliateID: locked.ID, Reason: ReasonZeroNet}
			}
			return &models.Payout{
				ID:            o.newID(),
				AffiliateID:   locked.ID,
				GrossAmount:   amounts.Gross,
				ProcessingFee: amounts.Fee,
				TaxWithheld:   amounts.Tax,
				NetAmount:     amounts.Net,
				Currency:      o.cfg.Currency,
				PaymentMethod: locked.PaymentMethod,
				Status:        models.PayoutStatusProcessing,
				Manual:        force,
			}, nil
		})
	if err != nil {
		var ineligible *EligibilityError
		if errors.As(err, &ineligible) {
			log.Infof("[Payout] %v", err)
			return nil, ineligible
		}
		return nil, fmt.Errorf("create payout for affiliate %d: %w", affiliate.ID, err)
	}

	o.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntityPayout,
		EntityID:   payout.ID,
		Action:     "created",
		To:         models.PayoutStatusProcessing,
		Details:    amounts,
	})
	log.Infof("[Payout] Created payout %s for affiliate %d: gross=%s net=%s",
		payout.ID, affiliate.ID, payout.GrossAmount.StringFixed(2), payout.NetAmount.StringFixed(2))
	return o.disburse(ctx, affiliate, payout)
}

func (o *Orchestrator) checkEligibility(ctx context.Context, affiliate *models.Affiliate) error {
	if affiliate.Status != models.AffiliateStatusApproved {
		return &EligibilityError{AffiliateID: affiliate.ID, Reason: ReasonNotApproved}
	}
	threshold := decimal.Max(affiliate.MinimumPayoutThreshold, o.cfg.Minimum)
	if affiliate.TotalPending.LessThan(threshold) {
		return &EligibilityError{AffiliateID: affiliate.ID, Reason: ReasonBelowThreshold}
	}
	failures, err := o.payouts.CountFailedSince(ctx, affiliate.ID, o.now().Add(-o.cfg.FailureLookback))
	if err != nil {
		return fmt.Errorf("count failed payouts for affiliate %d: %w", affiliate.ID, err)
	}
	if failures >= int64(o.cfg.MaxRetries) {
		return &EligibilityError{AffiliateID: affiliate.ID, Reason: ReasonRetryLimit}
	}
	if o.fraud != nil {
		if res := o.fraud.Screen(ctx, affiliate); !res.Passed {
			return &EligibilityError{AffiliateID: affiliate.ID, Reason: ReasonFraudBlocked, Details: res.Reasons}
		}
	}
	return nil
}

func (o *Orchestrator) disburse(ctx context.Context, affiliate *models.Affiliate, payout *models.Payout) (*models.Payout, error) {
	destination, err := o.codec.Decrypt(affiliate.EncryptedPaymentDetails)
	if err != nil {
		return o.fail(ctx, affiliate, payout, fmt.Errorf("payment details unavailable: %w", err))
	}

	res, err := o.transfers.Transfer(ctx, gateway.TransferRequest{
		PayoutID:       payout.ID,
		AffiliateID:    affiliate.ID,
		Rail:           payout.PaymentMethod,
		Amount:         payout.NetAmount,
		Currency:       payout.Currency,
		Destination:    destination,
		IdempotencyKey: fmt.Sprintf("%s-%d", payout.ID, payout.RetryCount),
	})
	if err == nil && (res == nil || !res.Success) {
		rejected := &ProviderTransferError{Message: "transfer not accepted"}
		if res != nil {
			rejected.Provider = res.Provider
			rejected.Code = res.Status
		}
		err = rejected
	}
	if err != nil {
		return o.fail(ctx, affiliate, payout, err)
	}

	at := o.now()
	if err := o.payouts.MarkCompleted(ctx, payout.ID, res.Provider, res.Reference, at); err != nil {
		log.Errorf("[Payout] Transfer for payout %s succeeded with reference %s but completion was not recorded: %v", payout.ID, res.Reference, err)
		return payout, fmt.Errorf("record completed payout %s: %w", payout.ID, err)
	}
	payout.Status = models.PayoutStatusCompleted
	payout.Provider = res.Provider
	payout.PaymentReference = res.Reference
	payout.FailureReason = ""
	payout.CompletedAt = &at

	o.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntityPayout,
		EntityID:   payout.ID,
		Action:     "transfer",
		From:       models.PayoutStatusProcessing,
		To:         models.PayoutStatusCompleted,
		Details:    map[string]string{"provider": res.Provider, "reference": res.Reference},
	})
	log.Infof("[Payout] Payout %s completed via %s (reference %s)", payout.ID, res.Provider, res.Reference)
	o.announce(ctx, affiliate, payout, notify.TemplatePayoutCompleted, events.TopicPayoutCompleted)
	return payout, nil
}

// fail records the transfer error on the payout. The commissions stay linked
// so a retry pays exactly the same set.
func (o *Orchestrator) fail(ctx context.Context, affiliate *models.Affiliate, payout *models.Payout, cause error) (*models.Payout, error) {
	at := o.now()
	reason := cause.Error()
	if err := o.payouts.MarkFailed(ctx, payout.ID, reason, at); err != nil {
		log.Errorf("[Payout] Could not record failure of payout %s (%s): %v", payout.ID, reason, err)
		return payout, fmt.Errorf("record failed payout %s: %w", payout.ID, err)
	}
	payout.Status = models.PayoutStatusFailed
	payout.FailureReason = reason
	payout.FailedAt = &at

	o.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntityPayout,
		EntityID:   payout.ID,
		Action:     "transfer",
		From:       models.PayoutStatusProcessing,
		To:         models.PayoutStatusFailed,
		Details:    map[string]string{"reason": reason},
	})
	log.Warnf("[Payout] Payout %s failed: %s", payout.ID, reason)
	o.announce(ctx, affiliate, payout, notify.TemplatePayoutFailed, events.TopicPayoutFailed)
	return payout, cause
}

func (o *Orchestrator) announce(ctx context.Context, affiliate *models.Affiliate, payout *models.Payout, template, topic string) {
	notify.Send(ctx, o.notifier, notify.Message{
		Template: template,
		To:       affiliate.Email,
		Data: map[string]string{
			"name":           affiliate.Name,
			"gross_amount":   payout.GrossAmount.StringFixed(2),
			"net_amount":     payout.NetAmount.StringFixed(2),
			"fee":            payout.ProcessingFee.StringFixed(2),
			"tax":            payout.TaxWithheld.StringFixed(2),
			"currency":       strings.ToUpper(payout.Currency),
			"payment_method": payout.PaymentMethod,
			"reference":      payout.PaymentReference,
			"reason":         payout.FailureReason,
		},
	})
	events.Emit(ctx, o.publisher, events.Event{
		Topic:      topic,
		Key:        payout.ID,
		OccurredAt: o.now(),
		Data: Event{
			PayoutID:      payout.ID,
			AffiliateID:   payout.AffiliateID,
			Status:        payout.Status,
			GrossAmount:   payout.GrossAmount,
			NetAmount:     payout.NetAmount,
			Currency:      payout.Currency,
			Provider:      payout.Provider,
			Reference:     payout.PaymentReference,
			FailureReason: payout.FailureReason,
			RetryCount:    payout.RetryCount,
		},
	})
}

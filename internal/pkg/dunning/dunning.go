// Package dunning tracks failed subscription payments and decides between
// another retry and cancellation.
package dunning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/audit"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	DefaultMaxAttempts = 4
	DefaultGracePeriod = 72 * time.Hour
)

// DefaultRetryIntervalDays is the delay before retry n+1 after attempt n.
var DefaultRetryIntervalDays = []int{3, 5, 7, 10}

type Config struct {
	MaxAttempts       int
	RetryIntervalDays []int
	GracePeriod       time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if len(c.RetryIntervalDays) == 0 {
		c.RetryIntervalDays = DefaultRetryIntervalDays
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Invalidator drops cached entitlements for an owner.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID uint) error
}

// Deps are the collaborators of the engine. Canceler, Entitlements,
// Notifier and Publisher are optional.
type Deps struct {
	Attempts       repository.DunningAttemptRepository
	Accounts       repository.BillingAccountRepository
	PaymentMethods repository.PaymentMethodRepository
	Users          repository.UserRepository
	Audit          repository.AuditLogRepository
	Canceler       gateway.SubscriptionCanceler
	Entitlements   Invalidator
	Notifier       notify.Notifier
	Publisher      events.Publisher
}

// Outcome is stored as the idempotency result of invoice.payment_failed.
type Outcome struct {
	SubscriptionID       string     `json:"subscription_id"`
	AttemptNumber        int        `json:"attempt_number"`
	Exhausted            bool       `json:"exhausted"`
	NextRetryAt          *time.Time `json:"next_retry_at,omitempty"`
	PaymentMethodFlagged bool       `json:"payment_method_flagged,omitempty"`
}

// InvoiceError is an invoice the engine cannot act on. Retrying does not help.
type InvoiceError struct {
	InvoiceID string
	Reason    string
}

func (e *InvoiceError) Error() string {
	return fmt.Sprintf("invoice %s: %s", e.InvoiceID, e.Reason)
}

func (e *InvoiceError) Permanent() bool { return true }

// ExhaustedEvent is published on billing.dunning.exhausted.
type ExhaustedEvent struct {
	OwnerID        uint   `json:"owner_id"`
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id"`
	Attempts       int    `json:"attempts"`
}

type Engine struct {
	cfg   Config
	deps  Deps
	trail *audit.Trail
	now   func() time.Time
}

func NewEngine(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		trail: audit.NewTrail(deps.Audit),
		now:   time.Now,
	}
}

// HandlePaymentFailed records attempt n for the invoice's subscription and
// either schedules the next retry or cancels the subscription. eventID ties
// the attempt to the gateway event: handling the same event again resumes
// the stored attempt instead of numbering a new one.
func (e *Engine) HandlePaymentFailed(ctx context.Context, account *models.BillingAccount, eventID string, inv webhook.Invoice) (*Outcome, error) {
	subID := inv.Subscription
	if subID == "" {
		subID = account.SubscriptionID
	}
	if subID == "" {
		return nil, &InvoiceError{InvoiceID: inv.ID, Reason: "no subscription to dun"}
	}

	if eventID != "" {
		existing, err := e.deps.Attempts.GetByEvent(ctx, subID, eventID)
		switch {
		case err == nil:
			log.Infof("[Dunning] Resuming attempt %d of %s for event %s", existing.AttemptNumber, subID, eventID)
			if existing.NextRetryAt == nil {
				return e.exhaust(ctx, account, existing)
			}
			return e.scheduleRetry(ctx, account, existing, inv)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("load dunning attempt: %w", err)
		}
	}

	now := e.now().UTC()
	prior, err := e.deps.Attempts.CountSince(ctx, subID, now.Add(-e.cfg.GracePeriod))
	if err != nil {
		return nil, fmt.Errorf("count dunning attempts: %w", err)
	}
	number := int(prior) + 1

	attempt := &models.DunningAttempt{
		SubscriptionID: subID,
		InvoiceID:      inv.ID,
		EventID:        eventID,
		AttemptNumber:  number,
		FailureReason:  inv.FailureReason(),
		Amount:         inv.Amount(),
		Currency:       inv.Currency,
		CreatedAt:      now,
	}

	if number >= e.cfg.MaxAttempts {
		return e.exhaust(ctx, account, attempt)
	}
	return e.scheduleRetry(ctx, account, attempt, inv)
}

func (e *Engine) scheduleRetry(ctx context.Context, account *models.BillingAccount, attempt *models.DunningAttempt, inv webhook.Invoice) (*Outcome, error) {
	idx := attempt.AttemptNumber - 1
	if idx >= len(e.cfg.RetryIntervalDays) {
		idx = len(e.cfg.RetryIntervalDays) - 1
	}
	next := attempt.CreatedAt.AddDate(0, 0, e.cfg.RetryIntervalDays[idx])
	attempt.NextRetryAt = &next

	// a stored attempt (ID set) is being resumed after a failed account write
	if attempt.ID == 0 {
		if err := e.deps.Attempts.Create(ctx, attempt); err != nil {
			return nil, fmt.Errorf("persist dunning attempt: %w", err)
		}
	}

	from := account.Status
	if from != models.BillingStatusPastDue && from != models.BillingStatusCanceled {
		account.Status = models.BillingStatusPastDue
		if err := e.deps.Accounts.Save(ctx, account); err != nil {
			account.Status = from
			return nil, fmt.Errorf("mark account past_due: %w", err)
		}
		e.invalidate(ctx, account.OwnerID)
	}

	out := &Outcome{SubscriptionID: attempt.SubscriptionID, AttemptNumber: attempt.AttemptNumber, NextRetryAt: &next}
	if inv.CardDeclined() && e.deps.PaymentMethods != nil {
		customer := inv.Customer
		if customer == "" {
			customer = account.GatewayCustomerID
		}
		n, err := e.deps.PaymentMethods.FlagForReplacement(ctx, customer, inv.PaymentMethod)
		if err != nil {
			log.Warnf("[Dunning] Failed to flag payment method for %s: %v", customer, err)
		}
		out.PaymentMethodFlagged = n > 0
	}

	e.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntitySubscription,
		EntityID:   attempt.SubscriptionID,
		Action:     "dunning.attempt",
		From:       from,
		To:         account.Status,
		Details:    out,
	})

	data := map[string]string{
		"attempt":      strconv.Itoa(attempt.AttemptNumber),
		"max_attempts": strconv.Itoa(e.cfg.MaxAttempts),
		"next_retry":   next.Format("2006-01-02"),
		"amount":       attempt.Amount.StringFixed(2),
		"currency":     attempt.Currency,
	}
	if inv.CardDeclined() {
		data["card_declined"] = "true"
	}
	notify.SendToOwner(ctx, e.deps.Notifier, e.deps.Users, account.OwnerID, notify.TemplatePaymentFailed, data)

	log.Infof("[Dunning] Subscription %s attempt %d/%d, next retry %s", attempt.SubscriptionID, attempt.AttemptNumber, e.cfg.MaxAttempts, next.Format(time.RFC3339))
	return out, nil
}

func (e *Engine) exhaust(ctx context.Context, account *models.BillingAccount, attempt *models.DunningAttempt) (*Outcome, error) {
	// The gateway cancel runs before any local write so a transient gateway
	// failure leaves nothing behind for the dispatcher's retry. A stored
	// attempt means the gateway already canceled.
	if attempt.ID == 0 {
		if e.deps.Canceler != nil {
			if err := e.deps.Canceler.CancelSubscription(ctx, attempt.SubscriptionID); err != nil {
				return nil, err
			}
		}
		if err := e.deps.Attempts.Create(ctx, attempt); err != nil {
			return nil, fmt.Errorf("persist dunning attempt: %w", err)
		}
	}

	prev := *account
	from := account.Status
	account.Status = models.BillingStatusCanceled
	account.Tier = string(entitlements.PlanFree)
	account.CancelAtPeriodEnd = false
	if err := e.deps.Accounts.Save(ctx, account); err != nil {
		*account = prev
		return nil, fmt.Errorf("cancel account: %w", err)
	}
	e.invalidate(ctx, account.OwnerID)

	out := &Outcome{SubscriptionID: attempt.SubscriptionID, AttemptNumber: attempt.AttemptNumber, Exhausted: true}
	e.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntitySubscription,
		EntityID:   attempt.SubscriptionID,
		Action:     "dunning.exhausted",
		From:       from,
		To:         account.Status,
		Details:    out,
	})

	notify.SendToOwner(ctx, e.deps.Notifier, e.deps.Users, account.OwnerID, notify.TemplateDunningExhausted, map[string]string{
		"attempt": strconv.Itoa(attempt.AttemptNumber),
	})
	events.Emit(ctx, e.deps.Publisher, events.Event{
		Topic: events.TopicDunningExhausted,
		Key:   attempt.SubscriptionID,
		Data: ExhaustedEvent{
			OwnerID:        account.OwnerID,
			SubscriptionID: attempt.SubscriptionID,
			InvoiceID:      attempt.InvoiceID,
			Attempts:       attempt.AttemptNumber,
		},
	})

	log.Warnf("[Dunning] Subscription %s canceled after %d failed attempts", attempt.SubscriptionID, attempt.AttemptNumber)
	return out, nil
}

// Resolve clears every attempt of a subscription after a successful payment.
func (e *Engine) Resolve(ctx context.Context, subscriptionID string) (int64, error) {
	if subscriptionID == "" {
		return 0, nil
	}
	n, err := e.deps.Attempts.DeleteBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("clear dunning attempts: %w", err)
	}
	if n > 0 {
		log.Infof("[Dunning] Subscription %s recovered, cleared %d attempts", subscriptionID, n)
	}
	return n, nil
}

func (e *Engine) invalidate(ctx context.Context, ownerID uint) {
	if e.deps.Entitlements == nil {
		return
	}
	if err := e.deps.Entitlements.Invalidate(ctx, ownerID); err != nil {
		log.Warnf("[Dunning] Failed to invalidate entitlements for owner %d: %v", ownerID, err)
	}
}

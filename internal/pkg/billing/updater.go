// Package billing applies verified gateway events to local subscription state.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/audit"
	"github.com/ManuelReschke/PayFox/internal/pkg/dispatcher"
	"github.com/ManuelReschke/PayFox/internal/pkg/dunning"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Dunning is the failed-payment collaborator.
type Dunning interface {
	HandlePaymentFailed(ctx context.Context, account *models.BillingAccount, eventID string, inv webhook.Invoice) (*dunning.Outcome, error)
	Resolve(ctx context.Context, subscriptionID string) (int64, error)
}

// Invalidator drops cached entitlements for an owner.
type Invalidator interface {
	Invalidate(ctx context.Context, ownerID uint) error
}

// Result is stored as the idempotency result of subscription and payment
// method events.
type Result struct {
	Action         string   `json:"action"`
	OwnerID        uint     `json:"owner_id,omitempty"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	Status         string   `json:"status,omitempty"`
	Changes        []string `json:"changes,omitempty"`
}

// SubscriptionChanged is published on billing.subscription.changed.
type SubscriptionChanged struct {
	OwnerID           uint     `json:"owner_id"`
	SubscriptionID    string   `json:"subscription_id"`
	Tier              string   `json:"tier"`
	Status            string   `json:"status"`
	CancelAtPeriodEnd bool     `json:"cancel_at_period_end"`
	Changes           []string `json:"changes"`
	EventID           string   `json:"event_id"`
}

// Updater owns the subscription, invoice and payment method handlers.
type Updater struct {
	accounts       repository.BillingAccountRepository
	plans          repository.PlanMappingRepository
	history        repository.BillingHistoryRepository
	paymentMethods repository.PaymentMethodRepository
	users          repository.UserRepository

	dunning      Dunning
	entitlements Invalidator
	notifier     notify.Notifier
	publisher    events.Publisher
	trail        *audit.Trail
	handlers     map[string][]ChangeHandler
}

func NewUpdater(repos *repository.Repositories, dunning Dunning, cache Invalidator, notifier notify.Notifier, publisher events.Publisher) *Updater {
	u := &Updater{
		accounts:       repos.BillingAccount,
		plans:          repos.PlanMapping,
		history:        repos.BillingHistory,
		paymentMethods: repos.PaymentMethod,
		users:          repos.User,
		dunning:        dunning,
		entitlements:   cache,
		notifier:       notifier,
		publisher:      publisher,
		trail:          audit.NewTrail(repos.AuditLog),
		handlers:       map[string][]ChangeHandler{},
	}
	u.registerDefaultHandlers()
	return u
}

// Register binds every handler to its registry tag.
func (u *Updater) Register(reg *dispatcher.Registry) {
	reg.Register(webhook.TypeSubscriptionCreated, u.subscriptionHandler(u.SubscriptionCreated))
	reg.Register(webhook.TypeSubscriptionUpdated, u.subscriptionHandler(u.SubscriptionUpdated))
	reg.Register(webhook.TypeSubscriptionDeleted, u.subscriptionHandler(u.SubscriptionDeleted))
	reg.Register(webhook.TypeTrialWillEnd, u.subscriptionHandler(u.TrialWillEnd))
	reg.Register(webhook.TypeInvoicePaymentSucceeded, u.invoiceHandler(u.PaymentSucceeded))
	reg.Register(webhook.TypeInvoicePaymentFailed, u.invoiceHandler(u.PaymentFailed))
	reg.Register(webhook.TypePaymentMethodAttached, u.PaymentMethodAttached)
}

type subscriptionFunc func(ctx context.Context, evt *webhook.Event, p *webhook.SubscriptionPayload) (interface{}, error)

type invoiceFunc func(ctx context.Context, evt *webhook.Event, inv webhook.Invoice) (interface{}, error)

func (u *Updater) subscriptionHandler(fn subscriptionFunc) dispatcher.HandlerFunc {
	return func(ctx context.Context, evt *webhook.Event) (interface{}, error) {
		payload, err := evt.Decode()
		if err != nil {
			return nil, dispatcher.Permanent(err)
		}
		p, ok := payload.(*webhook.SubscriptionPayload)
		if !ok {
			return nil, dispatcher.Permanent(fmt.Errorf("%w: expected subscription payload for %s", webhook.ErrInvalidEvent, evt.Type))
		}
		return fn(ctx, evt, p)
	}
}

func (u *Updater) invoiceHandler(fn invoiceFunc) dispatcher.HandlerFunc {
	return func(ctx context.Context, evt *webhook.Event) (interface{}, error) {
		payload, err := evt.Decode()
		if err != nil {
			return nil, dispatcher.Permanent(err)
		}
		p, ok := payload.(*webhook.InvoicePayload)
		if !ok {
			return nil, dispatcher.Permanent(fmt.Errorf("%w: expected invoice payload for %s", webhook.ErrInvalidEvent, evt.Type))
		}
		return fn(ctx, evt, p.Invoice)
	}
}

// SubscriptionCreated attaches a new subscription to the customer's account.
func (u *Updater) SubscriptionCreated(ctx context.Context, evt *webhook.Event, p *webhook.SubscriptionPayload) (interface{}, error) {
	sub := p.Current
	account, err := u.accountByCustomer(ctx, sub.Customer)
	if err != nil {
		return nil, err
	}
	tier, err := u.resolveTier(ctx, sub.PriceRef())
	if err != nil {
		return nil, err
	}

	before := *account
	applySubscription(account, sub, tier)
	if err := u.accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("save billing account: %w", err)
	}

	changes := diffAccount(before, *account)
	u.afterChange(ctx, evt, "subscription.created", before, account, changes)
	return u.result("subscription_created", account, changes), nil
}

// SubscriptionUpdated writes the new state and fans out one side handler per
// class of change. previous_attributes, when present, tells what changed;
// otherwise the stored row does.
func (u *Updater) SubscriptionUpdated(ctx context.Context, evt *webhook.Event, p *webhook.SubscriptionPayload) (interface{}, error) {
	sub := p.Current
	account, err := u.accountBySubscription(ctx, sub.ID, sub.Customer)
	if err != nil {
		return nil, err
	}
	tier, err := u.resolveTier(ctx, sub.PriceRef())
	if err != nil {
		return nil, err
	}

	before := *account
	applySubscription(account, sub, tier)
	changes, err := u.subscriptionChanges(ctx, evt, before, account, p.Previous)
	if errors.Is(err, webhook.ErrInvalidEvent) {
		return nil, dispatcher.Permanent(err)
	}
	if err != nil {
		return nil, err
	}
	if err := u.accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("save billing account: %w", err)
	}

	kinds := changeKinds(changes)
	u.afterChange(ctx, evt, "subscription.updated", before, account, kinds)
	u.fanOut(ctx, account, changes)
	return u.result("subscription_updated", account, kinds), nil
}

// SubscriptionDeleted downgrades the owner to the free tier and clears the
// subscription identifiers. The gateway customer link is kept so a later
// subscription for the same customer resolves.
func (u *Updater) SubscriptionDeleted(ctx context.Context, evt *webhook.Event, p *webhook.SubscriptionPayload) (interface{}, error) {
	sub := p.Current
	account, err := u.accountBySubscription(ctx, sub.ID, sub.Customer)
	if err != nil {
		return nil, err
	}

	before := *account
	account.Tier = string(entitlements.PlanFree)
	account.Status = models.BillingStatusCanceled
	account.SubscriptionID = ""
	account.PriceRef = ""
	account.CurrentPeriodEnd = nil
	account.TrialEnd = nil
	account.CancelAtPeriodEnd = false
	if err := u.accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("save billing account: %w", err)
	}

	changes := diffAccount(before, *account)
	u.afterChange(ctx, evt, "subscription.deleted", before, account, changes)
	notify.SendToOwner(ctx, u.notifier, u.users, account.OwnerID, notify.TemplateSubscriptionCanceled, nil)

	res := u.result("subscription_deleted", account, changes)
	res.SubscriptionID = sub.ID
	return res, nil
}

// TrialWillEnd notifies the owner; no state changes.
func (u *Updater) TrialWillEnd(ctx context.Context, evt *webhook.Event, p *webhook.SubscriptionPayload) (interface{}, error) {
	sub := p.Current
	account, err := u.accountBySubscription(ctx, sub.ID, sub.Customer)
	if err != nil {
		return nil, err
	}

	trialEnd := sub.TrialEndTime()
	if trialEnd == nil {
		trialEnd = account.TrialEnd
	}
	data := map[string]string{"tier": account.Tier}
	if trialEnd != nil {
		data["trial_end"] = trialEnd.Format("2006-01-02")
	}
	notify.SendToOwner(ctx, u.notifier, u.users, account.OwnerID, notify.TemplateTrialWillEnd, data)

	return u.result("trial_will_end_notified", account, nil), nil
}

// PaymentSucceeded resolves dunning, appends billing history and restores a
// past_due account.
func (u *Updater) PaymentSucceeded(ctx context.Context, evt *webhook.Event, inv webhook.Invoice) (interface{}, error) {
	account, err := u.accountForInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	subID := inv.Subscription
	if subID == "" {
		subID = account.SubscriptionID
	}

	if u.dunning != nil {
		if _, err := u.dunning.Resolve(ctx, subID); err != nil {
			return nil, err
		}
	}

	paidAt := evt.OccurredAt
	if t := inv.PaidAt(); t != nil {
		paidAt = *t
	}
	if _, err := u.history.CreateIfNotExists(ctx, &models.BillingHistory{
		OwnerID:        account.OwnerID,
		SubscriptionID: subID,
		InvoiceID:      inv.ID,
		Amount:         inv.Amount(),
		Currency:       inv.Currency,
		Status:         models.BillingHistoryStatusPaid,
		PaidAt:         paidAt,
	}); err != nil {
		return nil, fmt.Errorf("append billing history: %w", err)
	}

	var changes []string
	if account.Status == models.BillingStatusPastDue {
		before := *account
		account.Status = models.BillingStatusActive
		if err := u.accounts.Save(ctx, account); err != nil {
			return nil, fmt.Errorf("restore account: %w", err)
		}
		changes = diffAccount(before, *account)
		u.afterChange(ctx, evt, "invoice.payment_succeeded", before, account, changes)
	}

	res := u.result("payment_recorded", account, changes)
	res.SubscriptionID = subID
	return res, nil
}

// PaymentFailed hands the invoice to the dunning engine.
func (u *Updater) PaymentFailed(ctx context.Context, evt *webhook.Event, inv webhook.Invoice) (interface{}, error) {
	account, err := u.accountForInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	if u.dunning == nil {
		return nil, errors.New("dunning engine not configured")
	}
	return u.dunning.HandlePaymentFailed(ctx, account, evt.ID, inv)
}

// PaymentMethodAttached stores the method. The default flag is only ever
// changed by the owner, never by an attach event.
func (u *Updater) PaymentMethodAttached(ctx context.Context, evt *webhook.Event) (interface{}, error) {
	payload, err := evt.Decode()
	if err != nil {
		return nil, dispatcher.Permanent(err)
	}
	p, ok := payload.(*webhook.PaymentMethodPayload)
	if !ok {
		return nil, dispatcher.Permanent(fmt.Errorf("%w: expected payment method payload", webhook.ErrInvalidEvent))
	}
	pm := p.PaymentMethod

	account, err := u.accountByCustomer(ctx, pm.Customer)
	if err != nil {
		return nil, err
	}

	row := &models.PaymentMethod{
		GatewayPaymentMethodID: pm.ID,
		GatewayCustomerID:      pm.Customer,
		OwnerID:                account.OwnerID,
		Type:                   pm.Type,
		IsDefault:              false,
	}
	if row.Type == "" {
		row.Type = "card"
	}
	if pm.Card != nil {
		row.Brand = pm.Card.Brand
		row.Last4 = pm.Card.Last4
		row.ExpMonth = pm.Card.ExpMonth
		row.ExpYear = pm.Card.ExpYear
	}
	if err := u.paymentMethods.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert payment method: %w", err)
	}

	return &Result{Action: "payment_method_attached", OwnerID: account.OwnerID}, nil
}

func applySubscription(account *models.BillingAccount, sub webhook.Subscription, tier entitlements.Plan) {
	account.SubscriptionID = sub.ID
	account.PriceRef = sub.PriceRef()
	account.Tier = string(tier)
	account.Status = normalizeStatus(sub.Status)
	account.CurrentPeriodEnd = sub.CurrentPeriodEndTime()
	account.TrialEnd = sub.TrialEndTime()
	account.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
}

// afterChange runs the side effects of a durable account write: cache
// invalidation, audit and the domain event. None of them can fail the event.
func (u *Updater) afterChange(ctx context.Context, evt *webhook.Event, action string, before models.BillingAccount, after *models.BillingAccount, changes []string) {
	if len(changes) > 0 && u.entitlements != nil {
		if err := u.entitlements.Invalidate(ctx, after.OwnerID); err != nil {
			log.Warnf("[Billing] Failed to invalidate entitlements for owner %d: %v", after.OwnerID, err)
		}
	}

	u.trail.Record(ctx, audit.Entry{
		EntityType: audit.EntityBillingAccount,
		EntityID:   fmt.Sprintf("%d", after.ID),
		Action:     action,
		From:       before.Status,
		To:         after.Status,
		Details: map[string]interface{}{
			"event_id":  evt.ID,
			"from_tier": before.Tier,
			"to_tier":   after.Tier,
			"changes":   changes,
		},
	})

	if len(changes) == 0 {
		return
	}
	subID := after.SubscriptionID
	if subID == "" {
		subID = before.SubscriptionID
	}
	events.Emit(ctx, u.publisher, events.Event{
		Topic:      events.TopicSubscriptionChanged,
		Key:        fmt.Sprintf("%d", after.OwnerID),
		OccurredAt: time.Now().UTC(),
		Data: SubscriptionChanged{
			OwnerID:           after.OwnerID,
			SubscriptionID:    subID,
			Tier:              after.Tier,
			Status:            after.Status,
			CancelAtPeriodEnd: after.CancelAtPeriodEnd,
			Changes:           changes,
			EventID:           evt.ID,
		},
	})
}

func (u *Updater) result(action string, account *models.BillingAccount, changes []string) *Result {
	return &Result{
		Action:         action,
		OwnerID:        account.OwnerID,
		SubscriptionID: account.SubscriptionID,
		Tier:           account.Tier,
		Status:         account.Status,
		Changes:        changes,
	}
}

func (u *Updater) resolveTier(ctx context.Context, priceRef string) (entitlements.Plan, error) {
	if priceRef == "" {
		return entitlements.PlanFree, &MappingError{}
	}
	mapping, err := u.plans.FindActiveByPriceRef(ctx, priceRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entitlements.PlanFree, &MappingError{PriceRef: priceRef}
	}
	if err != nil {
		return entitlements.PlanFree, fmt.Errorf("lookup plan mapping: %w", err)
	}
	return entitlements.Normalize(mapping.Tier), nil
}

func (u *Updater) accountByCustomer(ctx context.Context, customerID string) (*models.BillingAccount, error) {
	if customerID == "" {
		return nil, &UnknownCustomerError{}
	}
	account, err := u.accounts.GetByGatewayCustomerID(ctx, customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &UnknownCustomerError{CustomerID: customerID}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup billing account: %w", err)
	}
	return account, nil
}

// accountBySubscription falls back to the customer mapping for accounts whose
// subscription id has not been recorded yet.
func (u *Updater) accountBySubscription(ctx context.Context, subscriptionID, customerID string) (*models.BillingAccount, error) {
	if subscriptionID != "" {
		account, err := u.accounts.GetBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup billing account: %w", err)
		}
	}
	if customerID != "" {
		account, err := u.accounts.GetByGatewayCustomerID(ctx, customerID)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup billing account: %w", err)
		}
	}
	return nil, &UnknownSubscriptionError{SubscriptionID: subscriptionID}
}

func (u *Updater) accountForInvoice(ctx context.Context, inv webhook.Invoice) (*models.BillingAccount, error) {
	if inv.Subscription == "" {
		return u.accountByCustomer(ctx, inv.Customer)
	}
	return u.accountBySubscription(ctx, inv.Subscription, inv.Customer)
}

// SeedPlanMappings upserts mappings, typically parsed from BILLING_PLAN_MAPPINGS.
func SeedPlanMappings(ctx context.Context, repo repository.PlanMappingRepository, mappings []models.BillingPlanMapping) error {
	for i := range mappings {
		if err := repo.Upsert(ctx, &mappings[i]); err != nil {
			return fmt.Errorf("seed plan mapping %s: %w", mappings[i].PriceRef, err)
		}
	}
	return nil
}

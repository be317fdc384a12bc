package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/dispatcher"
	"github.com/ManuelReschke/PayFox/internal/pkg/dunning"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_billing"

type fixture struct {
	repos     *repository.Repositories
	updater   *Updater
	cache     *entitlements.MemoryCache
	resolver  *entitlements.Resolver
	notifier  *notify.Recorder
	publisher *events.Recorder
	registry  *dispatcher.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := memstore.New().Repositories()

	require.NoError(t, repos.User.Create(ctx, &models.User{ID: 1, Name: "Alex", Email: "alex@example.com"}))
	require.NoError(t, repos.BillingAccount.Create(ctx, &models.BillingAccount{
		OwnerID:           1,
		GatewayCustomerID: "cus_1",
		Tier:              "free",
		Status:            models.BillingStatusIncomplete,
	}))
	mappings, err := ParsePlanMappings("price_premium:premium,price_max:premium_max")
	require.NoError(t, err)
	require.NoError(t, SeedPlanMappings(ctx, repos.PlanMapping, mappings))

	f := &fixture{
		repos:     repos,
		cache:     entitlements.NewMemoryCache(time.Hour),
		notifier:  &notify.Recorder{},
		publisher: &events.Recorder{},
		registry:  dispatcher.NewRegistry(),
	}
	f.resolver = entitlements.NewResolver(f.cache, repos.BillingAccount)
	engine := dunning.NewEngine(dunning.Config{}, dunning.Deps{
		Attempts:       repos.Dunning,
		Accounts:       repos.BillingAccount,
		PaymentMethods: repos.PaymentMethod,
		Users:          repos.User,
		Audit:          repos.AuditLog,
		Entitlements:   f.resolver,
		Notifier:       f.notifier,
		Publisher:      f.publisher,
	})
	f.updater = NewUpdater(repos, engine, f.resolver, f.notifier, f.publisher)
	f.updater.Register(f.registry)
	return f
}

func (f *fixture) handle(t *testing.T, body string) (interface{}, error) {
	t.Helper()
	evt, err := webhook.ParseEvent([]byte(body), "")
	require.NoError(t, err)
	handler, ok := f.registry.Lookup(evt.Type)
	require.True(t, ok, evt.Type)
	return handler(context.Background(), evt)
}

func (f *fixture) account(t *testing.T) *models.BillingAccount {
	t.Helper()
	a, err := f.repos.BillingAccount.GetByOwnerID(context.Background(), 1)
	require.NoError(t, err)
	return a
}

func subscriptionEvent(id, typ, status, price string, extra string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"created":1700000000,"data":{"object":{
		"id":"sub_1","customer":"cus_1","status":%q,"current_period_end":1702592000,
		"items":{"data":[{"price":{"id":%q}}]}%s}}}`, id, typ, status, price, extra)
}

func invoiceEvent(id, typ, extra string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"created":1700000000,"data":{"object":{
		"id":"in_1","customer":"cus_1","subscription":"sub_1","amount_due":1999,"currency":"usd"%s}}}`, id, typ, extra)
}

func TestRegisterCoversEveryEventType(t *testing.T) {
	f := newFixture(t)
	assert.ElementsMatch(t, []string{
		webhook.TypeSubscriptionCreated,
		webhook.TypeSubscriptionUpdated,
		webhook.TypeSubscriptionDeleted,
		webhook.TypeTrialWillEnd,
		webhook.TypeInvoicePaymentSucceeded,
		webhook.TypeInvoicePaymentFailed,
		webhook.TypePaymentMethodAttached,
	}, f.registry.Types())
}

func TestSubscriptionCreated(t *testing.T) {
	f := newFixture(t)

	out, err := f.handle(t, subscriptionEvent("evt_1", "customer.subscription.created", "trialing", "price_premium", `,"trial_end":1701000000`))
	require.NoError(t, err)
	res := out.(*Result)
	assert.Equal(t, "premium", res.Tier)

	a := f.account(t)
	assert.Equal(t, "sub_1", a.SubscriptionID)
	assert.Equal(t, "price_premium", a.PriceRef)
	assert.Equal(t, models.BillingStatusTrialing, a.Status)
	require.NotNil(t, a.TrialEnd)
	require.NotNil(t, a.CurrentPeriodEnd)
	assert.Equal(t, int64(1702592000), a.CurrentPeriodEnd.Unix())

	assert.Len(t, f.publisher.Events(events.TopicSubscriptionChanged), 1)
	plan, err := f.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanPremium, plan)
}

func TestSubscriptionCreatedUnknownCustomer(t *testing.T) {
	f := newFixture(t)

	body := `{"id":"evt_1","type":"subscription.created","data":{"object":{"id":"sub_9","customer":"cus_404","status":"active","items":{"data":[{"price":{"id":"price_premium"}}]}}}}`
	_, err := f.handle(t, body)

	var unknown *UnknownCustomerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "cus_404", unknown.CustomerID)
	assert.True(t, dispatcher.IsPermanent(err))
}

func TestSubscriptionCreatedUnmappedPrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_unknown", ""))
	var mapping *MappingError
	require.ErrorAs(t, err, &mapping)
	assert.True(t, dispatcher.IsPermanent(err))
	assert.Equal(t, "free", f.account(t).Tier)
}

func TestSubscriptionUpdatedDiffAndNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)
	plan, err := f.resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanPremium, plan)

	out, err := f.handle(t, subscriptionEvent("evt_2", "customer.subscription.updated", "active", "price_max", `,"cancel_at_period_end":true`))
	require.NoError(t, err)
	res := out.(*Result)
	assert.Equal(t, []string{ChangeTier, ChangeCancellation}, res.Changes)

	msgs := f.notifier.ByTemplate(notify.TemplateSubscriptionChanged)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alex@example.com", msgs[0].To)
	assert.Equal(t, "premium", msgs[0].Data["previous_tier"])
	assert.Equal(t, "premium_max", msgs[0].Data["tier"])
	canceling := f.notifier.ByTemplate(notify.TemplateCancellationChanged)
	require.Len(t, canceling, 1)
	assert.Equal(t, "true", canceling[0].Data["cancel_at_period_end"])
	assert.Equal(t, "2023-12-14", canceling[0].Data["period_end"])
	assert.Empty(t, f.notifier.ByTemplate(notify.TemplateSubscriptionStatus))

	plan, err = f.resolver.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanPremiumMax, plan, "cache invalidated on tier change")

	audit, err := f.repos.AuditLog.ListByEntity(ctx, "billing_account", fmt.Sprintf("%d", f.account(t).ID))
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestSubscriptionUpdatedWithoutChangesIsQuiet(t *testing.T) {
	f := newFixture(t)

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)
	out, err := f.handle(t, subscriptionEvent("evt_2", "subscription.updated", "active", "price_premium", ""))
	require.NoError(t, err)

	assert.Empty(t, out.(*Result).Changes)
	assert.Empty(t, f.notifier.ByTemplate(notify.TemplateSubscriptionChanged))
	assert.Len(t, f.publisher.Events(events.TopicSubscriptionChanged), 1)
}

type changeLog struct {
	changes map[string][]Change
}

func (c *changeLog) handler(ctx context.Context, account *models.BillingAccount, change Change) error {
	c.changes[change.Kind] = append(c.changes[change.Kind], change)
	return nil
}

func (f *fixture) recordChanges() *changeLog {
	c := &changeLog{changes: map[string][]Change{}}
	for _, kind := range []string{ChangeTier, ChangeStatus, ChangeCancellation} {
		f.updater.OnChange(kind, c.handler)
	}
	return c
}

func TestSubscriptionUpdatedUsesPreviousAttributes(t *testing.T) {
	f := newFixture(t)
	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_max", `,"cancel_at_period_end":true`))
	require.NoError(t, err)
	changes := f.recordChanges()

	// The stored row already matches the new state; only previous_attributes
	// tells what changed.
	body := `{"id":"evt_2","type":"customer.subscription.updated","created":1700000100,"data":{
		"object":{"id":"sub_1","customer":"cus_1","status":"active","current_period_end":1702592000,
			"cancel_at_period_end":true,"items":{"data":[{"price":{"id":"price_max"}}]}},
		"previous_attributes":{"items":{"data":[{"price":{"id":"price_premium"}}]},"cancel_at_period_end":false}}}`
	out, err := f.handle(t, body)
	require.NoError(t, err)
	assert.Equal(t, []string{ChangeTier, ChangeCancellation}, out.(*Result).Changes)

	require.Len(t, changes.changes[ChangeTier], 1)
	assert.Equal(t, Change{Kind: ChangeTier, From: "premium", To: "premium_max", EventID: "evt_2"}, changes.changes[ChangeTier][0])
	require.Len(t, changes.changes[ChangeCancellation], 1)
	assert.Equal(t, "false", changes.changes[ChangeCancellation][0].From)
	assert.Equal(t, "true", changes.changes[ChangeCancellation][0].To)
	assert.Empty(t, changes.changes[ChangeStatus])
	assert.Len(t, f.publisher.Events(events.TopicSubscriptionChanged), 2)
}

func TestSubscriptionUpdatedStatusFromPreviousAttributes(t *testing.T) {
	f := newFixture(t)
	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)
	changes := f.recordChanges()

	body := `{"id":"evt_2","type":"subscription.updated","created":1700000100,"data":{
		"object":{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"price":{"id":"price_premium"}}]}},
		"previous_attributes":{"status":"trialing"}}}`
	_, err = f.handle(t, body)
	require.NoError(t, err)

	require.Len(t, changes.changes[ChangeStatus], 1)
	assert.Equal(t, models.BillingStatusTrialing, changes.changes[ChangeStatus][0].From)
	assert.Empty(t, changes.changes[ChangeTier])
	assert.Empty(t, changes.changes[ChangeCancellation])
	msgs := f.notifier.ByTemplate(notify.TemplateSubscriptionStatus)
	require.Len(t, msgs, 1)
	assert.Equal(t, "active", msgs[0].Data["status"])
}

func TestSubscriptionUpdatedHandlerErrorDoesNotFailEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)
	f.updater.OnChange(ChangeTier, func(context.Context, *models.BillingAccount, Change) error {
		return fmt.Errorf("crm unavailable")
	})
	changes := f.recordChanges()

	_, err = f.handle(t, subscriptionEvent("evt_2", "subscription.updated", "active", "price_max", `,"cancel_at_period_end":true`))
	require.NoError(t, err)
	assert.Len(t, changes.changes[ChangeTier], 1)
	assert.Len(t, changes.changes[ChangeCancellation], 1)
	assert.Equal(t, "premium_max", f.account(t).Tier)
}

func TestSubscriptionUpdatedMalformedPreviousIsPermanent(t *testing.T) {
	f := newFixture(t)
	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)

	body := `{"id":"evt_2","type":"subscription.updated","data":{
		"object":{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"price":{"id":"price_max"}}]}},
		"previous_attributes":{"cancel_at_period_end":"yes"}}}`
	_, err = f.handle(t, body)
	require.Error(t, err)
	assert.True(t, dispatcher.IsPermanent(err))
	assert.Equal(t, "premium", f.account(t).Tier)
}

func TestSubscriptionDeletedDowngrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, 1)
	require.NoError(t, err)

	_, err = f.handle(t, subscriptionEvent("evt_2", "customer.subscription.deleted", "canceled", "price_premium", ""))
	require.NoError(t, err)

	a := f.account(t)
	assert.Equal(t, "free", a.Tier)
	assert.Equal(t, models.BillingStatusCanceled, a.Status)
	assert.Empty(t, a.SubscriptionID)
	assert.Empty(t, a.PriceRef)
	assert.Nil(t, a.CurrentPeriodEnd)
	assert.Equal(t, "cus_1", a.GatewayCustomerID)

	_, cached, err := f.cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, cached, "premium entitlement evicted")
	assert.Len(t, f.notifier.ByTemplate(notify.TemplateSubscriptionCanceled), 1)
}

func TestSubscriptionDeletedUnknown(t *testing.T) {
	f := newFixture(t)

	body := `{"id":"evt_1","type":"subscription.deleted","data":{"object":{"id":"sub_404","customer":"cus_404","status":"canceled"}}}`
	_, err := f.handle(t, body)
	var unknown *UnknownSubscriptionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "sub_404", unknown.SubscriptionID)
}

func TestTrialWillEndNotifies(t *testing.T) {
	f := newFixture(t)

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "trialing", "price_premium", `,"trial_end":1701000000`))
	require.NoError(t, err)
	_, err = f.handle(t, subscriptionEvent("evt_2", "customer.subscription.trial_will_end", "trialing", "price_premium", `,"trial_end":1701000000`))
	require.NoError(t, err)

	msgs := f.notifier.ByTemplate(notify.TemplateTrialWillEnd)
	require.Len(t, msgs, 1)
	assert.Equal(t, time.Unix(1701000000, 0).UTC().Format("2006-01-02"), msgs[0].Data["trial_end"])
}

func TestPaymentSucceededResolvesDunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handle(t, subscriptionEvent("evt_1", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.handle(t, invoiceEvent(fmt.Sprintf("evt_f%d", i), "invoice.payment_failed", ""))
		require.NoError(t, err)
	}
	assert.Equal(t, models.BillingStatusPastDue, f.account(t).Status)

	_, err = f.handle(t, invoiceEvent("evt_ok", "invoice.payment_succeeded", `,"amount_paid":1999,"status_transitions":{"paid_at":1700000500}`))
	require.NoError(t, err)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.Equal(t, models.BillingStatusActive, f.account(t).Status)

	history, err := f.repos.BillingHistory.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "19.99", history[0].Amount.StringFixed(2))
	assert.Equal(t, int64(1700000500), history[0].PaidAt.Unix())

	out, err := f.handle(t, invoiceEvent("evt_f9", "invoice.payment_failed", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*dunning.Outcome).AttemptNumber, "count restarts after success")
}

func TestPaymentMethodAttachedKeepsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repos.PaymentMethod.Upsert(ctx, &models.PaymentMethod{
		GatewayPaymentMethodID: "pm_1",
		GatewayCustomerID:      "cus_1",
		OwnerID:                1,
		IsDefault:              true,
	}))

	for _, pm := range []string{"pm_1", "pm_2"} {
		body := fmt.Sprintf(`{"id":"evt_%s","type":"payment_method.attached","data":{"object":{"id":%q,"customer":"cus_1","type":"card","card":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}}}}`, pm, pm)
		_, err := f.handle(t, body)
		require.NoError(t, err)
	}

	pm1, err := f.repos.PaymentMethod.GetByGatewayID(ctx, "pm_1")
	require.NoError(t, err)
	assert.True(t, pm1.IsDefault)
	assert.Equal(t, "4242", pm1.Last4)

	pm2, err := f.repos.PaymentMethod.GetByGatewayID(ctx, "pm_2")
	require.NoError(t, err)
	assert.False(t, pm2.IsDefault)
	assert.Equal(t, uint(1), pm2.OwnerID)
}

func TestMalformedPayloadIsPermanent(t *testing.T) {
	f := newFixture(t)

	_, err := f.handle(t, `{"id":"evt_1","type":"invoice.payment_failed","data":{}}`)
	require.Error(t, err)
	assert.True(t, dispatcher.IsPermanent(err))
}

func TestPaymentFailedThroughDispatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handle(t, subscriptionEvent("evt_0", "subscription.created", "active", "price_premium", ""))
	require.NoError(t, err)

	d := dispatcher.New(dispatcher.Config{SigningSecret: secret}, f.registry,
		idempotency.NewLedger(f.repos.Idempotency, time.Minute), f.repos.WebhookEvent, f.repos.AuditLog)

	body := []byte(invoiceEvent("evt_1", "invoice.payment_failed", ""))
	for i := 0; i < 2; i++ {
		res, err := d.Process(ctx, body, webhook.Sign(body, secret, time.Now()), "k1")
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, dispatcher.OutcomeProcessed, res.Outcome)
			var out dunning.Outcome
			require.NoError(t, json.Unmarshal(res.Data, &out))
			assert.Equal(t, 1, out.AttemptNumber)
		} else {
			assert.True(t, res.Duplicate)
		}
	}

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].NextRetryAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 3), *attempts[0].NextRetryAt, time.Minute)
}

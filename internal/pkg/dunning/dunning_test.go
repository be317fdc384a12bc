package dunning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCanceler struct {
	canceled []string
	err      error
}

func (f *fakeCanceler) CancelSubscription(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.canceled = append(f.canceled, id)
	return nil
}

type fakeInvalidator struct{ owners []uint }

func (f *fakeInvalidator) Invalidate(_ context.Context, ownerID uint) error {
	f.owners = append(f.owners, ownerID)
	return nil
}

type fixture struct {
	repos     *repository.Repositories
	engine    *Engine
	canceler  *fakeCanceler
	cache     *fakeInvalidator
	notifier  *notify.Recorder
	publisher *events.Recorder
	account   *models.BillingAccount
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := memstore.New().Repositories()

	require.NoError(t, repos.User.Create(ctx, &models.User{ID: 1, Name: "Sam", Email: "sam@example.com"}))
	account := &models.BillingAccount{
		OwnerID:           1,
		GatewayCustomerID: "cus_1",
		SubscriptionID:    "sub_1",
		Tier:              "premium",
		Status:            models.BillingStatusActive,
	}
	require.NoError(t, repos.BillingAccount.Create(ctx, account))

	f := &fixture{
		repos:     repos,
		canceler:  &fakeCanceler{},
		cache:     &fakeInvalidator{},
		notifier:  &notify.Recorder{},
		publisher: &events.Recorder{},
		account:   account,
		clock:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Config{}, Deps{
		Attempts:       repos.Dunning,
		Accounts:       repos.BillingAccount,
		PaymentMethods: repos.PaymentMethod,
		Users:          repos.User,
		Audit:          repos.AuditLog,
		Canceler:       f.canceler,
		Entitlements:   f.cache,
		Notifier:       f.notifier,
		Publisher:      f.publisher,
	})
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func failedInvoice(id string) webhook.Invoice {
	return webhook.Invoice{
		ID:           id,
		Customer:     "cus_1",
		Subscription: "sub_1",
		AmountDue:    1999,
		Currency:     "usd",
	}
}

func TestFirstFailureSchedulesRetryInThreeDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptNumber)
	assert.False(t, out.Exhausted)
	require.NotNil(t, out.NextRetryAt)
	assert.Equal(t, f.clock.AddDate(0, 0, 3), *out.NextRetryAt)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "19.99", attempts[0].Amount.StringFixed(2))

	account, err := f.repos.BillingAccount.GetByOwnerID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusPastDue, account.Status)

	msgs := f.notifier.ByTemplate(notify.TemplatePaymentFailed)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sam@example.com", msgs[0].To)
	assert.Equal(t, "1", msgs[0].Data["attempt"])
}

func TestRetryIntervalsFollowAttemptNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wantDays := []int{3, 5, 7}
	for i, days := range wantDays {
		out, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
		require.NoError(t, err)
		assert.Equal(t, i+1, out.AttemptNumber)
		assert.Equal(t, f.clock.AddDate(0, 0, days), *out.NextRetryAt)
		f.clock = f.clock.Add(time.Hour)
	}
}

func TestFourthFailureCancelsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var out *Outcome
	var err error
	for i := 0; i < 4; i++ {
		out, err = f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
		require.NoError(t, err)
		f.clock = f.clock.Add(6 * time.Hour)
	}

	assert.True(t, out.Exhausted)
	assert.Equal(t, 4, out.AttemptNumber)
	assert.Nil(t, out.NextRetryAt)
	assert.Equal(t, []string{"sub_1"}, f.canceler.canceled)

	account, err := f.repos.BillingAccount.GetByOwnerID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, account.Status)
	assert.Equal(t, "free", account.Tier)

	assert.Len(t, f.notifier.ByTemplate(notify.TemplateDunningExhausted), 1)
	assert.Len(t, f.publisher.Events(events.TopicDunningExhausted), 1)
	assert.Contains(t, f.cache.owners, uint(1))
}

func TestSuccessBetweenAttemptsResetsCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
		require.NoError(t, err)
	}

	n, err := f.engine.Resolve(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_2"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptNumber)
}

func TestAttemptsOutsideGracePeriodDoNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
	require.NoError(t, err)

	f.clock = f.clock.Add(DefaultGracePeriod + time.Minute)
	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_2"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptNumber)
}

func TestDeclinedCardFlagsPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repos.PaymentMethod.Upsert(ctx, &models.PaymentMethod{
		GatewayPaymentMethodID: "pm_1",
		GatewayCustomerID:      "cus_1",
		OwnerID:                1,
		IsDefault:              true,
	}))

	inv := failedInvoice("in_1")
	inv.PaymentMethod = "pm_1"
	inv.LastPaymentError = &webhook.PaymentError{Code: "card_declined", DeclineCode: "insufficient_funds"}

	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "", inv)
	require.NoError(t, err)
	assert.True(t, out.PaymentMethodFlagged)

	pm, err := f.repos.PaymentMethod.GetByGatewayID(ctx, "pm_1")
	require.NoError(t, err)
	assert.True(t, pm.NeedsReplacement)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "card_declined:insufficient_funds", attempts[0].FailureReason)
	assert.Equal(t, "true", f.notifier.ByTemplate(notify.TemplatePaymentFailed)[0].Data["card_declined"])
}

func TestGatewayCancelFailureLeavesNoWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.cfg.MaxAttempts = 1
	f.canceler.err = errors.New("gateway timeout")

	_, err := f.engine.HandlePaymentFailed(ctx, f.account, "", failedInvoice("in_1"))
	require.Error(t, err)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestInvoiceWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	f.account.SubscriptionID = ""

	inv := failedInvoice("in_1")
	inv.Subscription = ""
	_, err := f.engine.HandlePaymentFailed(context.Background(), f.account, "", inv)

	var invErr *InvoiceError
	require.ErrorAs(t, err, &invErr)
	assert.True(t, invErr.Permanent())
}

// flakyAccounts fails the next failSaves calls to Save.
type flakyAccounts struct {
	repository.BillingAccountRepository
	failSaves int
}

func (f *flakyAccounts) Save(ctx context.Context, account *models.BillingAccount) error {
	if f.failSaves > 0 {
		f.failSaves--
		return errors.New("db hiccup")
	}
	return f.BillingAccountRepository.Save(ctx, account)
}

func withFlakyAccounts(f *fixture, failSaves int) {
	f.engine.deps.Accounts = &flakyAccounts{BillingAccountRepository: f.repos.BillingAccount, failSaves: failSaves}
}

func TestRedeliveredEventAfterFailedSaveKeepsAttemptNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withFlakyAccounts(f, 1)

	_, err := f.engine.HandlePaymentFailed(ctx, f.account, "evt_1", failedInvoice("in_1"))
	require.Error(t, err)
	assert.Equal(t, models.BillingStatusActive, f.account.Status)

	f.clock = f.clock.Add(time.Second)
	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "evt_1", failedInvoice("in_1"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptNumber)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "evt_1", attempts[0].EventID)

	account, err := f.repos.BillingAccount.GetByOwnerID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusPastDue, account.Status)

	// the next real failure is attempt 2
	out, err = f.engine.HandlePaymentFailed(ctx, f.account, "evt_2", failedInvoice("in_1"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.AttemptNumber)
}

func TestRedeliveredExhaustingEventCancelsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.cfg.MaxAttempts = 2

	_, err := f.engine.HandlePaymentFailed(ctx, f.account, "evt_1", failedInvoice("in_1"))
	require.NoError(t, err)

	withFlakyAccounts(f, 1)
	_, err = f.engine.HandlePaymentFailed(ctx, f.account, "evt_2", failedInvoice("in_1"))
	require.Error(t, err)
	assert.Equal(t, models.BillingStatusPastDue, f.account.Status)

	out, err := f.engine.HandlePaymentFailed(ctx, f.account, "evt_2", failedInvoice("in_1"))
	require.NoError(t, err)
	assert.True(t, out.Exhausted)
	assert.Equal(t, 2, out.AttemptNumber)
	assert.Equal(t, []string{"sub_1"}, f.canceler.canceled)

	attempts, err := f.repos.Dunning.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	account, err := f.repos.BillingAccount.GetByOwnerID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusCanceled, account.Status)
}

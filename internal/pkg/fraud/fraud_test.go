package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentcodec"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func testCodec(t *testing.T) *paymentcodec.Codec {
	t.Helper()
	codec, err := paymentcodec.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return codec
}

func newEngine(t *testing.T) (*Engine, *repository.Repositories, *events.Recorder) {
	t.Helper()
	repos := memstore.New().Repositories()
	rec := &events.Recorder{}
	e := NewEngine(repos, 0, nil, testCodec(t), rec)
	e.now = func() time.Time { return now }
	return e, repos, rec
}

func newAffiliate(t *testing.T, repos *repository.Repositories, fingerprint string) *models.Affiliate {
	t.Helper()
	a := &models.Affiliate{Name: "Sam", Status: models.AffiliateStatusApproved, PaymentFingerprint: fingerprint}
	require.NoError(t, repos.Affiliate.Create(context.Background(), a))
	return a
}

func addClicks(t *testing.T, repos *repository.Repositories, affiliateID uint, n int, f func(i int) models.AffiliateClick) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := f(i)
		c.AffiliateID = affiliateID
		require.NoError(t, repos.Click.Create(context.Background(), &c))
	}
}

// spread returns clicks that trip no pattern check.
func spread(i int) models.AffiliateClick {
	return models.AffiliateClick{
		IP:        fmt.Sprintf("10.0.0.%d", i),
		UserAgent: fmt.Sprintf("agent-%d", i%5),
		ClickedAt: now.Add(-time.Duration(i) * time.Hour),
	}
}

func TestScoreCleanAffiliatePasses(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "fp-1")
	addClicks(t, repos, a.ID, 20, spread)

	res := e.Score(context.Background(), a)
	assert.Equal(t, 0, res.RiskScore)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Reasons)
}

func TestScoreConversionRate(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	addClicks(t, repos, a.ID, 20, func(i int) models.AffiliateClick {
		c := spread(i)
		c.Converted = i < 4
		return c
	})

	res := e.Score(context.Background(), a)
	assert.Equal(t, WeightConversionRate, res.RiskScore)
	assert.Equal(t, []string{ReasonConversionRate}, res.Reasons)
	assert.True(t, res.Passed)
}

func TestScoreConversionRateAtLimit(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	addClicks(t, repos, a.ID, 20, func(i int) models.AffiliateClick {
		c := spread(i)
		c.Converted = i < 3
		return c
	})

	assert.Equal(t, 0, e.Score(context.Background(), a).RiskScore)
}

func TestScoreClickPattern(t *testing.T) {
	tests := []struct {
		name   string
		click  func(i int) models.AffiliateClick
		reason string
	}{
		{
			name: "same ip",
			click: func(i int) models.AffiliateClick {
				c := spread(i)
				if i < 16 {
					c.IP = "1.2.3.4"
				}
				return c
			},
			reason: ReasonClickIP,
		},
		{
			name: "same user agent",
			click: func(i int) models.AffiliateClick {
				c := spread(i)
				if i < 17 {
					c.UserAgent = "bot"
				}
				return c
			},
			reason: ReasonClickAgent,
		},
		{
			name: "same hour",
			click: func(i int) models.AffiliateClick {
				c := spread(i)
				if i < 11 {
					c.ClickedAt = now.AddDate(0, 0, -(i%5)-1).Add(-30 * time.Minute)
				}
				return c
			},
			reason: ReasonClickHour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, repos, _ := newEngine(t)
			a := newAffiliate(t, repos, "")
			addClicks(t, repos, a.ID, 20, tt.click)

			res := e.Score(context.Background(), a)
			assert.Equal(t, WeightClickPattern, res.RiskScore)
			assert.Contains(t, res.Reasons, tt.reason)
		})
	}
}

func TestScoreClickPatternSmallSample(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	addClicks(t, repos, a.ID, 3, func(i int) models.AffiliateClick {
		return models.AffiliateClick{IP: "1.2.3.4", UserAgent: fmt.Sprintf("agent-%d", i), ClickedAt: now.Add(-time.Duration(i) * time.Hour)}
	})

	res := e.Score(context.Background(), a)
	assert.Equal(t, WeightClickPattern, res.RiskScore)
	assert.Equal(t, []string{ReasonClickIP}, res.Reasons)
}

func TestScoreClickPatternCountsOnce(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	addClicks(t, repos, a.ID, 12, func(i int) models.AffiliateClick {
		return models.AffiliateClick{IP: "1.2.3.4", UserAgent: "bot", ClickedAt: now.Add(-time.Minute)}
	})

	res := e.Score(context.Background(), a)
	assert.Equal(t, WeightClickPattern, res.RiskScore)
	assert.ElementsMatch(t, []string{ReasonClickIP, ReasonClickAgent, ReasonClickHour}, res.Reasons)
}

func TestScoreSharedPaymentDestination(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "shared")
	b := newAffiliate(t, repos, "shared")
	newAffiliate(t, repos, "other")

	for _, affiliate := range []*models.Affiliate{a, b} {
		res := e.Score(context.Background(), affiliate)
		assert.Equal(t, WeightSharedPayment, res.RiskScore)
		assert.Equal(t, []string{"Duplicate payment details found"}, res.Reasons)
		assert.False(t, res.Passed)
	}
}

func newSealedAffiliate(t *testing.T, repos *repository.Repositories, encrypted string) *models.Affiliate {
	t.Helper()
	a := &models.Affiliate{
		Name:                    "Sam",
		Status:                  models.AffiliateStatusApproved,
		PaymentMethod:           models.PaymentRailPayPal,
		EncryptedPaymentDetails: encrypted,
	}
	require.NoError(t, repos.Affiliate.Create(context.Background(), a))
	return a
}

func TestScoreSharedPaymentWithoutStoredFingerprint(t *testing.T) {
	ctx := context.Background()
	e, repos, _ := newEngine(t)
	enc, err := testCodec(t).Encrypt(paymentcodec.Details{"paypal_email": "payee@example.com"})
	require.NoError(t, err)
	a := newSealedAffiliate(t, repos, enc)
	b := newSealedAffiliate(t, repos, enc)

	for _, affiliate := range []*models.Affiliate{a, b} {
		res := e.Score(ctx, affiliate)
		assert.Equal(t, WeightSharedPayment, res.RiskScore)
		assert.Equal(t, []string{ReasonSharedPayment}, res.Reasons)
		assert.False(t, res.Passed)
	}

	stored, err := repos.Affiliate.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.PaymentFingerprint)
}

func TestScoreSharedPaymentAcrossCiphertexts(t *testing.T) {
	e, repos, _ := newEngine(t)
	codec := testCodec(t)
	details := paymentcodec.Details{"iban": "DE89370400440532013000"}
	first, err := codec.Encrypt(details)
	require.NoError(t, err)
	second, err := codec.Encrypt(details)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	a := newSealedAffiliate(t, repos, first)
	newSealedAffiliate(t, repos, second)

	res := e.Score(context.Background(), a)
	assert.Equal(t, []string{ReasonSharedPayment}, res.Reasons)
	assert.False(t, res.Passed)
}

func TestScoreUnreadablePaymentDetailsFailsClosed(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newSealedAffiliate(t, repos, "v1.not-a-ciphertext")

	res := e.Score(context.Background(), a)
	assert.Equal(t, 100, res.RiskScore)
	assert.Equal(t, []string{ReasonError}, res.Reasons)
	assert.False(t, res.Passed)
}

func TestScoreVelocity(t *testing.T) {
	ctx := context.Background()
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	for d := 1; d <= 10; d++ {
		require.NoError(t, repos.Commission.Create(ctx, &models.CommissionRecord{
			AffiliateID:     a.ID,
			Amount:          decimal.NewFromInt(5),
			Status:          models.CommissionStatusConfirmed,
			TransactionDate: now.AddDate(0, 0, -d),
		}))
	}
	require.NoError(t, repos.Commission.Create(ctx, &models.CommissionRecord{
		AffiliateID:     a.ID,
		Amount:          decimal.NewFromInt(150),
		Status:          models.CommissionStatusConfirmed,
		TransactionDate: now.Add(-time.Hour),
	}))

	res := e.Score(ctx, a)
	assert.Equal(t, WeightVelocity, res.RiskScore)
	assert.Equal(t, []string{ReasonVelocity}, res.Reasons)
}

func TestVelocitySpikeBelowFloor(t *testing.T) {
	commissions := []models.CommissionRecord{
		{Amount: decimal.NewFromInt(90), TransactionDate: now},
	}
	assert.False(t, velocitySpike(commissions))
	assert.False(t, velocitySpike(nil))
}

type geoStub struct {
	inconsistent bool
	err          error
}

func (g geoStub) Inconsistent(context.Context, *models.Affiliate, []models.AffiliateClick) (bool, error) {
	return g.inconsistent, g.err
}

func TestScoreGeo(t *testing.T) {
	e, repos, _ := newEngine(t)
	e.geo = geoStub{inconsistent: true}
	a := newAffiliate(t, repos, "")

	res := e.Score(context.Background(), a)
	assert.Equal(t, WeightGeo, res.RiskScore)
	assert.Equal(t, []string{ReasonGeo}, res.Reasons)
}

func TestScoreErrorFailsClosed(t *testing.T) {
	e, repos, _ := newEngine(t)
	e.geo = geoStub{err: errors.New("lookup timeout")}
	a := newAffiliate(t, repos, "")

	res := e.Score(context.Background(), a)
	assert.Equal(t, 100, res.RiskScore)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{ReasonError}, res.Reasons)
}

func TestScoreThreshold(t *testing.T) {
	e, repos, _ := newEngine(t)
	a := newAffiliate(t, repos, "")
	addClicks(t, repos, a.ID, 20, func(i int) models.AffiliateClick {
		c := spread(i)
		c.Converted = i < 4
		return c
	})
	e.geo = geoStub{inconsistent: true}

	res := e.Score(context.Background(), a)
	assert.Equal(t, WeightConversionRate+WeightGeo, res.RiskScore)
	assert.True(t, res.Passed)

	e.threshold = 40
	res = e.Score(context.Background(), a)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{ReasonConversionRate, ReasonGeo}, res.Reasons)
}

func TestNewEngineDefaultsThreshold(t *testing.T) {
	repos := memstore.New().Repositories()
	assert.Equal(t, DefaultThreshold, NewEngine(repos, 0, nil, nil, nil).threshold)
	assert.Equal(t, DefaultThreshold, NewEngine(repos, 101, nil, nil, nil).threshold)
	assert.Equal(t, 70, NewEngine(repos, 70, nil, nil, nil).threshold)
}

func TestScreenRecordsAlertWhenBlocked(t *testing.T) {
	ctx := context.Background()
	e, repos, rec := newEngine(t)
	e.geo = geoStub{err: errors.New("down")}
	a := newAffiliate(t, repos, "")

	res := e.Screen(ctx, a)
	require.False(t, res.Passed)

	alerts, err := repos.FraudAlert.ListByAffiliate(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 100, alerts[0].RiskScore)
	assert.JSONEq(t, `["Fraud screening failed"]`, string(alerts[0].Reasons))

	published := rec.Events(events.TopicFraudAlert)
	require.Len(t, published, 1)
	assert.Equal(t, fmt.Sprintf("%d", a.ID), published[0].Key)

	stored, err := repos.Affiliate.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusApproved, stored.Status)
}

func TestScreenPassingWritesNothing(t *testing.T) {
	ctx := context.Background()
	e, repos, rec := newEngine(t)
	a := newAffiliate(t, repos, "")

	assert.True(t, e.Screen(ctx, a).Passed)
	alerts, err := repos.FraudAlert.ListByAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, rec.Events(events.TopicFraudAlert))
}

// Package fraud scores affiliates before money moves. Scoring is additive
// and never suspends anyone; a failing score only blocks the current payout.
package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentcodec"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

const DefaultThreshold = 50

// Signal weights
const (
	WeightConversionRate = 30
	WeightClickPattern   = 25
	WeightSharedPayment  = 20
	WeightVelocity       = 15
	WeightGeo            = 10
)

const (
	maxConversionRate = 0.15
	clickWindow       = 7 * 24 * time.Hour
	maxIPShare        = 0.70
	maxAgentShare     = 0.80
	maxHourShare      = 0.50
	velocityWindow    = 30
	velocityFactor    = 5
)

var velocityFloor = decimal.NewFromInt(100)

// Reasons reported on a result and stored on the FraudAlert.
const (
	ReasonConversionRate = "Conversion rate above 15%"
	ReasonClickIP        = "Clicks concentrated on one IP address"
	ReasonClickAgent     = "Clicks concentrated on one user agent"
	ReasonClickHour      = "Clicks concentrated in one hour of day"
	ReasonSharedPayment  = "Duplicate payment details found"
	ReasonVelocity       = "Commission velocity spike"
	ReasonGeo            = "Geolocation inconsistency"
	ReasonError          = "Fraud screening failed"
)

type Result struct {
	AffiliateID uint     `json:"affiliate_id"`
	RiskScore   int      `json:"risk_score"`
	Reasons     []string `json:"reasons"`
	Passed      bool     `json:"passed"`
}

// GeoChecker compares click locations with the affiliate's profile.
type GeoChecker interface {
	Inconsistent(ctx context.Context, affiliate *models.Affiliate, clicks []models.AffiliateClick) (bool, error)
}

// NoGeo passes every affiliate. Used until a geolocation provider is wired.
type NoGeo struct{}

func (NoGeo) Inconsistent(context.Context, *models.Affiliate, []models.AffiliateClick) (bool, error) {
	return false, nil
}

// DetailsCodec opens stored payment details and hashes them.
type DetailsCodec interface {
	Decrypt(encoded string) (paymentcodec.Details, error)
	Fingerprint(details paymentcodec.Details) string
}

type Engine struct {
	affiliates  repository.AffiliateRepository
	clicks      repository.AffiliateClickRepository
	commissions repository.CommissionRepository
	alerts      repository.FraudAlertRepository
	geo         GeoChecker
	codec       DetailsCodec
	publisher   events.Publisher
	threshold   int
	now         func() time.Time
}

func NewEngine(repos *repository.Repositories, threshold int, geo GeoChecker, codec DetailsCodec, publisher events.Publisher) *Engine {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}
	if geo == nil {
		geo = NoGeo{}
	}
	return &Engine{
		affiliates:  repos.Affiliate,
		clicks:      repos.Click,
		commissions: repos.Commission,
		alerts:      repos.FraudAlert,
		geo:         geo,
		codec:       codec,
		publisher:   publisher,
		threshold:   threshold,
		now:         time.Now,
	}
}

// Score runs every signal. Any lookup error yields the maximum score. A payout
// destination shared with another affiliate fails regardless of the score.
func (e *Engine) Score(ctx context.Context, affiliate *models.Affiliate) Result {
	res := Result{AffiliateID: affiliate.ID, Reasons: []string{}}
	score, shared, err := e.score(ctx, affiliate, &res)
	if err != nil {
		log.Errorf("[Fraud] Screening affiliate %d failed: %v", affiliate.ID, err)
		return Result{AffiliateID: affiliate.ID, RiskScore: 100, Reasons: []string{ReasonError}, Passed: false}
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	res.RiskScore = score
	res.Passed = score < e.threshold && !shared
	return res
}

func (e *Engine) score(ctx context.Context, affiliate *models.Affiliate, res *Result) (score int, shared bool, err error) {
	now := e.now().UTC()

	clicks, conversions, err := e.clicks.CountConversions(ctx, affiliate.ID)
	if err != nil {
		return 0, false, fmt.Errorf("conversions: %w", err)
	}
	if clicks > 0 && float64(conversions)/float64(clicks) > maxConversionRate {
		score += WeightConversionRate
		res.Reasons = append(res.Reasons, ReasonConversionRate)
	}

	recent, err := e.clicks.ListSince(ctx, affiliate.ID, now.Add(-clickWindow))
	if err != nil {
		return 0, false, fmt.Errorf("recent clicks: %w", err)
	}
	if reasons := clickPattern(recent); len(reasons) > 0 {
		score += WeightClickPattern
		res.Reasons = append(res.Reasons, reasons...)
	}

	shared, err = e.sharedDestination(ctx, affiliate)
	if err != nil {
		return 0, false, fmt.Errorf("payment fingerprint: %w", err)
	}
	if shared {
		score += WeightSharedPayment
		res.Reasons = append(res.Reasons, ReasonSharedPayment)
	}

	commissions, err := e.commissions.ListByAffiliateSince(ctx, affiliate.ID, now.AddDate(0, 0, -velocityWindow))
	if err != nil {
		return 0, false, fmt.Errorf("commissions: %w", err)
	}
	if velocitySpike(commissions) {
		score += WeightVelocity
		res.Reasons = append(res.Reasons, ReasonVelocity)
	}

	inconsistent, err := e.geo.Inconsistent(ctx, affiliate, recent)
	if err != nil {
		return 0, false, fmt.Errorf("geo: %w", err)
	}
	if inconsistent {
		score += WeightGeo
		res.Reasons = append(res.Reasons, ReasonGeo)
	}

	return score, shared, nil
}

// sharedDestination reports whether another affiliate pays out to the same
// destination. Rows written before fingerprints were stored are decrypted and
// hashed here; a row of ours that cannot be opened is an error.
func (e *Engine) sharedDestination(ctx context.Context, affiliate *models.Affiliate) (bool, error) {
	fingerprint := affiliate.PaymentFingerprint
	if fingerprint == "" && affiliate.EncryptedPaymentDetails != "" {
		var err error
		if fingerprint, err = e.fingerprint(affiliate.EncryptedPaymentDetails); err != nil {
			return false, err
		}
		if err := e.affiliates.UpdatePaymentDetails(ctx, affiliate.ID, affiliate.PaymentMethod, affiliate.EncryptedPaymentDetails, fingerprint); err != nil {
			log.Warnf("[Fraud] Backfilling fingerprint for affiliate %d failed: %v", affiliate.ID, err)
		}
	}
	if fingerprint == "" {
		return false, nil
	}

	others, err := e.affiliates.CountByPaymentFingerprint(ctx, fingerprint, affiliate.ID)
	if err != nil {
		return false, err
	}
	if others > 0 {
		return true, nil
	}

	legacy, err := e.affiliates.ListMissingFingerprint(ctx, affiliate.ID)
	if err != nil {
		return false, err
	}
	for _, other := range legacy {
		fp, err := e.fingerprint(other.EncryptedPaymentDetails)
		if err != nil {
			log.Warnf("[Fraud] Skipping affiliate %d: payment details unreadable: %v", other.ID, err)
			continue
		}
		if fp == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) fingerprint(encrypted string) (string, error) {
	if e.codec == nil {
		return "", errors.New("no payment details codec configured")
	}
	details, err := e.codec.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt payment details: %w", err)
	}
	return e.codec.Fingerprint(details), nil
}

// clickPattern reports which concentration limits the clicks exceed.
func clickPattern(clicks []models.AffiliateClick) []string {
	if len(clicks) == 0 {
		return nil
	}
	ips := map[string]int{}
	agents := map[string]int{}
	hours := map[int]int{}
	for _, c := range clicks {
		ips[c.IP]++
		agents[c.UserAgent]++
		hours[c.ClickedAt.UTC().Hour()]++
	}

	total := float64(len(clicks))
	var reasons []string
	if float64(maxCount(ips))/total > maxIPShare {
		reasons = append(reasons, ReasonClickIP)
	}
	if float64(maxCount(agents))/total > maxAgentShare {
		reasons = append(reasons, ReasonClickAgent)
	}
	if float64(maxCount(hours))/total > maxHourShare {
		reasons = append(reasons, ReasonClickHour)
	}
	return reasons
}

func maxCount[K comparable](m map[K]int) int {
	best := 0
	for _, n := range m {
		if n > best {
			best = n
		}
	}
	return best
}

// velocitySpike reports a day whose commissions exceed five times the 30-day
// daily average and the absolute floor.
func velocitySpike(commissions []models.CommissionRecord) bool {
	if len(commissions) == 0 {
		return false
	}
	total := decimal.Zero
	byDay := map[string]decimal.Decimal{}
	for _, c := range commissions {
		total = total.Add(c.Amount)
		day := c.TransactionDate.UTC().Format("2006-01-02")
		byDay[day] = byDay[day].Add(c.Amount)
	}
	limit := total.Div(decimal.NewFromInt(velocityWindow)).Mul(decimal.NewFromInt(velocityFactor))
	for _, sum := range byDay {
		if sum.GreaterThan(limit) && sum.GreaterThan(velocityFloor) {
			return true
		}
	}
	return false
}

// Alert is published on fraud.alert.
type Alert struct {
	AffiliateID uint     `json:"affiliate_id"`
	RiskScore   int      `json:"risk_score"`
	Reasons     []string `json:"reasons"`
}

// Screen scores the affiliate and, when the score blocks, records a
// FraudAlert and publishes it.
func (e *Engine) Screen(ctx context.Context, affiliate *models.Affiliate) Result {
	res := e.Score(ctx, affiliate)
	if res.Passed {
		return res
	}

	reasons, _ := json.Marshal(res.Reasons)
	alert := &models.FraudAlert{
		AffiliateID: affiliate.ID,
		RiskScore:   res.RiskScore,
		Reasons:     reasons,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		log.Errorf("[Fraud] Failed to record alert for affiliate %d: %v", affiliate.ID, err)
	}
	events.Emit(ctx, e.publisher, events.Event{
		Topic: events.TopicFraudAlert,
		Key:   fmt.Sprintf("%d", affiliate.ID),
		Data:  Alert{AffiliateID: affiliate.ID, RiskScore: res.RiskScore, Reasons: res.Reasons},
	})
	log.Warnf("[Fraud] Affiliate %d blocked with score %d: %v", affiliate.ID, res.RiskScore, res.Reasons)
	return res
}

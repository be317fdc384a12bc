package config

import (
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"APP_ENV":                "test",
		"DB_DRIVER":              "memory",
		"WEBHOOK_SIGNING_SECRET": "whsec_test",
		"PAYMENT_DETAILS_KEY":    "0123456789abcdef0123456789abcdef",
		"OPERATOR_JWT_SECRET":    "operator-secret-123",
	}
}

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = values
	t.Cleanup(func() { env.Env = prev })
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, baseEnv())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.Webhook.Tolerance)
	assert.Equal(t, 3, cfg.Handler.MaxAttempts)
	assert.Equal(t, 4, cfg.Dunning.MaxAttempts)
	assert.Equal(t, []int{3, 5, 7, 10}, cfg.Dunning.RetryIntervalDays)
	assert.Equal(t, 72*time.Hour, cfg.Dunning.GracePeriod)
	assert.Equal(t, "0.05", cfg.Payout.FeeRate.String())
	assert.Equal(t, "usd", cfg.Payout.Currency)
	assert.Equal(t, 50, cfg.Fraud.RiskThreshold)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	values := baseEnv()
	delete(values, "WEBHOOK_SIGNING_SECRET")
	withEnv(t, values)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadFeeRate(t *testing.T) {
	values := baseEnv()
	values["PAYOUT_FEE_RATE"] = "1.5"
	withEnv(t, values)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresArchiveBucketWhenEnabled(t *testing.T) {
	values := baseEnv()
	values["S3_ARCHIVE_ENABLED"] = "true"
	withEnv(t, values)

	_, err := Load()
	assert.Error(t, err)
}

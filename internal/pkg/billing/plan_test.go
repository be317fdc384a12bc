package billing

import (
	"testing"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: "active"},
		{in: "TRIALING", want: "trialing"},
		{in: "past_due", want: "past_due"},
		{in: "unpaid", want: "past_due"},
		{in: "canceled", want: "canceled"},
		{in: "incomplete_expired", want: "canceled"},
		{in: "paused", want: "incomplete"},
		{in: "", want: "incomplete"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeStatus(tt.in), tt.in)
	}
}

func TestDiffAccount(t *testing.T) {
	base := models.BillingAccount{Tier: "premium", Status: "active"}

	tests := []struct {
		name  string
		after models.BillingAccount
		want  []string
	}{
		{"no change", base, nil},
		{"upgrade", models.BillingAccount{Tier: "premium_max", Status: "active"}, []string{ChangeTier}},
		{"past due", models.BillingAccount{Tier: "premium", Status: "past_due"}, []string{ChangeStatus}},
		{"cancel at period end", models.BillingAccount{Tier: "premium", Status: "active", CancelAtPeriodEnd: true}, []string{ChangeCancellation}},
		{"canceled downgrade", models.BillingAccount{Tier: "free", Status: "canceled"}, []string{ChangeTier, ChangeStatus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, diffAccount(base, tt.after))
		})
	}
}

func TestParsePlanMappings(t *testing.T) {
	got, err := ParsePlanMappings(" price_a:premium, price_b:PREMIUM_MAX ,")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "price_a", got[0].PriceRef)
	assert.Equal(t, "premium", got[0].Tier)
	assert.Equal(t, "premium_max", got[1].Tier)
	assert.True(t, got[1].IsActive)

	_, err = ParsePlanMappings("price_a")
	assert.Error(t, err)
	_, err = ParsePlanMappings("price_a:gold")
	assert.Error(t, err)
}

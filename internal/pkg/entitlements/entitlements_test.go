package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAndRank(t *testing.T) {
	assert.Equal(t, PlanPremiumMax, Normalize("PREMIUM_MAX"))
	assert.Equal(t, PlanFree, Normalize("gold"))
	assert.Greater(t, Rank(PlanPremium), Rank(PlanFree))
	assert.Greater(t, Rank(PlanPremiumMax), Rank(PlanPremium))
	assert.True(t, Allowed(PlanPremiumMax).CoachChat)
	assert.False(t, Allowed(PlanFree).GuidedPrograms)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, 7, PlanPremium))
	plan, ok, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PlanPremium, plan)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok, err = c.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverFallsBackToAccountAndCaches(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	require.NoError(t, repos.BillingAccount.Create(ctx, &models.BillingAccount{
		OwnerID: 1, GatewayCustomerID: "cus_1", Tier: "premium", Status: models.BillingStatusPastDue,
	}))
	cache := NewMemoryCache(time.Minute)
	r := NewResolver(cache, repos.BillingAccount)

	plan, err := r.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, plan)

	cached, ok, _ := cache.Get(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, PlanPremium, cached)

	require.NoError(t, r.Invalidate(ctx, 1))
	_, ok, _ = cache.Get(ctx, 1)
	assert.False(t, ok)

	plan, err = r.Resolve(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, plan)
}

func TestPlanForCanceledAccountIsFree(t *testing.T) {
	assert.Equal(t, PlanFree, PlanForAccount(&models.BillingAccount{Tier: "premium", Status: models.BillingStatusCanceled}))
	assert.Equal(t, PlanFree, PlanForAccount(nil))
}

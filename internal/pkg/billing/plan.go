package billing

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
)

// normalizeStatus folds gateway subscription statuses onto the account states.
func normalizeStatus(status string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case models.BillingStatusActive, models.BillingStatusTrialing, models.BillingStatusPastDue, models.BillingStatusCanceled:
		return s
	case "unpaid":
		return models.BillingStatusPastDue
	case "incomplete_expired":
		return models.BillingStatusCanceled
	default:
		return models.BillingStatusIncomplete
	}
}

// Change kinds reported by subscription.updated.
const (
	ChangeTier         = "tier_change"
	ChangeStatus       = "status_change"
	ChangeCancellation = "cancellation"
)

// diffAccount lists what moved between two snapshots of an account.
func diffAccount(before, after models.BillingAccount) []string {
	var changes []string
	if entitlements.Normalize(before.Tier) != entitlements.Normalize(after.Tier) {
		changes = append(changes, ChangeTier)
	}
	if before.Status != after.Status {
		changes = append(changes, ChangeStatus)
	}
	if !before.CancelAtPeriodEnd && after.CancelAtPeriodEnd {
		changes = append(changes, ChangeCancellation)
	}
	return changes
}

// ParsePlanMappings reads "price_ref:tier" pairs separated by commas.
func ParsePlanMappings(raw string) ([]models.BillingPlanMapping, error) {
	var out []models.BillingPlanMapping
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ref, tier, ok := strings.Cut(part, ":")
		ref, tier = strings.TrimSpace(ref), strings.TrimSpace(tier)
		if !ok || ref == "" || tier == "" {
			return nil, fmt.Errorf("invalid plan mapping %q, want price_ref:tier", part)
		}
		plan := entitlements.Normalize(tier)
		if string(plan) != strings.ToLower(tier) {
			return nil, fmt.Errorf("unknown tier %q in plan mapping", tier)
		}
		out = append(out, models.BillingPlanMapping{PriceRef: ref, Tier: string(plan), IsActive: true})
	}
	return out, nil
}

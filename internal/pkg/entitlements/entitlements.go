package entitlements

import "strings"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanPremiumMax Plan = "premium_max"
)

// Allowance lists the paid features a plan unlocks.
type Allowance struct {
	GuidedPrograms   bool `json:"guided_programs"`
	OfflineDownloads bool `json:"offline_downloads"`
	CoachChat        bool `json:"coach_chat"`
}

// Allowed returns the feature set for a plan.
func Allowed(plan Plan) Allowance {
	switch plan {
	case PlanPremiumMax:
		return Allowance{GuidedPrograms: true, OfflineDownloads: true, CoachChat: true}
	case PlanPremium:
		return Allowance{GuidedPrograms: true, OfflineDownloads: true}
	default:
		return Allowance{}
	}
}

// Normalize maps free-form tier names onto a known plan; unknown names are free.
func Normalize(tier string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(tier))) {
	case PlanPremium:
		return PlanPremium
	case PlanPremiumMax:
		return PlanPremiumMax
	default:
		return PlanFree
	}
}

// Rank orders plans so the better one wins when several apply.
func Rank(plan Plan) int {
	switch plan {
	case PlanPremiumMax:
		return 2
	case PlanPremium:
		return 1
	default:
		return 0
	}
}

package plans

import "strings"

// Current tiers.
const (
	TierFree  = "free"
	TierPro   = "pro"
	TierUltra = "ultra"
)

// Legacy (pre-ledger) subscription plans. Only the migration job reads these.
const (
	LegacyEssential    = "essential"
	LegacyProfessional = "professional"
	LegacyAdvanced     = "advanced"
)

// paidTiers is ordered lowest first.
var paidTiers = []string{TierPro, TierUltra}

// NormalizeTier maps free-form input onto a known tier.
// Unknown values fall back to TierFree.
func NormalizeTier(s string) string {
	tier := strings.ToLower(strings.TrimSpace(s))
	switch tier {
	case TierPro, TierUltra:
		return tier
	default:
		return TierFree
	}
}

// LowestPaidTier is used when a purchased price is missing from the catalog.
func LowestPaidTier() string {
	return paidTiers[0]
}

func IsPaid(tier string) bool {
	for _, t := range paidTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func NormalizeLegacyPlan(s string) string {
	plan := strings.ToLower(strings.TrimSpace(s))
	switch plan {
	case LegacyEssential, LegacyProfessional, LegacyAdvanced:
		return plan
	}
	return ""
}

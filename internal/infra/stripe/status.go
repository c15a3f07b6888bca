package stripe

import (
	"strings"

	"promptforge/internal/domain/accounts"
)

// NormalizeStripeStatus maps a Stripe subscription status onto the account
// entitlement statuses.
func NormalizeStripeStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "active", "trialing":
		return accounts.StatusActive
	case "past_due", "incomplete":
		return accounts.StatusPastDue
	case "unpaid":
		return accounts.StatusUnpaid
	case "canceled", "incomplete_expired", "paused":
		return accounts.StatusCanceled
	default:
		return accounts.StatusPastDue
	}
}

package access

import (
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"
)

// Effective access for the balance view: full|limited|free
func ComputeEffectiveAccessState(now time.Time, a accounts.Account) AccessState {
	if !plans.IsPaid(a.Tier) {
		return AccessFree
	}

	switch a.Status {
	case accounts.StatusActive:
		if a.PeriodEnd == nil || now.Before(*a.PeriodEnd) {
			return AccessFull
		}
		// renewal not reconciled yet
		return AccessLimited

	case accounts.StatusPastDue, accounts.StatusUnpaid:
		return AccessLimited

	case accounts.StatusCanceled:
		// paid-through end date still honoured
		if a.PeriodEnd != nil && now.Before(*a.PeriodEnd) {
			return AccessFull
		}
		return AccessFree

	default:
		return AccessFree
	}
}

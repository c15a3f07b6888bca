package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptforge/internal/domain/accounts"
	ledgerdomain "promptforge/internal/domain/ledger"
	infrastripe "promptforge/internal/infra/stripe"

	"go.uber.org/zap"
)

// periodState is the subscription state carried by a checkout or renewal.
type periodState struct {
	SubscriptionID string
	PriceID        string
	Status         string
	Start          time.Time
	End            time.Time
}

// renewalKey is the secondary idempotency key for subscription grants. The
// initial checkout and the first invoice share it, so either order grants once.
func renewalKey(subscriptionID string, periodStart time.Time) string {
	return fmt.Sprintf("sub:%s:period:%d", subscriptionID, periodStart.Unix())
}

func (r *Reconciler) tierForPrice(priceID string) string {
	tier, ok := r.catalog.TierForPrice(priceID)
	if !ok {
		r.log.Warn("unknown subscription price, defaulting to lowest paid tier",
			zap.String("price_id", priceID), zap.String("tier", tier))
	}
	return tier
}

// applyPeriod updates the entitlement and, for an active period, resets the
// balance to the tier allotment.
func (r *Reconciler) applyPeriod(ctx context.Context, acct accounts.Account, p periodState) (Result, error) {
	if p.SubscriptionID == "" || p.Start.IsZero() {
		return ResultIgnored, fmt.Errorf("%w: subscription period missing", ErrMalformedEvent)
	}
	tier := r.tierForPrice(p.PriceID)
	allotment := r.catalog.Allotment(tier)
	status := infrastripe.NormalizeStripeStatus(p.Status)

	changed, err := r.accounts.UpdateEntitlement(ctx, acct.ID, accounts.Entitlement{
		Tier:             tier,
		Status:           status,
		MonthlyAllotment: allotment,
		SubscriptionID:   p.SubscriptionID,
		PeriodStart:      p.Start,
		PeriodEnd:        p.End,
	})
	if err != nil {
		return "", err
	}
	if !changed {
		// the account already reflects a later period
		return ResultDuplicate, nil
	}
	if status != accounts.StatusActive {
		return ResultApplied, nil
	}

	_, err = r.ledger.Set(ctx, acct.ID, allotment, ledgerdomain.ReasonSubscriptionGrant, renewalKey(p.SubscriptionID, p.Start))
	if errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
		return ResultDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return ResultApplied, nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

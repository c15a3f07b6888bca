package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"promptforge/internal/domain/accounts"
	infrastripe "promptforge/internal/infra/stripe"

	"github.com/stripe/stripe-go/v75"
)

// handleSubscriptionUpdated refreshes entitlement fields only. A tier change
// takes effect on the balance at the next renewal.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (Result, error) {
	sub, err := decodeSubscription(event)
	if err != nil {
		return ResultIgnored, err
	}
	priceID := subscriptionPrice(sub)
	if priceID == "" {
		return ResultIgnored, fmt.Errorf("%w: subscription %s has no price", ErrMalformedEvent, sub.ID)
	}

	acct, err := r.accountForSubscription(ctx, sub)
	if err != nil {
		return "", err
	}

	tier := r.tierForPrice(priceID)
	changed, err := r.accounts.UpdateEntitlement(ctx, acct.ID, accounts.Entitlement{
		Tier:             tier,
		Status:           infrastripe.NormalizeStripeStatus(string(sub.Status)),
		MonthlyAllotment: r.catalog.Allotment(tier),
		SubscriptionID:   sub.ID,
		PeriodStart:      unixTime(sub.CurrentPeriodStart),
		PeriodEnd:        unixTime(sub.CurrentPeriodEnd),
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return ResultDuplicate, nil
	}
	return ResultApplied, nil
}

// handleSubscriptionDeleted drops the account to free/canceled. Purchased
// tokens already on the balance stay.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (Result, error) {
	sub, err := decodeSubscription(event)
	if err != nil {
		return ResultIgnored, err
	}

	acct, err := r.accountForSubscription(ctx, sub)
	if err != nil {
		return "", err
	}

	endedAt := unixTime(sub.EndedAt)
	if endedAt.IsZero() {
		endedAt = unixTime(sub.CurrentPeriodEnd)
	}
	changed, err := r.accounts.CancelEntitlement(ctx, acct.ID, sub.ID, endedAt)
	if err != nil {
		return "", err
	}
	if !changed {
		return ResultIgnored, nil
	}
	return ResultApplied, nil
}

func decodeSubscription(event stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedEvent, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrMalformedEvent)
	}
	return &sub, nil
}

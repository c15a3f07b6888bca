package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"promptforge/internal/domain/billing"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/domain/plans"

	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm/clause"
)

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (Result, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ResultIgnored, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// async payment methods settle later with their own event
		return ResultIgnored, nil
	}

	accountID, err := accountIDFromRef(session.ClientReferenceID, session.Metadata)
	if err != nil {
		return ResultIgnored, err
	}
	acct, err := r.accountByID(ctx, accountID)
	if err != nil {
		return "", err
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		return r.applyPurchase(ctx, event.ID, acct.ID, &session)
	case stripe.CheckoutSessionModeSubscription:
		return r.applySubscriptionCheckout(ctx, event.ID, acct.ID, &session)
	default:
		return ResultIgnored, fmt.Errorf("%w: unsupported checkout mode %q", ErrMalformedEvent, session.Mode)
	}
}

// applyPurchase credits a one-time token package keyed by the event id.
func (r *Reconciler) applyPurchase(ctx context.Context, eventID string, accountID uint, session *stripe.CheckoutSession) (Result, error) {
	priceID, tokens, err := r.packageFor(session)
	if err != nil {
		return ResultIgnored, err
	}

	result := ResultApplied
	if _, err := r.ledger.Credit(ctx, accountID, tokens, ledgerdomain.ReasonPurchase, eventID); err != nil {
		if !errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
			return "", err
		}
		result = ResultDuplicate
	}

	if err := r.recordPayment(ctx, eventID, accountID, priceID, tokens, session); err != nil {
		return "", err
	}
	if err := r.assignCustomer(ctx, accountID, customerID(session.Customer)); err != nil {
		return "", err
	}
	return result, nil
}

func (r *Reconciler) packageFor(session *stripe.CheckoutSession) (string, int64, error) {
	priceID := ""
	if session.Metadata != nil {
		priceID = strings.TrimSpace(session.Metadata["price_id"])
		if raw := strings.TrimSpace(session.Metadata["tokens"]); raw != "" {
			tokens, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || tokens <= 0 {
				return "", 0, fmt.Errorf("%w: invalid tokens metadata %q", ErrMalformedEvent, raw)
			}
			return priceID, tokens, nil
		}
	}
	if p, ok := r.catalog.Price(priceID); ok && p.Mode == plans.ModePayment {
		return priceID, p.Tokens, nil
	}
	return "", 0, fmt.Errorf("%w: cannot determine package size for price %q", ErrMalformedEvent, priceID)
}

func (r *Reconciler) applySubscriptionCheckout(ctx context.Context, eventID string, accountID uint, session *stripe.CheckoutSession) (Result, error) {
	if session.Subscription == nil || session.Subscription.ID == "" {
		return ResultIgnored, fmt.Errorf("%w: checkout session missing subscription", ErrMalformedEvent)
	}
	sub, err := r.subs.Subscription(ctx, session.Subscription.ID)
	if err != nil {
		return "", fmt.Errorf("fetch subscription %s: %w", session.Subscription.ID, err)
	}

	if err := r.assignCustomer(ctx, accountID, customerID(session.Customer)); err != nil {
		return "", err
	}

	acct, err := r.accountByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	priceID := subscriptionPrice(sub)
	res, err := r.applyPeriod(ctx, acct, periodState{
		SubscriptionID: sub.ID,
		PriceID:        priceID,
		Status:         string(sub.Status),
		Start:          unixTime(sub.CurrentPeriodStart),
		End:            unixTime(sub.CurrentPeriodEnd),
	})
	if err != nil {
		return "", err
	}

	tier, _ := r.catalog.TierForPrice(priceID)
	if err := r.recordPayment(ctx, eventID, accountID, priceID, r.catalog.Allotment(tier), session); err != nil {
		return "", err
	}
	return res, nil
}

// recordPayment appends the purchase-history row once per checkout session.
func (r *Reconciler) recordPayment(ctx context.Context, eventID string, accountID uint, priceID string, tokens int64, session *stripe.CheckoutSession) error {
	payment := billing.Payment{
		AccountID:       accountID,
		StripeSessionID: session.ID,
		StripeEventID:   eventID,
		PriceID:         priceID,
		Mode:            string(session.Mode),
		Tokens:          tokens,
		AmountCents:     session.AmountTotal,
		Currency:        string(session.Currency),
		Status:          "paid",
	}
	if session.Subscription != nil && session.Subscription.ID != "" {
		payment.StripeSubscriptionID = stripe.String(session.Subscription.ID)
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "stripe_session_id"}}, DoNothing: true}).
		Create(&payment).Error
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

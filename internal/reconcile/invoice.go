package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v75"
)

// handleInvoicePaymentSucceeded resets the balance for a paid renewal.
// Renewals carry no account id, so the account is found by customer.
func (r *Reconciler) handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) (Result, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return ResultIgnored, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// one-off invoices carry no entitlement
		return ResultIgnored, nil
	}
	ref := customerID(inv.Customer)
	if ref == "" {
		return ResultIgnored, fmt.Errorf("%w: invoice %s has no customer", ErrMalformedEvent, inv.ID)
	}

	acct, err := r.accountByCustomer(ctx, ref)
	if err != nil {
		return "", err
	}

	p := periodState{
		SubscriptionID: inv.Subscription.ID,
		Status:         string(stripe.SubscriptionStatusActive),
		Start:          unixTime(inv.PeriodStart),
		End:            unixTime(inv.PeriodEnd),
	}
	if line := subscriptionLine(&inv); line != nil {
		if line.Price != nil {
			p.PriceID = line.Price.ID
		}
		if line.Period != nil && line.Period.Start > 0 {
			p.Start = unixTime(line.Period.Start)
			p.End = unixTime(line.Period.End)
		}
	}
	return r.applyPeriod(ctx, acct, p)
}

func subscriptionLine(inv *stripe.Invoice) *stripe.InvoiceLineItem {
	if inv.Lines == nil {
		return nil
	}
	for _, line := range inv.Lines.Data {
		if line != nil && line.Price != nil {
			return line
		}
	}
	return nil
}

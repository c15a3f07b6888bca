package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"promptforge/internal/domain/accounts"

	"github.com/stripe/stripe-go/v75"
)

// accountIDFromRef reads the account id embedded at checkout time:
// client_reference_id first, then metadata.account_id.
func accountIDFromRef(clientRef string, md map[string]string) (uint, error) {
	raw := strings.TrimSpace(clientRef)
	if raw == "" && md != nil {
		raw = strings.TrimSpace(md["account_id"])
	}
	if raw == "" {
		return 0, fmt.Errorf("%w: missing account id (client_reference_id or metadata.account_id)", ErrMalformedEvent)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid account id %q", ErrMalformedEvent, raw)
	}
	return uint(id), nil
}

func (r *Reconciler) accountByID(ctx context.Context, id uint) (accounts.Account, error) {
	acct, err := r.accounts.Get(ctx, id)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return accounts.Account{}, fmt.Errorf("%w: account %d", ErrUnresolvedAccount, id)
	}
	return acct, err
}

func (r *Reconciler) accountByCustomer(ctx context.Context, customerRef string) (accounts.Account, error) {
	acct, err := r.accounts.ByCustomerRef(ctx, customerRef)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return accounts.Account{}, fmt.Errorf("%w: customer %q", ErrUnresolvedAccount, customerRef)
	}
	return acct, err
}

// accountForSubscription tries metadata, then the customer reference, then
// the stored subscription id.
func (r *Reconciler) accountForSubscription(ctx context.Context, sub *stripe.Subscription) (accounts.Account, error) {
	if id, err := accountIDFromRef("", sub.Metadata); err == nil {
		acct, err := r.accounts.Get(ctx, id)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, accounts.ErrAccountNotFound) {
			return accounts.Account{}, err
		}
	}
	if ref := customerID(sub.Customer); ref != "" {
		acct, err := r.accounts.ByCustomerRef(ctx, ref)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, accounts.ErrAccountNotFound) {
			return accounts.Account{}, err
		}
	}
	acct, err := r.accounts.BySubscriptionID(ctx, sub.ID)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return accounts.Account{}, fmt.Errorf("%w: subscription %q", ErrUnresolvedAccount, sub.ID)
	}
	return acct, err
}

// assignCustomer records the provider's customer id. A conflicting id is
// logged and left alone.
func (r *Reconciler) assignCustomer(ctx context.Context, accountID uint, ref string) error {
	err := r.accounts.AssignCustomerRef(ctx, accountID, ref)
	if errors.Is(err, accounts.ErrCustomerRefConflict) {
		r.log.Warn("customer reference differs from the one on file, keeping existing")
		return nil
	}
	return err
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionPrice(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

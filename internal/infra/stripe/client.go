package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripego "github.com/stripe/stripe-go/v75"
	portalsession "github.com/stripe/stripe-go/v75/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
	"github.com/stripe/stripe-go/v75/customer"
	"github.com/stripe/stripe-go/v75/subscription"
)

var ErrNotConfigured = errors.New("stripe: secret key not configured")

// Client wraps the Stripe API calls made outside of webhook verification.
type Client struct {
	configured bool
	appEnv     string
}

func NewClient(secretKey, appEnv string) *Client {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey != "" {
		stripego.Key = secretKey
	}
	return &Client{configured: secretKey != "", appEnv: appEnv}
}

// Subscription fetches the current state of a subscription.
func (c *Client) Subscription(ctx context.Context, id string) (*stripego.Subscription, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *Client) CreateCustomer(ctx context.Context, accountID uint, email string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	params := &stripego.CustomerParams{
		Metadata: map[string]string{
			"account_id": fmt.Sprint(accountID),
			"app_env":    c.appEnv,
		},
	}
	if email != "" {
		params.Email = stripego.String(email)
	}
	params.Context = ctx
	cus, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

type CheckoutInput struct {
	AccountID  uint
	CustomerID string
	PriceID    string
	// Mode is "payment" for token packages and "subscription" for tiers.
	Mode       string
	Tokens     int64
	SuccessURL string
	CancelURL  string
}

func (c *Client) CreateCheckout(ctx context.Context, in CheckoutInput) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	accountID := fmt.Sprint(in.AccountID)
	metadata := map[string]string{
		"account_id": accountID,
		"price_id":   in.PriceID,
	}
	if in.Tokens > 0 {
		metadata["tokens"] = fmt.Sprint(in.Tokens)
	}

	params := &stripego.CheckoutSessionParams{
		SuccessURL: stripego.String(in.SuccessURL),
		CancelURL:  stripego.String(in.CancelURL),
		Mode:       stripego.String(in.Mode),
		Customer:   stripego.String(in.CustomerID),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{Price: stripego.String(in.PriceID), Quantity: stripego.Int64(1)},
		},
		ClientReferenceID: stripego.String(accountID),
		Metadata:          metadata,
	}
	if in.Mode == string(stripego.CheckoutSessionModeSubscription) {
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"account_id": accountID},
		}
	}
	params.Context = ctx

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return s.URL, nil
}

func (c *Client) BillingPortal(ctx context.Context, customerID, returnURL string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	params := &stripego.BillingPortalSessionParams{
		Customer:  stripego.String(customerID),
		ReturnURL: stripego.String(returnURL),
	}
	params.Context = ctx
	portal, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return portal.URL, nil
}

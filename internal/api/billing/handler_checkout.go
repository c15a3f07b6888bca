package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"promptforge/internal/app/http/middleware"
	"promptforge/internal/domain/accounts"
	infrastripe "promptforge/internal/infra/stripe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CreateCheckout starts a Stripe checkout for a catalog price: a token
// package in payment mode or a tier in subscription mode.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var body struct {
		PriceID string `json:"price_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.PriceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid price_id"})
		return
	}

	accountID := middleware.AccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	price, ok := h.catalog.Price(body.PriceID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown price_id"})
		return
	}

	ctx := c.Request.Context()
	acct, err := h.bootstrap.EnsureAccount(ctx, accountID, h.signupGrant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}

	customerID, err := h.ensureCustomer(ctx, acct)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	url, err := h.stripe.CreateCheckout(ctx, infrastripe.CheckoutInput{
		AccountID:  accountID,
		CustomerID: customerID,
		PriceID:    price.ID,
		Mode:       price.Mode,
		Tokens:     price.Tokens,
		SuccessURL: h.appURL + "/account",
		CancelURL:  h.appURL + "/account?canceled=1",
	})
	if err != nil {
		h.log.Error("create checkout session", zap.Uint("account_id", accountID), zap.Error(err))
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ensureCustomer returns the account's Stripe customer, creating it once.
// If a concurrent request stored one first, that one wins.
func (h *Handler) ensureCustomer(ctx context.Context, acct accounts.Account) (string, error) {
	if ref := acct.CustomerRef(); ref != "" {
		return ref, nil
	}
	ref, err := h.stripe.CreateCustomer(ctx, acct.ID, "")
	if err != nil {
		return "", err
	}
	err = h.store.AssignCustomerRef(ctx, acct.ID, ref)
	if errors.Is(err, accounts.ErrCustomerRefConflict) {
		current, err := h.store.Get(ctx, acct.ID)
		if err != nil {
			return "", err
		}
		return current.CustomerRef(), nil
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (h *Handler) BillingPortal(c *gin.Context) {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not identified"})
		return
	}

	acct, err := h.store.Get(c.Request.Context(), accountID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if acct.CustomerRef() == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "No Stripe customer yet (buy or subscribe first)"})
		return
	}

	url, err := h.stripe.BillingPortal(c.Request.Context(), acct.CustomerRef(), h.appURL+"/account")
	if err != nil {
		h.log.Error("create billing portal session", zap.Uint("account_id", accountID), zap.Error(err))
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

package billing

import (
	"context"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"
	infrastripe "promptforge/internal/infra/stripe"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StripeClient interface {
	CreateCustomer(ctx context.Context, accountID uint, email string) (string, error)
	CreateCheckout(ctx context.Context, in infrastripe.CheckoutInput) (string, error)
	BillingPortal(ctx context.Context, customerID, returnURL string) (string, error)
}

type AccountStore interface {
	Get(ctx context.Context, id uint) (accounts.Account, error)
	AssignCustomerRef(ctx context.Context, id uint, ref string) error
}

type AccountBootstrapper interface {
	EnsureAccount(ctx context.Context, accountID uint, signupGrant int64) (accounts.Account, error)
}

type Handler struct {
	db          *gorm.DB
	stripe      StripeClient
	store       AccountStore
	bootstrap   AccountBootstrapper
	catalog     plans.Catalog
	appURL      string
	signupGrant int64
	log         *zap.Logger
}

type Config struct {
	AppURL      string
	SignupGrant int64
}

func NewHandler(db *gorm.DB, stripe StripeClient, store AccountStore, bootstrap AccountBootstrapper, catalog plans.Catalog, cfg Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	appURL := cfg.AppURL
	if appURL == "" {
		appURL = "http://localhost:5173"
	}
	return &Handler{
		db:          db,
		stripe:      stripe,
		store:       store,
		bootstrap:   bootstrap,
		catalog:     catalog,
		appURL:      appURL,
		signupGrant: cfg.SignupGrant,
		log:         log.Named("billing"),
	}
}

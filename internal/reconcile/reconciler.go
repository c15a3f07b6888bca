package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"promptforge/internal/domain/accounts"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/domain/plans"
	"promptforge/internal/infra/metrics"

	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
)

// Ledger is the subset of the ledger writer the reconciler drives.
type Ledger interface {
	Credit(ctx context.Context, accountID uint, amount int64, reason ledgerdomain.Reason, correlationID string) (int64, error)
	Set(ctx context.Context, accountID uint, target int64, reason ledgerdomain.Reason, correlationID string) (int64, error)
}

type AccountStore interface {
	Get(ctx context.Context, id uint) (accounts.Account, error)
	ByCustomerRef(ctx context.Context, ref string) (accounts.Account, error)
	BySubscriptionID(ctx context.Context, subscriptionID string) (accounts.Account, error)
	AssignCustomerRef(ctx context.Context, id uint, ref string) error
	UpdateEntitlement(ctx context.Context, id uint, e accounts.Entitlement) (bool, error)
	CancelEntitlement(ctx context.Context, id uint, subscriptionID string, endedAt time.Time) (bool, error)
}

// SubscriptionSource fetches live subscription state from the provider.
type SubscriptionSource interface {
	Subscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// HandlerFunc reconciles one event variant.
type HandlerFunc func(ctx context.Context, event stripe.Event) (Result, error)

// Reconciler turns payment provider events into ledger and entitlement
// mutations. Each event type maps to one handler with its own idempotency key.
type Reconciler struct {
	db       *gorm.DB
	ledger   Ledger
	accounts AccountStore
	subs     SubscriptionSource
	catalog  plans.Catalog
	log      *zap.Logger
	metrics  *metrics.Metrics
	handlers map[string]HandlerFunc
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(db *gorm.DB, ledger Ledger, store AccountStore, subs SubscriptionSource, catalog plans.Catalog, log *zap.Logger, opts ...Option) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconciler{
		db:       db,
		ledger:   ledger,
		accounts: store,
		subs:     subs,
		catalog:  catalog,
		log:      log.Named("reconcile"),
	}
	r.handlers = map[string]HandlerFunc{
		"checkout.session.completed":               r.handleCheckoutCompleted,
		"checkout.session.async_payment_succeeded": r.handleCheckoutCompleted,
		"invoice.payment_succeeded":                r.handleInvoicePaymentSucceeded,
		"customer.subscription.updated":            r.handleSubscriptionUpdated,
		"customer.subscription.deleted":            r.handleSubscriptionDeleted,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the handler for an event type.
func (r *Reconciler) Register(eventType string, h HandlerFunc) {
	r.handlers[eventType] = h
}

// Handle reconciles one verified event. A nil error means the effects are
// durable (or were already applied).
func (r *Reconciler) Handle(ctx context.Context, event stripe.Event) (Result, error) {
	eventType := string(event.Type)
	log := r.log.With(zap.String("event_id", event.ID), zap.String("event_type", eventType))

	h, ok := r.handlers[eventType]
	if !ok {
		r.metrics.RecordWebhookEvent(eventType, string(ResultIgnored))
		log.Debug("event type not handled")
		return ResultIgnored, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if event.ID == "" || event.Data == nil || len(event.Data.Raw) == 0 {
		r.metrics.RecordWebhookEvent(eventType, "malformed")
		log.Warn("event without id or payload dropped")
		return ResultIgnored, fmt.Errorf("%w: missing id or data", ErrMalformedEvent)
	}

	res, err := h(ctx, event)
	switch {
	case err == nil && res == ResultDuplicate:
		r.metrics.RecordWebhookEvent(eventType, string(res))
		log.Info("duplicate event ignored")
	case err == nil:
		r.metrics.RecordWebhookEvent(eventType, string(res))
		log.Info("event reconciled", zap.String("result", string(res)))
	case IsPermanent(err):
		r.metrics.RecordWebhookEvent(eventType, "malformed")
		log.Warn("event dropped", zap.Error(err))
	case errors.Is(err, ErrUnresolvedAccount):
		r.metrics.RecordWebhookEvent(eventType, "unresolved")
		log.Warn("account not resolvable yet, asking for redelivery", zap.Error(err))
	default:
		r.metrics.RecordWebhookEvent(eventType, "error")
		log.Error("event reconciliation failed", zap.Error(err))
	}
	return res, err
}

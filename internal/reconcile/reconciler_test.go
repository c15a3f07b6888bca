package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	accountstore "promptforge/internal/accounts"
	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/plans"
	"promptforge/internal/ledger"
	"promptforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var (
	periodOne   = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodTwo   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodThree = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

type fakeSubscriptions struct {
	subs map[string]*stripe.Subscription
	err  error
}

func (f *fakeSubscriptions) Subscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

type fixture struct {
	db     *gorm.DB
	writer *ledger.Writer
	store  *accountstore.Store
	subs   *fakeSubscriptions
	rec    *Reconciler
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenTestDB(t)
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)
	writer := ledger.NewWriter(db, zap.NewNop())
	store := accountstore.NewStore(db)
	subs := &fakeSubscriptions{subs: map[string]*stripe.Subscription{}}
	return &fixture{
		db:     db,
		writer: writer,
		store:  store,
		subs:   subs,
		rec:    New(db, writer, store, subs, plans.DefaultCatalog(), log),
		logs:   logs,
	}
}

func makeEvent(t *testing.T, id, eventType string, object map[string]interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	var ev stripe.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func purchaseSession(accountRef string) map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_pay_1",
		"object":              "checkout.session",
		"mode":                "payment",
		"payment_status":      "paid",
		"client_reference_id": accountRef,
		"customer":            "cus_1",
		"amount_total":        500,
		"currency":            "usd",
		"metadata":            map[string]string{"price_id": "price_tokens_50", "tokens": "50"},
	}
}

func subscriptionObject(id, priceID, status string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"customer":             "cus_1",
		"current_period_start": start.Unix(),
		"current_period_end":   end.Unix(),
		"metadata":             map[string]string{"account_id": "1"},
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{"id": "si_1", "object": "subscription_item", "price": map[string]interface{}{"id": priceID, "object": "price"}},
			},
		},
	}
}

func (f *fixture) addSubscription(t *testing.T, id, priceID string, start, end time.Time) {
	t.Helper()
	raw, err := json.Marshal(subscriptionObject(id, priceID, "active", start, end))
	require.NoError(t, err)
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal(raw, &sub))
	f.subs.subs[id] = &sub
}

func invoiceObject(id, subID, priceID string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"object":       "invoice",
		"customer":     "cus_1",
		"subscription": subID,
		"period_start": start.Add(-24 * time.Hour).Unix(),
		"period_end":   start.Unix(),
		"lines": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":     "il_" + id,
					"object": "line_item",
					"price":  map[string]interface{}{"id": priceID, "object": "price"},
					"period": map[string]interface{}{"start": start.Unix(), "end": end.Unix()},
				},
			},
		},
	}
}

func subscriptionCheckout() map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_sub_1",
		"object":              "checkout.session",
		"mode":                "subscription",
		"payment_status":      "paid",
		"client_reference_id": "1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"amount_total":        1500,
		"currency":            "usd",
	}
}

func (f *fixture) balance(t *testing.T, id uint) int64 {
	t.Helper()
	b, err := f.writer.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestPurchaseCreditsOnceOnDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 5})
	ctx := context.Background()
	ev := makeEvent(t, "evt_pay_1", "checkout.session.completed", purchaseSession("1"))

	res, err := f.rec.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	res, err = f.rec.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)

	assert.Equal(t, int64(55), f.balance(t, 1))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM ledger_entries WHERE correlation_id = ?", "evt_pay_1"))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM payments WHERE account_id = ?", 1))
	assert.Equal(t, 1, f.logs.FilterMessage("duplicate event ignored").Len())

	acct, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", acct.CustomerRef())
}

func TestPurchaseFallsBackToCatalogPackage(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1})
	session := purchaseSession("1")
	session["metadata"] = map[string]string{"price_id": "price_tokens_250"}

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_pay_2", "checkout.session.completed", session))
	require.NoError(t, err)
	assert.Equal(t, int64(250), f.balance(t, 1))
}

func TestPurchaseForUnknownAccountIsRetryable(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_pay_3", "checkout.session.completed", purchaseSession("9")))
	require.ErrorIs(t, err, ErrUnresolvedAccount)
	assert.False(t, IsPermanent(err))
}

func TestPurchaseWithoutAccountReferenceIsPermanent(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_pay_4", "checkout.session.completed", purchaseSession("")))
	require.ErrorIs(t, err, ErrMalformedEvent)
	assert.True(t, IsPermanent(err))
}

func TestUnpaidCheckoutIsIgnored(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1})
	session := purchaseSession("1")
	session["payment_status"] = "unpaid"

	res, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_pay_5", "checkout.session.completed", session))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)
	assert.Equal(t, int64(0), f.balance(t, 1))
}

func TestSubscriptionCheckoutSetsEntitlementAndAllotment(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 3})
	f.addSubscription(t, "sub_1", "price_ultra_monthly", periodOne, periodTwo)
	ctx := context.Background()

	res, err := f.rec.Handle(ctx, makeEvent(t, "evt_sub_1", "checkout.session.completed", subscriptionCheckout()))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	acct, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierUltra, acct.Tier)
	assert.Equal(t, accounts.StatusActive, acct.Status)
	assert.Equal(t, int64(1000), acct.MonthlyAllotment)
	assert.Equal(t, int64(1000), acct.Balance)
	assert.Equal(t, "cus_1", acct.CustomerRef())
	require.NotNil(t, acct.PeriodEnd)
	assert.True(t, acct.PeriodEnd.Equal(periodTwo))
}

func TestSubscriptionCheckoutFetchFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1})
	f.subs.err = errors.New("stripe unavailable")

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_sub_2", "checkout.session.completed", subscriptionCheckout()))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestUnknownPriceDefaultsToLowestPaidTierWithWarning(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1})
	f.addSubscription(t, "sub_1", "price_mystery", periodOne, periodTwo)

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_sub_3", "checkout.session.completed", subscriptionCheckout()))
	require.NoError(t, err)

	acct, err := f.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierPro, acct.Tier)
	assert.Equal(t, int64(200), acct.Balance)

	warnings := f.logs.FilterMessage("unknown subscription price, defaulting to lowest paid tier").All()
	require.NotEmpty(t, warnings)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
}

func TestInvoiceBeforeCheckoutGrantsOnce(t *testing.T) {
	f := newFixture(t)
	cus := "cus_1"
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, StripeCustomerID: &cus})
	f.addSubscription(t, "sub_1", "price_pro_monthly", periodOne, periodTwo)
	ctx := context.Background()

	res, err := f.rec.Handle(ctx, makeEvent(t, "evt_inv_1", "invoice.payment_succeeded", invoiceObject("in_1", "sub_1", "price_pro_monthly", periodOne, periodTwo)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)
	assert.Equal(t, int64(200), f.balance(t, 1))

	_, err = f.writer.Debit(ctx, 1, 5)
	require.NoError(t, err)

	res, err = f.rec.Handle(ctx, makeEvent(t, "evt_sub_4", "checkout.session.completed", subscriptionCheckout()))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Equal(t, int64(195), f.balance(t, 1))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM ledger_entries WHERE reason = ?", "subscription_grant"))
}

// deliverConcurrently hands every event to the reconciler at the same moment
// and returns the results in input order.
func deliverConcurrently(t *testing.T, rec *Reconciler, events ...stripe.Event) []Result {
	t.Helper()
	results := make([]Result, len(events))
	errs := make([]error, len(events))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = rec.Handle(context.Background(), ev)
		}()
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "delivery %d", i)
	}
	return results
}

func countResult(results []Result, want Result) int {
	n := 0
	for _, r := range results {
		if r == want {
			n++
		}
	}
	return n
}

func TestConcurrentPurchaseDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 5})
	ev := makeEvent(t, "evt_pay_9", "checkout.session.completed", purchaseSession("1"))

	results := deliverConcurrently(t, f.rec, ev, ev, ev, ev)

	assert.Equal(t, 1, countResult(results, ResultApplied))
	assert.Equal(t, 3, countResult(results, ResultDuplicate))
	assert.Equal(t, int64(55), f.balance(t, 1))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM ledger_entries WHERE correlation_id = ?", "evt_pay_9"))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM payments WHERE account_id = ?", 1))
}

func TestConcurrentCheckoutAndFirstInvoiceGrantOnce(t *testing.T) {
	f := newFixture(t)
	cus := "cus_1"
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 3, StripeCustomerID: &cus})
	f.addSubscription(t, "sub_1", "price_ultra_monthly", periodOne, periodTwo)

	checkout := makeEvent(t, "evt_sub_9", "checkout.session.completed", subscriptionCheckout())
	invoice := makeEvent(t, "evt_inv_9", "invoice.payment_succeeded", invoiceObject("in_9", "sub_1", "price_ultra_monthly", periodOne, periodTwo))

	results := deliverConcurrently(t, f.rec, checkout, checkout, invoice)

	assert.Equal(t, 1, countResult(results, ResultApplied))
	assert.Equal(t, 2, countResult(results, ResultDuplicate))
	assert.Equal(t, int64(1000), f.balance(t, 1))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM ledger_entries WHERE reason = ?", "subscription_grant"))

	acct, err := f.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierUltra, acct.Tier)
}

func TestRenewalResetsBalanceAndStaleInvoiceIsIgnored(t *testing.T) {
	f := newFixture(t)
	cus := "cus_1"
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, StripeCustomerID: &cus})
	ctx := context.Background()

	_, err := f.rec.Handle(ctx, makeEvent(t, "evt_inv_1", "invoice.payment_succeeded", invoiceObject("in_1", "sub_1", "price_pro_monthly", periodOne, periodTwo)))
	require.NoError(t, err)
	_, err = f.writer.Debit(ctx, 1, 150)
	require.NoError(t, err)

	// renewal arrives before a redelivery of the first invoice
	res, err := f.rec.Handle(ctx, makeEvent(t, "evt_inv_2", "invoice.payment_succeeded", invoiceObject("in_2", "sub_1", "price_pro_monthly", periodTwo, periodThree)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)
	assert.Equal(t, int64(200), f.balance(t, 1))

	_, err = f.writer.Debit(ctx, 1, 10)
	require.NoError(t, err)

	res, err = f.rec.Handle(ctx, makeEvent(t, "evt_inv_1_late", "invoice.payment_succeeded", invoiceObject("in_1", "sub_1", "price_pro_monthly", periodOne, periodTwo)))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Equal(t, int64(190), f.balance(t, 1))
}

func TestInvoiceForUnknownCustomerIsRetryable(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_inv_3", "invoice.payment_succeeded", invoiceObject("in_3", "sub_1", "price_pro_monthly", periodOne, periodTwo)))
	require.ErrorIs(t, err, ErrUnresolvedAccount)
}

func TestInvoiceWithoutSubscriptionIsIgnored(t *testing.T) {
	f := newFixture(t)
	inv := invoiceObject("in_4", "", "price_pro_monthly", periodOne, periodTwo)
	delete(inv, "subscription")

	res, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_inv_4", "invoice.payment_succeeded", inv))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)
}

func TestSubscriptionUpdatedChangesEntitlementOnly(t *testing.T) {
	f := newFixture(t)
	sub := "sub_1"
	start := periodOne
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 120, Tier: plans.TierPro, MonthlyAllotment: 200, SubscriptionID: &sub, PeriodStart: &start})
	ctx := context.Background()

	res, err := f.rec.Handle(ctx, makeEvent(t, "evt_upd_1", "customer.subscription.updated", subscriptionObject("sub_1", "price_ultra_monthly", "past_due", periodOne, periodTwo)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	acct, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierUltra, acct.Tier)
	assert.Equal(t, accounts.StatusPastDue, acct.Status)
	assert.Equal(t, int64(1000), acct.MonthlyAllotment)
	assert.Equal(t, int64(120), acct.Balance)
	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, "SELECT COUNT(*) FROM ledger_entries"))
}

func TestSubscriptionDeletedKeepsPurchasedTokens(t *testing.T) {
	f := newFixture(t)
	sub := "sub_1"
	testutil.SeedAccount(t, f.db, accounts.Account{ID: 1, Balance: 80, Tier: plans.TierUltra, MonthlyAllotment: 1000, SubscriptionID: &sub})
	ctx := context.Background()

	res, err := f.rec.Handle(ctx, makeEvent(t, "evt_del_1", "customer.subscription.deleted", subscriptionObject("sub_1", "price_ultra_monthly", "canceled", periodOne, periodTwo)))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res)

	acct, err := f.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, plans.TierFree, acct.Tier)
	assert.Equal(t, accounts.StatusCanceled, acct.Status)
	assert.Equal(t, int64(0), acct.MonthlyAllotment)
	assert.Equal(t, int64(80), acct.Balance)
}

func TestSubscriptionEventForUnknownAccountIsRetryable(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_del_2", "customer.subscription.deleted", subscriptionObject("sub_9", "price_pro_monthly", "canceled", periodOne, periodTwo)))
	require.ErrorIs(t, err, ErrUnresolvedAccount)
}

func TestUnknownEventTypeIsPermanent(t *testing.T) {
	f := newFixture(t)

	res, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_x", "customer.created", map[string]interface{}{"id": "cus_1"}))
	require.ErrorIs(t, err, ErrUnknownEventType)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, ResultIgnored, res)
}

func TestRegisterAddsHandler(t *testing.T) {
	f := newFixture(t)
	called := false
	f.rec.Register("customer.created", func(ctx context.Context, event stripe.Event) (Result, error) {
		called = true
		return ResultApplied, nil
	})

	res, err := f.rec.Handle(context.Background(), makeEvent(t, "evt_y", "customer.created", map[string]interface{}{"id": "cus_1"}))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, ResultApplied, res)
}

package stripewebhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promptforge/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

type fakeReconciler struct {
	result reconcile.Result
	err    error
	events []stripe.Event
}

func (f *fakeReconciler) Handle(_ context.Context, event stripe.Event) (reconcile.Result, error) {
	f.events = append(f.events, event)
	return f.result, f.err
}

func signature(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts.Unix())))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

var eventPayload = []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`)

func post(t *testing.T, h *Handler, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAppliesVerifiedEvent(t *testing.T) {
	rec := &fakeReconciler{result: reconcile.ResultApplied}
	h := NewHandler(rec, webhookSecret, zap.NewNop())

	w := post(t, h, eventPayload, signature(eventPayload, webhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"applied"}`, w.Body.String())
	require.Len(t, rec.events, 1)
	assert.Equal(t, "evt_1", rec.events[0].ID)
	assert.Equal(t, "checkout.session.completed", string(rec.events[0].Type))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewHandler(rec, webhookSecret, zap.NewNop())

	w := post(t, h, eventPayload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, h, eventPayload, signature(eventPayload, "whsec_other", time.Now()))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, h, eventPayload, signature(eventPayload, webhookSecret, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, rec.events)
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"permanent", fmt.Errorf("%w: bad", reconcile.ErrMalformedEvent), http.StatusOK},
		{"unknown type", reconcile.ErrUnknownEventType, http.StatusOK},
		{"unresolved", fmt.Errorf("%w: customer", reconcile.ErrUnresolvedAccount), http.StatusServiceUnavailable},
		{"storage", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&fakeReconciler{err: tc.err}, webhookSecret, zap.NewNop())
			w := post(t, h, eventPayload, signature(eventPayload, webhookSecret, time.Now()))
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestWebhookWithoutSecret(t *testing.T) {
	h := NewHandler(&fakeReconciler{}, "", zap.NewNop())
	w := post(t, h, eventPayload, "t=1,v1=00")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

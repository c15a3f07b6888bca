package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"promptforge/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
)

const maxBodyBytes = 65536

type Reconciler interface {
	Handle(ctx context.Context, event stripe.Event) (reconcile.Result, error)
}

type Handler struct {
	rec    Reconciler
	secret string
	log    *zap.Logger
}

func NewHandler(rec Reconciler, endpointSecret string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{rec: rec, secret: endpointSecret, log: log.Named("webhook")}
}

// Handle verifies the Stripe signature, reconciles the event and answers 2xx
// only once its effects are stored. Transient failures answer non-2xx so
// Stripe redelivers; permanent ones are acknowledged and dropped.
func (h *Handler) Handle(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.log.Warn("stripe signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	res, err := h.rec.Handle(c.Request.Context(), event)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": string(res)})
	case reconcile.IsPermanent(err):
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case errors.Is(err, reconcile.ErrUnresolvedAccount):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Account not resolvable yet"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event processing failed"})
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}

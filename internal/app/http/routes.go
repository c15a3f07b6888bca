package routes

import (
	"net/http"

	adminapi "promptforge/internal/api/admin"
	balanceapi "promptforge/internal/api/balance"
	"promptforge/internal/api/billing"
	"promptforge/internal/api/generations"
	"promptforge/internal/api/plans"
	stripewebhooks "promptforge/internal/api/stripewebhook"
	"promptforge/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Webhook     *stripewebhooks.Handler
	Generations *generations.Handler
	Balance     *balanceapi.Handler
	Billing     *billing.Handler
	Plans       *plans.Handler
	Admin       *adminapi.Handler
}

type Options struct {
	JWTSecret   string
	AdminSecret string
	Gatherer    prometheus.Gatherer
}

func RegisterRoutes(r *gin.Engine, h Handlers, opts Options) {
	// the webhook body must reach signature verification byte for byte
	r.POST("/webhook", h.Webhook.Handle)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/plans", h.Plans.List)

	// Sign-in optional: without an account every slot reports needs_auth
	gen := r.Group("/generations")
	// prompts go to the generator verbatim; slot labels are still cleaned
	gen.Use(middleware.OptionalAuth(opts.JWTSecret), middleware.SanitizeAndCleanInputMiddleware("prompt"))
	gen.POST("", h.Generations.Submit)
	gen.POST("/:id/slots/:index/regenerate", h.Generations.Regenerate)
	gen.POST("/:id/chaos", h.Generations.Chaos)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(opts.JWTSecret))
	auth.GET("/generations/:id", h.Generations.Get)
	auth.POST("/generations/:id/slots", middleware.SanitizeAndCleanInputMiddleware(), h.Generations.AddSlot)
	auth.DELETE("/generations/:id/slots/:index", h.Generations.DropSlot)

	auth.GET("/balance", h.Balance.Get)
	auth.GET("/balance/ledger", h.Balance.Entries)

	auth.GET("/payments", h.Billing.PaymentHistory)
	auth.POST("/billing/checkout", h.Billing.CreateCheckout)
	auth.POST("/billing-portal", h.Billing.BillingPortal)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.RequireAdminSecret(opts.AdminSecret))
	admin.GET("/migration", h.Admin.MigrationStatus)
	admin.POST("/migration", h.Admin.RunMigration)
	admin.GET("/payments", h.Admin.ListAllPayments)
}

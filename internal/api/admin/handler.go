package admin

import (
	"context"
	"net/http"
	"time"

	"promptforge/internal/accounts"
	"promptforge/internal/domain/billing"
	"promptforge/internal/migration"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MigrationJob interface {
	Run(ctx context.Context) (migration.Result, error)
	Status(ctx context.Context) (accounts.MigrationSummary, error)
}

type Handler struct {
	db  *gorm.DB
	job MigrationJob
	log *zap.Logger
}

func NewHandler(db *gorm.DB, job MigrationJob, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, job: job, log: log.Named("admin")}
}

func (h *Handler) MigrationStatus(c *gin.Context) {
	sum, err := h.job.Status(c.Request.Context())
	if err != nil {
		h.log.Error("migration status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load migration status"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// RunMigration executes the job. It is safe to call repeatedly; a run after
// a complete one reports zero migrated accounts.
func (h *Handler) RunMigration(c *gin.Context) {
	// the run outlives a dropped admin connection
	res, err := h.job.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.log.Error("migration run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Migration failed", "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

type AdminPayment struct {
	ID          uint   `json:"id"`
	AccountID   uint   `json:"account_id"`
	PriceID     string `json:"price_id"`
	Mode        string `json:"mode"`
	Tokens      int64  `json:"tokens"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handler) ListAllPayments(c *gin.Context) {
	var payments []billing.Payment
	if err := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Limit(500).Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	out := make([]AdminPayment, 0, len(payments))
	for _, p := range payments {
		out = append(out, AdminPayment{
			ID:          p.ID,
			AccountID:   p.AccountID,
			PriceID:     p.PriceID,
			Mode:        p.Mode,
			Tokens:      p.Tokens,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

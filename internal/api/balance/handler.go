package balance

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"promptforge/internal/app/http/middleware"
	"promptforge/internal/domain/access"
	"promptforge/internal/domain/accounts"
	ledgerdomain "promptforge/internal/domain/ledger"

	"github.com/gin-gonic/gin"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

type Ledger interface {
	EnsureAccount(ctx context.Context, accountID uint, signupGrant int64) (accounts.Account, error)
	Entries(ctx context.Context, accountID uint, limit int) ([]ledgerdomain.Entry, error)
}

type Handler struct {
	ledger      Ledger
	signupGrant int64
	now         func() time.Time
}

func NewHandler(ledger Ledger, signupGrant int64) *Handler {
	return &Handler{ledger: ledger, signupGrant: signupGrant, now: time.Now}
}

type balanceResponse struct {
	Balance          int64         `json:"balance"`
	Tier             string        `json:"tier"`
	Status           string        `json:"status"`
	MonthlyAllotment int64         `json:"monthly_allotment"`
	PeriodStart      *time.Time    `json:"period_start,omitempty"`
	PeriodEnd        *time.Time    `json:"period_end,omitempty"`
	Access           access.Policy `json:"access"`
}

func (h *Handler) Get(c *gin.Context) {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	acct, err := h.ledger.EnsureAccount(c.Request.Context(), accountID, h.signupGrant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		Balance:          acct.Balance,
		Tier:             acct.Tier,
		Status:           acct.Status,
		MonthlyAllotment: acct.MonthlyAllotment,
		PeriodStart:      acct.PeriodStart,
		PeriodEnd:        acct.PeriodEnd,
		Access:           access.ComputePolicy(h.now(), acct),
	})
}

type entryDTO struct {
	Delta         int64     `json:"delta"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Entries lists the most recent ledger entries, newest first.
func (h *Handler) Entries(c *gin.Context) {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit := defaultLedgerLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	entries, err := h.ledger.Entries(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ledger"})
		return
	}

	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{
			Delta:         e.Delta,
			Reason:        string(e.Reason),
			CorrelationID: e.CorrelationID,
			BalanceAfter:  e.BalanceAfter,
			CreatedAt:     e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

package generations

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"promptforge/internal/app/http/middleware"
	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/generation"
	"promptforge/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Orchestrator interface {
	Submit(ctx context.Context, accountID uint, prompt string, specs []orchestrator.SlotSpec) (generation.Request, <-chan generation.Outcome, error)
	Regenerate(ctx context.Context, accountID uint, requestID string, index int) (generation.Outcome, error)
	Chaos(ctx context.Context, accountID uint, requestID string) ([]generation.Outcome, error)
	AddSlot(ctx context.Context, accountID uint, requestID string, spec orchestrator.SlotSpec) (generation.SlotConfig, error)
	DropSlot(ctx context.Context, accountID uint, requestID string, index int) error
	Load(ctx context.Context, accountID uint, requestID string) (generation.Request, error)
}

// Accounts bootstraps accounts on first contact and reads balances.
type Accounts interface {
	EnsureAccount(ctx context.Context, accountID uint, signupGrant int64) (accounts.Account, error)
	Balance(ctx context.Context, accountID uint) (int64, error)
}

type Handler struct {
	orch        Orchestrator
	accounts    Accounts
	signupGrant int64
	log         *zap.Logger
}

func NewHandler(orch Orchestrator, accts Accounts, signupGrant int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{orch: orch, accounts: accts, signupGrant: signupGrant, log: log.Named("generations")}
}

type submitRequest struct {
	Prompt string                  `json:"prompt" binding:"required"`
	Slots  []orchestrator.SlotSpec `json:"slots" binding:"required"`
}

// Submit starts a generation request. With "Accept: text/event-stream" the
// outcomes are streamed as they settle; otherwise they are returned together.
func (h *Handler) Submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt and slots are required"})
		return
	}

	ctx := c.Request.Context()
	accountID := middleware.AccountID(c)
	if accountID != 0 {
		if _, err := h.accounts.EnsureAccount(ctx, accountID, h.signupGrant); err != nil {
			h.log.Error("ensure account", zap.Uint("account_id", accountID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
	}

	req, outcomes, err := h.orch.Submit(ctx, accountID, body.Prompt, body.Slots)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if wantsStream(c) {
		h.stream(c, accountID, req.ID, outcomes)
		return
	}

	collected := make([]generation.Outcome, 0, len(body.Slots))
	for o := range outcomes {
		collected = append(collected, o)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].Index < collected[j].Index })

	c.JSON(statusFor(collected), gin.H{
		"request_id": req.ID,
		"outcomes":   toOutcomeDTOs(collected),
		"remaining":  h.remaining(ctx, accountID),
	})
}

func (h *Handler) stream(c *gin.Context, accountID uint, requestID string, outcomes <-chan generation.Outcome) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			// client left; the run finishes in the background
			return
		case o, ok := <-outcomes:
			if !ok {
				c.SSEvent("done", gin.H{
					"request_id": requestID,
					"remaining":  h.remaining(ctx, accountID),
				})
				c.Writer.Flush()
				return
			}
			c.SSEvent("outcome", toOutcomeDTO(o))
			c.Writer.Flush()
		}
	}
}

func (h *Handler) Regenerate(c *gin.Context) {
	index, ok := slotIndex(c)
	if !ok {
		return
	}
	accountID := middleware.AccountID(c)

	out, err := h.orch.Regenerate(c.Request.Context(), accountID, c.Param("id"), index)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(statusFor([]generation.Outcome{out}), gin.H{
		"outcome":   toOutcomeDTO(out),
		"remaining": h.remaining(c.Request.Context(), accountID),
	})
}

func (h *Handler) Chaos(c *gin.Context) {
	accountID := middleware.AccountID(c)

	outs, err := h.orch.Chaos(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(statusFor(outs), gin.H{
		"outcomes":  toOutcomeDTOs(outs),
		"remaining": h.remaining(c.Request.Context(), accountID),
	})
}

func (h *Handler) AddSlot(c *gin.Context) {
	var spec orchestrator.SlotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slot"})
		return
	}
	slot, err := h.orch.AddSlot(c.Request.Context(), middleware.AccountID(c), c.Param("id"), spec)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

func (h *Handler) DropSlot(c *gin.Context) {
	index, ok := slotIndex(c)
	if !ok {
		return
	}
	if err := h.orch.DropSlot(c.Request.Context(), middleware.AccountID(c), c.Param("id"), index); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Get(c *gin.Context) {
	req, err := h.orch.Load(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// remaining reads the balance after the run. Nil when unknown.
func (h *Handler) remaining(ctx context.Context, accountID uint) *int64 {
	if accountID == 0 {
		return nil
	}
	b, err := h.accounts.Balance(context.WithoutCancel(ctx), accountID)
	if err != nil {
		h.log.Warn("read balance", zap.Uint("account_id", accountID), zap.Error(err))
		return nil
	}
	return &b
}

func slotIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slot index"})
		return 0, false
	}
	return index, true
}

func wantsStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

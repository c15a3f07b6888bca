package billing

import (
	"net/http"

	"promptforge/internal/app/http/middleware"
	"promptforge/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

func (h *Handler) PaymentHistory(c *gin.Context) {
	accountID := middleware.AccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var payments []billing.Payment
	if err := h.db.WithContext(c.Request.Context()).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	c.JSON(http.StatusOK, payments)
}

package middleware

import (
	"errors"
	"net/http"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/generation"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/infra/generator"
	infrastripe "promptforge/internal/infra/stripe"

	"github.com/gin-gonic/gin"
)

// ErrorHandlingMiddleware writes a JSON error for the last error attached
// with c.Error when the handler wrote nothing itself.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}
		status, msg := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, accounts.ErrAccountNotFound):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, generation.ErrRequestNotFound),
		errors.Is(err, generation.ErrSlotNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, accounts.ErrCustomerRefConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, infrastripe.ErrNotConfigured),
		errors.Is(err, generator.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

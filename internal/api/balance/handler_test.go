package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"promptforge/internal/app/http/middleware"
	"promptforge/internal/domain/access"
	"promptforge/internal/ledger"
	"promptforge/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T, accountID uint) (*gin.Engine, *ledger.Writer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.OpenTestDB(t)
	writer := ledger.NewWriter(db, zap.NewNop())
	h := NewHandler(writer, 10)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if accountID != 0 {
			c.Set(middleware.AccountIDKey, accountID)
		}
	})
	r.GET("/balance", h.Get)
	r.GET("/balance/ledger", h.Entries)
	return r, writer
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestBalanceBootstrapsAccount(t *testing.T) {
	r, writer := setup(t, 9)

	w := get(r, "/balance")
	require.Equal(t, http.StatusOK, w.Code)
	var resp balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.Balance)
	assert.Equal(t, "free", resp.Tier)
	assert.Equal(t, access.AccessFree, resp.Access.State)

	_, err := writer.Debit(context.Background(), 9, 3)
	require.NoError(t, err)

	w = get(r, "/balance")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Balance)
}

func TestLedgerEntriesNewestFirst(t *testing.T) {
	r, writer := setup(t, 9)
	require.Equal(t, http.StatusOK, get(r, "/balance").Code)
	_, err := writer.Debit(context.Background(), 9, 1)
	require.NoError(t, err)

	w := get(r, "/balance/ledger?limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []entryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "usage", entries[0].Reason)
	assert.Equal(t, int64(-1), entries[0].Delta)
	assert.Equal(t, "signup_grant", entries[1].Reason)
	assert.Equal(t, "signup:9", entries[1].CorrelationID)

	assert.Equal(t, http.StatusBadRequest, get(r, "/balance/ledger?limit=abc").Code)
}

func TestBalanceRequiresAccount(t *testing.T) {
	r, _ := setup(t, 0)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/balance").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/balance/ledger").Code)
}

package plans

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"promptforge/internal/domain/plans"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSplitsPlansAndPackages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/plans", NewHandler(plans.DefaultCatalog()).List)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plans", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Tiers, 3)
	assert.Len(t, resp.Plans, 2)
	assert.Len(t, resp.Packages, 2)
	for _, p := range resp.Packages {
		assert.Positive(t, p.Tokens)
	}
}

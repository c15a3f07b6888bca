package plans

import (
	"net/http"

	"promptforge/internal/domain/plans"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	catalog plans.Catalog
}

func NewHandler(catalog plans.Catalog) *Handler {
	return &Handler{catalog: catalog}
}

type listResponse struct {
	Tiers    []plans.TierSpec `json:"tiers"`
	Packages []plans.Price    `json:"packages"`
	Plans    []plans.Price    `json:"plans"`
}

// List returns the subscription tiers with their monthly allotments and the
// one-time token packages.
func (h *Handler) List(c *gin.Context) {
	resp := listResponse{
		Tiers:    h.catalog.Tiers,
		Packages: []plans.Price{},
		Plans:    []plans.Price{},
	}
	for _, p := range h.catalog.Prices {
		if p.Mode == plans.ModePayment {
			resp.Packages = append(resp.Packages, p)
		} else {
			resp.Plans = append(resp.Plans, p)
		}
	}
	c.JSON(http.StatusOK, resp)
}

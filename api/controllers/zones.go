package controllers

import (
	"net/http"

	"github.com/quickdish-ng/storefront-backend/api/responses"
	"github.com/quickdish-ng/storefront-backend/internal/pricing"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

type zoneView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Fee  string `json:"fee"`
}

// ZonesController lists the delivery zones the storefront can offer at
// checkout.
type ZonesController struct {
	zones  pricing.Repository
	logger *logger.Logger
}

func NewZonesController(zones pricing.Repository, logg *logger.Logger) *ZonesController {
	return &ZonesController{zones: zones, logger: logg}
}

func (c *ZonesController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	zones, err := c.zones.ListActive(ctx)
	if err != nil {
		responses.Error(ctx, w, c.logger,
			pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading delivery zones"))
		return
	}

	views := make([]zoneView, 0, len(zones))
	for _, zone := range zones {
		views = append(views, zoneView{
			ID:   zone.ID.String(),
			Name: zone.Name,
			Fee:  zone.Fee.StringFixed(2),
		})
	}
	responses.JSON(w, http.StatusOK, views)
}

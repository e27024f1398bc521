package controllers

import (
	"net/http"

	"github.com/quickdish-ng/storefront-backend/api/responses"
	"github.com/quickdish-ng/storefront-backend/pkg/db"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/redis"
)

// HealthController answers liveness and readiness probes.
type HealthController struct {
	db     db.Pinger
	redis  redis.Pinger
	logger *logger.Logger
}

func NewHealthController(database db.Pinger, cache redis.Pinger, logg *logger.Logger) *HealthController {
	return &HealthController{db: database, redis: cache, logger: logg}
}

func (c *HealthController) Live(w http.ResponseWriter, r *http.Request) {
	responses.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready verifies the datastore dependencies are reachable.
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}

	healthy := true
	if c.db != nil {
		if err := c.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !healthy {
		responses.Error(ctx, w, c.logger,
			pkgerrors.New(pkgerrors.CodeDependency, "dependency check failed").WithDetails(checks))
		return
	}
	responses.JSON(w, http.StatusOK, checks)
}

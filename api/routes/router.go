package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickdish-ng/storefront-backend/api/controllers"
	"github.com/quickdish-ng/storefront-backend/api/middleware"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/redis"
)

// Controllers bundles everything the router mounts.
type Controllers struct {
	Health   *controllers.HealthController
	Checkout *controllers.CheckoutController
	Payments *controllers.PaymentsController
	Orders   *controllers.OrdersController
	Zones    *controllers.ZonesController
}

// New assembles the HTTP surface: middleware chain, versioned API routes,
// health probes, and the metrics endpoint.
func New(ctrl Controllers, idempotencyStore redis.IdempotencyStore, logg *logger.Logger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(middleware.Recoverer(logg))
	r.Use(middleware.CORS())

	r.Get("/health/live", ctrl.Health.Live)
	r.Get("/health/ready", ctrl.Health.Ready)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Idempotency(idempotencyStore, logg)).
			Post("/checkout", ctrl.Checkout.Checkout)

		r.Post("/payments/verify", ctrl.Payments.Verify)

		r.Get("/delivery-zones", ctrl.Zones.List)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", ctrl.Orders.Get)
			r.Get("/transactions", ctrl.Orders.ListTransactions)
		})
	})

	return r
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/quickdish-ng/storefront-backend/api/controllers"
	"github.com/quickdish-ng/storefront-backend/api/routes"
	"github.com/quickdish-ng/storefront-backend/internal/checkout"
	"github.com/quickdish-ng/storefront-backend/internal/customers"
	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/payments"
	"github.com/quickdish-ng/storefront-backend/internal/pricing"
	"github.com/quickdish-ng/storefront-backend/internal/transactions"
	"github.com/quickdish-ng/storefront-backend/pkg/config"
	"github.com/quickdish-ng/storefront-backend/pkg/db"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/metrics"
	"github.com/quickdish-ng/storefront-backend/pkg/migrate"
	"github.com/quickdish-ng/storefront-backend/pkg/paystack"
	"github.com/quickdish-ng/storefront-backend/pkg/redis"
	"github.com/quickdish-ng/storefront-backend/pkg/retry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logg := logger.New(logger.Options{
		ServiceName: "storefront-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, database); err != nil {
		return err
	}

	cache, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	gateway, err := paystack.NewClient(ctx, cfg.Paystack, logg, paymentMetrics)
	if err != nil {
		return err
	}

	handler, err := buildHandler(cfg, logg, database, cache, gateway, paymentMetrics, registry)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "port", cfg.App.Port), "api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildHandler(
	cfg *config.Config,
	logg *logger.Logger,
	database *db.Client,
	cache *redis.Client,
	gateway *paystack.Client,
	paymentMetrics *metrics.PaymentMetrics,
	registry *prometheus.Registry,
) (http.Handler, error) {
	customerRepo := customers.NewRepository(database.DB())
	orderRepo := orders.NewRepository(database.DB())
	zoneRepo := pricing.NewRepository(database.DB())
	txnRepo := transactions.NewRepository(database.DB())

	numbers := orders.NewNumberAllocator(cache, orderRepo)

	orderSvc, err := orders.NewService(database, orderRepo, customerRepo, zoneRepo, numbers, logg)
	if err != nil {
		return nil, err
	}
	pricingSvc, err := pricing.NewService(zoneRepo, orderRepo, logg)
	if err != nil {
		return nil, err
	}
	ledger, err := transactions.NewService(txnRepo, logg)
	if err != nil {
		return nil, err
	}

	paymentSvc, err := payments.NewService(
		database,
		gateway,
		orderRepo,
		ledger,
		pricingSvc,
		logg,
		paymentMetrics,
		cfg.Paystack.CallbackURL,
		retry.Policy{MaxAttempts: cfg.Checkout.VerifyAttempts, BaseDelay: cfg.Checkout.VerifyBackoff},
	)
	if err != nil {
		return nil, err
	}

	checkoutSvc, err := checkout.NewService(orderSvc, paymentSvc, logg, paymentMetrics)
	if err != nil {
		return nil, err
	}

	ctrl := routes.Controllers{
		Health:   controllers.NewHealthController(database, cache, logg),
		Checkout: controllers.NewCheckoutController(checkoutSvc, logg),
		Payments: controllers.NewPaymentsController(paymentSvc, logg),
		Orders:   controllers.NewOrdersController(orderSvc, ledger, logg),
		Zones:    controllers.NewZonesController(zoneRepo, logg),
	}

	return routes.New(ctrl, cache, logg, registry), nil
}

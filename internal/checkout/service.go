package checkout

import (
	"context"

	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/payments"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/metrics"
)

// Input is one checkout submission. Retries carry the same idempotency key
// and receive the same order and payment link back.
type Input struct {
	Order           orders.CreateOrderInput
	ClientReference *string
}

// Result is what the storefront needs to send the shopper to the gateway.
type Result struct {
	Order            *models.Order
	Reference        string
	AuthorizationURL string
	AccessCode       string
	AmountMinor      int64
	OrderCreated     bool
}

// Service glues the order writer to payment initialization: one call takes a
// cart and returns a hosted-payment URL.
type Service interface {
	Checkout(ctx context.Context, input Input) (*Result, error)
}

type service struct {
	orders   orders.Service
	payments payments.Service
	logger   *logger.Logger
	metrics  *metrics.PaymentMetrics
}

func NewService(orderSvc orders.Service, paymentSvc payments.Service, logg *logger.Logger, m *metrics.PaymentMetrics) (Service, error) {
	if orderSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "orders service is required")
	}
	if paymentSvc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "payments service is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "logger is required")
	}
	return &service{orders: orderSvc, payments: paymentSvc, logger: logg, metrics: m}, nil
}

func (s *service) Checkout(ctx context.Context, input Input) (*Result, error) {
	order, created, err := s.orders.CreateOrGet(ctx, input.Order)
	if err != nil {
		s.metrics.IncCheckout("order_error")
		return nil, err
	}
	ctx = s.logger.WithOrderID(ctx, order.ID.String())
	if !created {
		s.logger.Info(ctx, "idempotency key replayed, reusing existing order")
	}

	init, err := s.payments.Initialize(ctx, payments.InitializeInput{
		Order:           order,
		ClientReference: input.ClientReference,
	})
	if err != nil {
		s.metrics.IncCheckout("gateway_error")
		return nil, err
	}

	s.metrics.IncCheckout("ok")
	return &Result{
		Order:            order,
		Reference:        init.Reference,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
		AmountMinor:      init.AmountMinor,
		OrderCreated:     created,
	}, nil
}

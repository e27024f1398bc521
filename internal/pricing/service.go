package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

// DriftTolerance is the largest stored-vs-recomputed difference treated as
// rounding noise. Anything above it is corrected and logged.
var DriftTolerance = decimal.NewFromInt(1)

// Amounts is the authoritative charge breakdown derived from persisted line
// items and zone configuration, never from client-submitted totals.
type Amounts struct {
	ItemsSubtotal  decimal.Decimal
	FulfillmentFee decimal.Decimal
	Total          decimal.Decimal
}

// MinorUnits converts the total to the gateway's integer minor units.
func (a Amounts) MinorUnits() int64 {
	return a.Total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Service is the single authority for chargeable amounts. Before any money
// leaves for the gateway, the order's stored totals are recomputed from its
// persisted items and the configured zone fee.
type Service interface {
	Authoritative(ctx context.Context, order *models.Order) (Amounts, error)
	EnsureConsistent(ctx context.Context, order *models.Order) (Amounts, error)
}

type service struct {
	zones  Repository
	orders orders.Repository
	logger *logger.Logger
}

func NewService(zones Repository, orderRepo orders.Repository, logg *logger.Logger) (Service, error) {
	if zones == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "zones repository is required")
	}
	if orderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "orders repository is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "logger is required")
	}
	return &service{zones: zones, orders: orderRepo, logger: logg}, nil
}

// Authoritative recomputes the charge from the order's persisted items and
// the current zone fee.
func (s *service) Authoritative(ctx context.Context, order *models.Order) (Amounts, error) {
	if order == nil {
		return Amounts{}, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if len(order.Items) == 0 {
		return Amounts{}, pkgerrors.New(pkgerrors.CodeValidation, "order has no line items to price")
	}

	subtotal := decimal.Zero
	for _, item := range order.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	fee, err := s.fulfillmentFee(ctx, order)
	if err != nil {
		return Amounts{}, err
	}

	return Amounts{
		ItemsSubtotal:  subtotal,
		FulfillmentFee: fee,
		Total:          subtotal.Add(fee),
	}, nil
}

// EnsureConsistent recomputes the amounts and, when the stored totals have
// drifted beyond the tolerance, corrects the order in place before returning
// the authoritative values.
func (s *service) EnsureConsistent(ctx context.Context, order *models.Order) (Amounts, error) {
	amounts, err := s.Authoritative(ctx, order)
	if err != nil {
		return Amounts{}, err
	}

	drift := order.TotalAmount.Sub(amounts.Total).Abs()
	if drift.LessThanOrEqual(DriftTolerance) {
		return amounts, nil
	}

	ctx = s.logger.WithOrderID(ctx, order.ID.String())
	s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
		"stored_total":   order.TotalAmount.StringFixed(2),
		"computed_total": amounts.Total.StringFixed(2),
		"drift":          drift.StringFixed(2),
	}), "stored order total drifted from recomputed amount, correcting")

	err = s.orders.UpdateAmounts(ctx, order.ID, amounts.ItemsSubtotal, amounts.FulfillmentFee, amounts.Total)
	if err != nil {
		return Amounts{}, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "correcting order amounts")
	}

	order.ItemsSubtotal = amounts.ItemsSubtotal
	order.FulfillmentFee = amounts.FulfillmentFee
	order.TotalAmount = amounts.Total
	return amounts, nil
}

func (s *service) fulfillmentFee(ctx context.Context, order *models.Order) (decimal.Decimal, error) {
	if order.FulfillmentType != enums.FulfillmentTypeDelivery {
		return decimal.Zero, nil
	}
	if order.DeliveryZoneID == nil {
		s.logger.Warn(s.logger.WithOrderID(ctx, order.ID.String()),
			"delivery order has no zone, charging zero fulfillment fee")
		return decimal.Zero, nil
	}

	zone, err := s.zones.FindByID(ctx, *order.DeliveryZoneID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading delivery zone")
	}
	if zone == nil {
		s.logger.Warn(s.logger.WithOrderID(ctx, order.ID.String()),
			"delivery zone no longer exists, charging zero fulfillment fee")
		return decimal.Zero, nil
	}
	if zone.Fee.IsZero() {
		s.logger.Info(s.logger.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"zone_id":  zone.ID.String(),
		}), "delivery order priced with zero-fee zone")
	}
	return zone.Fee, nil
}

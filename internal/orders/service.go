package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/internal/customers"
	"github.com/quickdish-ng/storefront-backend/pkg/db"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

// txRunner abstracts db.Client.WithTx so services stay testable with sqlite.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ZoneLoader resolves delivery zones when pricing a delivery order.
type ZoneLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryZone, error)
}

// ItemInput is one requested line. Unit prices are re-validated server-side;
// the line total is always recomputed, never taken from the client.
type ItemInput struct {
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

type CreateOrderInput struct {
	IdempotencyKey  string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	FulfillmentType enums.FulfillmentType
	DeliveryZoneID  *uuid.UUID
	DeliveryAddress *string
	Currency        enums.Currency
	Items           []ItemInput
}

// Service writes orders exactly once per idempotency key and reads them back
// for the API surface.
type Service interface {
	CreateOrGet(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type service struct {
	runner    txRunner
	repo      Repository
	customers customers.Repository
	zones     ZoneLoader
	numbers   *NumberAllocator
	logger    *logger.Logger
}

func NewService(
	runner txRunner,
	repo Repository,
	customerRepo customers.Repository,
	zones ZoneLoader,
	numbers *NumberAllocator,
	logg *logger.Logger,
) (Service, error) {
	if runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "tx runner is required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "orders repository is required")
	}
	if customerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "customers repository is required")
	}
	if zones == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "zone loader is required")
	}
	if numbers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "number allocator is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "logger is required")
	}
	return &service{
		runner:    runner,
		repo:      repo,
		customers: customerRepo,
		zones:     zones,
		numbers:   numbers,
		logger:    logg,
	}, nil
}

// CreateOrGet creates the order for the idempotency key, or returns the
// existing one when the key was already used. The boolean reports whether a
// new order was created by this call.
func (s *service) CreateOrGet(ctx context.Context, input CreateOrderInput) (*models.Order, bool, error) {
	if err := s.validate(input); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "looking up idempotency key")
	}
	if existing != nil {
		return existing, false, nil
	}

	var fee decimal.Decimal
	if input.FulfillmentType == enums.FulfillmentTypeDelivery {
		fee, err = s.deliveryFee(ctx, input)
		if err != nil {
			return nil, false, err
		}
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocating order number")
	}

	order := s.buildOrder(input, number, fee)

	txErr := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		customer, err := s.customers.WithTx(tx).CreateOrGet(ctx, &models.Customer{
			Name:  strings.TrimSpace(input.CustomerName),
			Email: strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
			Phone: trimPtr(input.CustomerPhone),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolving customer")
		}
		order.CustomerID = customer.ID
		return s.repo.WithTx(tx).Create(ctx, order)
	})
	if txErr != nil {
		if db.IsUniqueViolation(txErr, "idempotency_key") {
			winner, lookupErr := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if lookupErr != nil || winner == nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodePersistence, lookupErr, "resolving idempotency race")
			}
			return winner, false, nil
		}
		if pkgerrors.As(txErr) != nil {
			return nil, false, txErr
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodePersistence, txErr, "creating order")
	}

	ctx = s.logger.WithOrderID(ctx, order.ID.String())
	s.logger.Info(s.logger.WithField(ctx, "order_number", order.OrderNumber), "order created")
	return order, true, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) validate(input CreateOrderInput) error {
	switch {
	case strings.TrimSpace(input.IdempotencyKey) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	case strings.TrimSpace(input.CustomerEmail) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	case !input.FulfillmentType.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "fulfillment type must be delivery or pickup")
	case len(input.Items) == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}

	if input.FulfillmentType == enums.FulfillmentTypeDelivery && input.DeliveryZoneID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery orders require a delivery zone")
	}

	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive").
				WithDetails(map[string]any{"item_index": i})
		}
		if item.UnitPrice.IsNegative() || item.UnitPrice.IsZero() {
			return pkgerrors.New(pkgerrors.CodeValidation, "item unit price must be positive").
				WithDetails(map[string]any{"item_index": i})
		}
		if strings.TrimSpace(item.ProductName) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "item product name is required").
				WithDetails(map[string]any{"item_index": i})
		}
	}
	return nil
}

func (s *service) deliveryFee(ctx context.Context, input CreateOrderInput) (decimal.Decimal, error) {
	zone, err := s.zones.FindByID(ctx, *input.DeliveryZoneID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading delivery zone")
	}
	if zone == nil || !zone.Active {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "delivery zone is unknown or inactive")
	}
	return zone.Fee, nil
}

func (s *service) buildOrder(input CreateOrderInput, number string, fee decimal.Decimal) *models.Order {
	currency := input.Currency
	if !currency.IsValid() {
		currency = enums.CurrencyNGN
	}

	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		items = append(items, models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: strings.TrimSpace(item.ProductName),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   lineTotal,
		})
	}

	return &models.Order{
		OrderNumber:     number,
		IdempotencyKey:  strings.TrimSpace(input.IdempotencyKey),
		FulfillmentType: input.FulfillmentType,
		DeliveryZoneID:  input.DeliveryZoneID,
		DeliveryAddress: input.DeliveryAddress,
		ItemsSubtotal:   subtotal,
		FulfillmentFee:  fee,
		TotalAmount:     subtotal.Add(fee),
		Currency:        currency,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		Items:           items,
	}
}

func trimPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

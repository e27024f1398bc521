package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickdish-ng/storefront-backend/api/middleware"
	"github.com/quickdish-ng/storefront-backend/api/responses"
	"github.com/quickdish-ng/storefront-backend/api/validators"
	"github.com/quickdish-ng/storefront-backend/internal/checkout"
	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

type checkoutItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required,uuid"`
	ProductName string          `json:"product_name" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
}

type checkoutCustomerRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

type checkoutRequest struct {
	Customer        checkoutCustomerRequest `json:"customer" validate:"required"`
	FulfillmentType string                  `json:"fulfillment_type" validate:"required,oneof=delivery pickup"`
	DeliveryZoneID  *string                 `json:"delivery_zone_id" validate:"omitempty,uuid"`
	DeliveryAddress *string                 `json:"delivery_address"`
	Currency        string                  `json:"currency" validate:"omitempty,oneof=NGN GHS ZAR USD"`
	ClientReference *string                 `json:"client_reference"`
	Items           []checkoutItemRequest   `json:"items" validate:"required,min=1,dive"`
}

type checkoutResponse struct {
	Order            orderView `json:"order"`
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	AccessCode       string    `json:"access_code,omitempty"`
	AmountMinor      int64     `json:"amount_minor"`
}

// CheckoutController accepts cart submissions and returns the hosted payment
// link for them.
type CheckoutController struct {
	checkout checkout.Service
	logger   *logger.Logger
}

func NewCheckoutController(svc checkout.Service, logg *logger.Logger) *CheckoutController {
	return &CheckoutController{checkout: svc, logger: logg}
}

func (c *CheckoutController) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := validators.DecodeAndValidate(r, &req); err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	input, err := c.toInput(ctx, req)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	result, err := c.checkout.Checkout(ctx, input)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	status := http.StatusOK
	if result.OrderCreated {
		status = http.StatusCreated
	}
	responses.JSON(w, status, checkoutResponse{
		Order:            serializeOrder(result.Order),
		Reference:        result.Reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		AmountMinor:      result.AmountMinor,
	})
}

func (c *CheckoutController) toInput(ctx context.Context, req checkoutRequest) (checkout.Input, error) {
	idempotencyKey := middleware.IdempotencyKeyFromContext(ctx)
	if idempotencyKey == "" {
		return checkout.Input{}, pkgerrors.New(pkgerrors.CodeValidation, "X-Idempotency-Key header is required")
	}

	items := make([]orders.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return checkout.Input{}, pkgerrors.New(pkgerrors.CodeValidation, "item product_id must be a valid UUID")
		}
		items = append(items, orders.ItemInput{
			ProductID:   productID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}

	var zoneID *uuid.UUID
	if req.DeliveryZoneID != nil && strings.TrimSpace(*req.DeliveryZoneID) != "" {
		parsed, err := uuid.Parse(*req.DeliveryZoneID)
		if err != nil {
			return checkout.Input{}, pkgerrors.New(pkgerrors.CodeValidation, "delivery_zone_id must be a valid UUID")
		}
		zoneID = &parsed
	}

	return checkout.Input{
		Order: orders.CreateOrderInput{
			IdempotencyKey:  idempotencyKey,
			CustomerName:    req.Customer.Name,
			CustomerEmail:   req.Customer.Email,
			CustomerPhone:   req.Customer.Phone,
			FulfillmentType: enums.FulfillmentType(req.FulfillmentType),
			DeliveryZoneID:  zoneID,
			DeliveryAddress: req.DeliveryAddress,
			Currency:        enums.Currency(req.Currency),
			Items:           items,
		},
		ClientReference: req.ClientReference,
	}, nil
}

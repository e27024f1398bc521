package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quickdish-ng/storefront-backend/api/responses"
	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/transactions"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

// OrdersController serves order state and its payment audit trail.
type OrdersController struct {
	orders       orders.Service
	transactions transactions.Service
	logger       *logger.Logger
}

func NewOrdersController(orderSvc orders.Service, txnSvc transactions.Service, logg *logger.Logger) *OrdersController {
	return &OrdersController{orders: orderSvc, transactions: txnSvc, logger: logg}
}

func (c *OrdersController) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := c.orderID(r)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	order, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}
	responses.JSON(w, http.StatusOK, serializeOrder(order))
}

// ListTransactions returns every gateway attempt recorded for the order.
func (c *OrdersController) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := c.orderID(r)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	if _, err := c.orders.GetByID(ctx, orderID); err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	txns, err := c.transactions.ListByOrder(ctx, orderID)
	if err != nil {
		responses.Error(ctx, w, c.logger,
			pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading order transactions"))
		return
	}
	responses.JSON(w, http.StatusOK, serializeTransactions(txns))
}

func (c *OrdersController) orderID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderID")
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "orderID must be a valid UUID")
	}
	return orderID, nil
}

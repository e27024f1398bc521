package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quickdish-ng/storefront-backend/api/responses"
	"github.com/quickdish-ng/storefront-backend/api/validators"
	"github.com/quickdish-ng/storefront-backend/internal/payments"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

type verifyRequest struct {
	Reference string  `json:"reference" validate:"required"`
	OrderID   *string `json:"order_id" validate:"omitempty,uuid"`
}

type verifyResponse struct {
	Resolved           bool       `json:"resolved"`
	Paid               bool       `json:"paid"`
	Status             string     `json:"status"`
	ManualReview       bool       `json:"manual_review,omitempty"`
	EffectiveReference string     `json:"effective_reference,omitempty"`
	TriedStrategies    []string   `json:"tried_strategies,omitempty"`
	Order              *orderView `json:"order,omitempty"`
}

// PaymentsController exposes payment verification to the storefront's
// post-payment callback page.
type PaymentsController struct {
	payments payments.Service
	logger   *logger.Logger
}

func NewPaymentsController(svc payments.Service, logg *logger.Logger) *PaymentsController {
	return &PaymentsController{payments: svc, logger: logg}
}

// Verify reconciles a reference against the gateway. An unrecognized
// reference is a 200 with resolved=false, not an error; the storefront polls
// or routes to support.
func (c *PaymentsController) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := validators.DecodeAndValidate(r, &req); err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	input := payments.VerifyInput{Reference: req.Reference}
	if req.OrderID != nil && *req.OrderID != "" {
		orderID, err := uuid.Parse(*req.OrderID)
		if err != nil {
			responses.Error(ctx, w, c.logger,
				pkgerrors.New(pkgerrors.CodeValidation, "order_id must be a valid UUID"))
			return
		}
		input.OrderID = &orderID
	}

	outcome, err := c.payments.Verify(ctx, input)
	if err != nil {
		responses.Error(ctx, w, c.logger, err)
		return
	}

	resp := verifyResponse{
		Resolved:           outcome.Resolved,
		Paid:               outcome.Paid,
		Status:             outcome.Status.String(),
		ManualReview:       outcome.ManualReview,
		EffectiveReference: outcome.EffectiveReference,
		TriedStrategies:    outcome.TriedStrategies,
	}
	if outcome.Order != nil {
		view := serializeOrder(outcome.Order)
		resp.Order = &view
	}
	responses.JSON(w, http.StatusOK, resp)
}

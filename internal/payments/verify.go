package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/transactions"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/paystack"
	"github.com/quickdish-ng/storefront-backend/pkg/retry"
)

var minorFactor = decimal.NewFromInt(100)

// amountToleranceMinor is the largest settled-vs-expected difference, in
// minor units, accepted as rounding noise. Anything above it blocks
// auto-finalization.
const amountToleranceMinor = int64(100)

const fragmentSearchLimit = 3

// Resolution strategy names recorded in outcomes and logs.
const (
	strategyDirect         = "direct_lookup"
	strategyClientRef      = "client_reference_mapping"
	strategyOrderHint      = "order_hint"
	strategyPrefixRepair   = "prefix_repair"
	strategyLedgerFragment = "ledger_fragment_search"
	strategyOrderFragment  = "order_fragment_search"
)

// VerifyInput asks the reconciler to settle a reference. OrderID is an
// optional hint from the storefront used when the reference alone cannot be
// found at the gateway.
type VerifyInput struct {
	Reference string
	OrderID   *uuid.UUID
}

// VerifyOutcome reports what reconciliation concluded. An unresolved
// reference is a valid outcome, not an error: the caller polls again or
// routes to support.
type VerifyOutcome struct {
	Resolved           bool
	Paid               bool
	Status             enums.PaymentStatus
	ManualReview       bool
	EffectiveReference string
	TriedStrategies    []string
	Order              *models.Order
	Transaction        *models.PaymentTransaction
}

// Verify looks the reference up at the gateway, falling back through the
// resolution cascade when the gateway does not recognize it, then finalizes
// the order idempotently.
func (s *service) Verify(ctx context.Context, input VerifyInput) (*VerifyOutcome, error) {
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	ctx = s.logger.WithReference(ctx, reference)

	result, effective, tried, err := s.resolve(ctx, reference, input.OrderID)
	if err != nil {
		s.metrics.IncVerification("gateway_error")
		return nil, err
	}
	if result == nil {
		s.metrics.IncVerification("unresolved")
		s.logger.Warn(s.logger.WithField(ctx, "tried_strategies", tried),
			"reference could not be resolved at the gateway")
		return &VerifyOutcome{
			Resolved:        false,
			Status:          enums.PaymentStatusPending,
			TriedStrategies: tried,
		}, nil
	}

	outcome, err := s.finalize(ctx, effective, result)
	if err != nil {
		s.metrics.IncVerification("finalize_error")
		return nil, err
	}
	outcome.TriedStrategies = tried
	s.metrics.IncVerification(verificationOutcomeLabel(outcome))
	return outcome, nil
}

// resolve returns the gateway's settlement report for the reference, trying
// each resolution strategy in turn when the direct lookup misses.
func (s *service) resolve(ctx context.Context, reference string, orderHint *uuid.UUID) (*paystack.VerifyResult, string, []string, error) {
	tried := []string{strategyDirect}

	result, err := s.gatewayVerify(ctx, reference)
	if err == nil {
		return result, reference, tried, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeReferenceNotFound) {
		return nil, "", tried, err
	}

	var lookupErrs error
	seen := map[string]bool{reference: true}

	for _, strategy := range []struct {
		name       string
		candidates func(context.Context) ([]string, error)
	}{
		{strategyClientRef, func(ctx context.Context) ([]string, error) {
			txn, err := s.ledger.FindByClientRef(ctx, reference)
			if err != nil || txn == nil {
				return nil, err
			}
			return []string{txn.ProviderRef}, nil
		}},
		{strategyOrderHint, func(ctx context.Context) ([]string, error) {
			if orderHint == nil {
				return nil, nil
			}
			order, err := s.orders.FindByID(ctx, *orderHint)
			if err != nil || order == nil || order.PaymentRef == nil {
				return nil, err
			}
			return []string{*order.PaymentRef}, nil
		}},
		{strategyPrefixRepair, func(context.Context) ([]string, error) {
			if HasReferencePrefix(reference) {
				return nil, nil
			}
			return []string{WithReferencePrefix(reference)}, nil
		}},
		{strategyLedgerFragment, func(ctx context.Context) ([]string, error) {
			txns, err := s.ledger.SearchByReferenceFragment(ctx, reference, fragmentSearchLimit)
			if err != nil {
				return nil, err
			}
			refs := make([]string, 0, len(txns))
			for _, txn := range txns {
				refs = append(refs, txn.ProviderRef)
			}
			return refs, nil
		}},
		{strategyOrderFragment, func(ctx context.Context) ([]string, error) {
			matches, err := s.orders.SearchByReferenceFragment(ctx, reference, fragmentSearchLimit)
			if err != nil {
				return nil, err
			}
			refs := make([]string, 0, len(matches))
			for _, order := range matches {
				if order.PaymentRef != nil {
					refs = append(refs, *order.PaymentRef)
				}
			}
			return refs, nil
		}},
	} {
		candidates, err := strategy.candidates(ctx)
		if err != nil {
			lookupErrs = multierr.Append(lookupErrs, err)
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		tried = append(tried, strategy.name)

		for _, candidate := range candidates {
			if candidate == "" || seen[candidate] {
				continue
			}
			seen[candidate] = true

			result, err := s.gatewayVerify(ctx, candidate)
			if err == nil {
				s.logger.Info(s.logger.WithFields(ctx, map[string]any{
					"strategy":            strategy.name,
					"effective_reference": candidate,
				}), "reference resolved through fallback strategy")
				return result, candidate, tried, nil
			}
			if !pkgerrors.HasCode(err, pkgerrors.CodeReferenceNotFound) {
				lookupErrs = multierr.Append(lookupErrs, err)
			}
		}
	}

	if lookupErrs != nil {
		s.logger.Warn(s.logger.WithField(ctx, "errors", lookupErrs.Error()),
			"resolution cascade hit non-fatal lookup errors")
	}
	return nil, "", tried, nil
}

// gatewayVerify calls the verify endpoint under the bounded retry policy.
// Only transport-level failures are retried; a gateway-side miss returns
// immediately.
func (s *service) gatewayVerify(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
	var result *paystack.VerifyResult
	err := retry.Do(ctx, s.retryPolicy, func(ctx context.Context) error {
		var callErr error
		result, callErr = s.gateway.VerifyTransaction(ctx, reference)
		if callErr != nil && pkgerrors.HasCode(callErr, pkgerrors.CodeGatewayUnavailable) {
			return retry.Transient(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finalize records the settlement in the ledger and advances the order. Every
// write is guarded so re-running with the same report is a no-op.
func (s *service) finalize(ctx context.Context, reference string, result *paystack.VerifyResult) (*VerifyOutcome, error) {
	status := mapGatewayStatus(result.Status)
	outcome := &VerifyOutcome{
		Resolved:           true,
		Status:             status,
		EffectiveReference: reference,
	}

	txErr := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		orderRepo := s.orders.WithTx(tx)

		order, err := s.locateOrder(ctx, orderRepo, ledger, reference, result)
		if err != nil {
			return err
		}

		upsert := transactions.UpsertInput{
			ProviderRef:     reference,
			Amount:          decimal.NewFromInt(result.AmountMinor).Div(minorFactor),
			CustomerEmail:   customerEmailFromOrder(order),
			Status:          status,
			GatewayResponse: result.RawPayload,
			PaidAt:          result.PaidAt,
		}
		if result.Channel != "" {
			channel := result.Channel
			upsert.Channel = &channel
		}
		if currency := enums.Currency(result.Currency); currency.IsValid() {
			upsert.Currency = currency
		}
		if order != nil {
			upsert.OrderID = &order.ID
		}
		txn, err := ledger.Upsert(ctx, upsert)
		if err != nil {
			return err
		}
		outcome.Transaction = txn
		outcome.Order = order

		if order == nil {
			if status == enums.PaymentStatusPaid {
				// Money moved but no order claims it. Surface for support
				// instead of guessing.
				outcome.ManualReview = true
				s.logger.Error(s.logger.WithReference(ctx, reference),
					"settled payment matches no order, flagging for manual review", nil)
			}
			return nil
		}

		switch status {
		case enums.PaymentStatusPaid:
			return s.finalizePaid(ctx, orderRepo, order, result, outcome)
		case enums.PaymentStatusFailed:
			if _, err := orderRepo.MarkPaymentFailed(ctx, order.ID); err != nil {
				return err
			}
			order.PaymentStatus = enums.PaymentStatusFailed
		}
		return nil
	})
	if txErr != nil {
		if pkgerrors.As(txErr) != nil {
			return nil, txErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, txErr, "finalizing verification")
	}
	return outcome, nil
}

func (s *service) finalizePaid(
	ctx context.Context,
	orderRepo orders.Repository,
	order *models.Order,
	result *paystack.VerifyResult,
	outcome *VerifyOutcome,
) error {
	expectedMinor := order.TotalAmount.Mul(minorFactor).Round(0).IntPart()
	diff := expectedMinor - result.AmountMinor
	if diff < 0 {
		diff = -diff
	}
	if diff > amountToleranceMinor {
		outcome.ManualReview = true
		s.logger.Error(s.logger.WithFields(ctx, map[string]any{
			"order_id":       order.ID.String(),
			"expected_minor": expectedMinor,
			"settled_minor":  result.AmountMinor,
		}), "settled amount does not match order total, withholding confirmation", nil)
		return nil
	}

	paidAt := time.Now().UTC()
	if result.PaidAt != nil {
		paidAt = *result.PaidAt
	}
	transitioned, err := orderRepo.MarkPaid(ctx, order.ID, paidAt)
	if err != nil {
		return err
	}
	if transitioned {
		s.logger.Info(s.logger.WithOrderID(ctx, order.ID.String()), "order confirmed as paid")
	}
	order.PaymentStatus = enums.PaymentStatusPaid
	order.Status = enums.OrderStatusConfirmed
	order.PaidAt = &paidAt
	outcome.Paid = true
	return nil
}

// locateOrder ties the gateway reference back to an order: the ledger row's
// binding first, then gateway metadata, then the reference column itself.
func (s *service) locateOrder(
	ctx context.Context,
	orderRepo orders.Repository,
	ledger transactions.Service,
	reference string,
	result *paystack.VerifyResult,
) (*models.Order, error) {
	txn, err := ledger.FindByProviderRef(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn != nil && txn.OrderID != nil {
		return orderRepo.FindByID(ctx, *txn.OrderID)
	}

	if raw, ok := result.Metadata["order_id"].(string); ok && raw != "" {
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			if order, err := orderRepo.FindByID(ctx, id); err != nil || order != nil {
				return order, err
			}
		}
	}

	order, err := orderRepo.FindByPaymentReference(ctx, reference)
	if err != nil || order != nil {
		return order, err
	}

	if number, ok := result.Metadata["order_number"].(string); ok && number != "" {
		return orderRepo.FindByOrderNumber(ctx, number)
	}
	return nil, nil
}

func mapGatewayStatus(status string) enums.PaymentStatus {
	switch status {
	case paystack.StatusSuccess:
		return enums.PaymentStatusPaid
	case paystack.StatusFailed, paystack.StatusAbandoned:
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func verificationOutcomeLabel(outcome *VerifyOutcome) string {
	switch {
	case outcome.ManualReview:
		return "manual_review"
	case outcome.Paid:
		return "paid"
	case outcome.Status == enums.PaymentStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

func customerEmailFromOrder(order *models.Order) string {
	if order != nil && order.Customer != nil {
		return order.Customer.Email
	}
	return ""
}

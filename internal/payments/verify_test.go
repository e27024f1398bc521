package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/paystack"
)

func successResult(reference string, amountMinor int64) *paystack.VerifyResult {
	paidAt := time.Now().UTC()
	return &paystack.VerifyResult{
		Status:      paystack.StatusSuccess,
		Reference:   reference,
		AmountMinor: amountMinor,
		Currency:    "NGN",
		Channel:     "card",
		PaidAt:      &paidAt,
		RawPayload:  json.RawMessage(`{"status":true}`),
	}
}

func notFoundErr() error {
	return pkgerrors.New(pkgerrors.CodeReferenceNotFound, "transaction reference not found")
}

func TestVerifyDirectLookupConfirmsOrder(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		if reference == init.Reference {
			return successResult(reference, 500000), nil
		}
		return nil, notFoundErr()
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.True(t, outcome.Paid)
	assert.False(t, outcome.ManualReview)
	assert.Equal(t, []string{strategyDirect}, outcome.TriedStrategies)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, stored.Status)

	txn, err := h.ledger.FindByProviderRef(ctx, init.Reference)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, txn.Status)
}

func TestVerifyIsIdempotent(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		return successResult(reference, 500000), nil
	}

	first, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	require.True(t, first.Paid)

	second, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	assert.True(t, second.Paid)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
}

func TestVerifyResolvesThroughClientReference(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	clientRef := "shopfront-77"
	init, err := h.service.Initialize(ctx, InitializeInput{Order: order, ClientReference: &clientRef})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		if reference == init.Reference {
			return successResult(reference, 500000), nil
		}
		return nil, notFoundErr()
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: clientRef})
	require.NoError(t, err)
	assert.True(t, outcome.Paid)
	assert.Equal(t, init.Reference, outcome.EffectiveReference)
	assert.Contains(t, outcome.TriedStrategies, strategyClientRef)
}

func TestVerifyResolvesThroughOrderHint(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		if reference == init.Reference {
			return successResult(reference, 500000), nil
		}
		return nil, notFoundErr()
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: "garbled-reference", OrderID: &order.ID})
	require.NoError(t, err)
	assert.True(t, outcome.Paid)
	assert.Equal(t, init.Reference, outcome.EffectiveReference)
	assert.Contains(t, outcome.TriedStrategies, strategyOrderHint)
}

func TestVerifyRepairsMissingPrefix(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		if reference == init.Reference {
			return successResult(reference, 500000), nil
		}
		return nil, notFoundErr()
	}

	stripped := init.Reference[len(ReferencePrefix):]
	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: stripped})
	require.NoError(t, err)
	assert.True(t, outcome.Paid)
	assert.Equal(t, init.Reference, outcome.EffectiveReference)
}

func TestVerifyUnresolvedIsNotAnError(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		return nil, notFoundErr()
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: "txn_000_completely_unknown"})
	require.NoError(t, err)
	assert.False(t, outcome.Resolved)
	assert.False(t, outcome.Paid)
	assert.Equal(t, enums.PaymentStatusPending, outcome.Status)
	assert.Contains(t, outcome.TriedStrategies, strategyDirect)
}

func TestVerifyAmountMismatchWithholdsConfirmation(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	// Settled for 1,000.00 against an order worth 5,000.00.
	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		return successResult(reference, 100000), nil
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.False(t, outcome.Paid)
	assert.True(t, outcome.ManualReview)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestVerifyFailedSettlementMarksOrderFailed(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		return &paystack.VerifyResult{
			Status:      paystack.StatusAbandoned,
			Reference:   reference,
			AmountMinor: 500000,
			Currency:    "NGN",
		}, nil
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.False(t, outcome.Paid)
	assert.Equal(t, enums.PaymentStatusFailed, outcome.Status)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.PaymentStatus)
}

func TestVerifyRetriesTransientGatewayFailure(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	init, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	calls := 0
	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		calls++
		if calls == 1 {
			return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway timeout")
		}
		return successResult(reference, 500000), nil
	}

	outcome, err := h.service.Verify(ctx, VerifyInput{Reference: init.Reference})
	require.NoError(t, err)
	assert.True(t, outcome.Paid)
	assert.Equal(t, 2, calls)
}

func TestVerifyGatewayDownSurfacesRetryableError(t *testing.T) {
	h := newPaymentsHarness(t)
	ctx := context.Background()

	h.gateway.verify = func(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway timeout")
	}

	_, err := h.service.Verify(ctx, VerifyInput{Reference: "txn_123_abcdef"})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGatewayUnavailable))
}

package payments

import (
	"context"
	"net/url"

	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/pricing"
	"github.com/quickdish-ng/storefront-backend/internal/transactions"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/metrics"
	"github.com/quickdish-ng/storefront-backend/pkg/paystack"
	"github.com/quickdish-ng/storefront-backend/pkg/retry"
)

// Gateway is the payment provider surface the service depends on. Satisfied
// by paystack.Client; stubbed in tests.
type Gateway interface {
	InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifyResult, error)
	Currency() string
}

// InitializeInput starts (or resumes) payment collection for an order.
// ClientReference is the caller's provisional reference, kept in the ledger
// so verification can map it back to the provider reference.
type InitializeInput struct {
	Order           *models.Order
	ClientReference *string
}

// InitializeResult is what checkout hands back to the storefront.
type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	AmountMinor      int64
	Resumed          bool
}

// Service drives gateway interactions: initialization on the way out,
// verification and reconciliation on the way back.
type Service interface {
	Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error)
	Verify(ctx context.Context, input VerifyInput) (*VerifyOutcome, error)
}

// txRunner abstracts db.Client.WithTx so reconciliation stays testable.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	runner      txRunner
	gateway     Gateway
	orders      orders.Repository
	ledger      transactions.Service
	pricing     pricing.Service
	logger      *logger.Logger
	metrics     *metrics.PaymentMetrics
	callbackURL string
	retryPolicy retry.Policy
}

func NewService(
	runner txRunner,
	gateway Gateway,
	orderRepo orders.Repository,
	ledger transactions.Service,
	pricer pricing.Service,
	logg *logger.Logger,
	m *metrics.PaymentMetrics,
	callbackURL string,
	retryPolicy retry.Policy,
) (Service, error) {
	if runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "tx runner is required")
	}
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "payment gateway is required")
	}
	if orderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "orders repository is required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "transaction ledger is required")
	}
	if pricer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "pricing service is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "logger is required")
	}
	if retryPolicy.MaxAttempts < 1 {
		retryPolicy = retry.DefaultGatewayPolicy
	}
	return &service{
		runner:      runner,
		gateway:     gateway,
		orders:      orderRepo,
		ledger:      ledger,
		pricing:     pricer,
		logger:      logg,
		metrics:     m,
		callbackURL: callbackURL,
		retryPolicy: retryPolicy,
	}, nil
}

// Initialize obtains a hosted-payment URL for the order. Re-invocations with
// a live pending attempt return the stored URL instead of opening a second
// gateway transaction.
func (s *service) Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error) {
	order := input.Order
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	ctx = s.logger.WithOrderID(ctx, order.ID.String())

	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
	}

	if resumed := s.resumePending(ctx, order); resumed != nil {
		s.logger.Info(s.logger.WithReference(ctx, resumed.Reference), "resuming pending payment attempt")
		return resumed, nil
	}

	amounts, err := s.pricing.EnsureConsistent(ctx, order)
	if err != nil {
		return nil, err
	}
	amountMinor := amounts.MinorUnits()
	if amountMinor < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be at least one minor currency unit")
	}

	reference, err := s.allocateReference(ctx, order)
	if err != nil {
		return nil, err
	}
	ctx = s.logger.WithReference(ctx, reference)

	email := s.customerEmail(order)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no customer email for payment")
	}

	result, reference, err := s.initializeWithRemint(ctx, order, reference, amountMinor, email, input.ClientReference)
	if err != nil {
		return nil, err
	}

	// The pending ledger row is load-bearing: without it a later verify call
	// cannot tie the gateway reference back to this order. Fail the checkout
	// rather than hand out a URL we cannot reconcile.
	authURL := result.AuthorizationURL
	accessCode := result.AccessCode
	_, err = s.ledger.Upsert(ctx, transactions.UpsertInput{
		ProviderRef:      reference,
		ClientRef:        input.ClientReference,
		OrderID:          &order.ID,
		Amount:           amounts.Total,
		Currency:         order.Currency,
		CustomerEmail:    email,
		Status:           enums.PaymentStatusPending,
		AuthorizationURL: &authURL,
		AccessCode:       &accessCode,
		GatewayResponse:  result.RawPayload,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to record pending gateway attempt, withholding authorization url", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "recording gateway attempt")
	}

	return &InitializeResult{
		Reference:        reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		AmountMinor:      amountMinor,
	}, nil
}

// resumePending returns the stored initialization when a usable pending
// attempt already exists for the order.
func (s *service) resumePending(ctx context.Context, order *models.Order) *InitializeResult {
	pending, err := s.ledger.FindPendingByOrder(ctx, order.ID)
	if err != nil {
		s.logger.Warn(ctx, "pending attempt lookup failed, continuing with fresh initialization")
		return nil
	}
	if pending == nil || pending.AuthorizationURL == nil || *pending.AuthorizationURL == "" {
		return nil
	}
	result := &InitializeResult{
		Reference:        pending.ProviderRef,
		AuthorizationURL: *pending.AuthorizationURL,
		AmountMinor:      pending.Amount.Mul(minorFactor).Round(0).IntPart(),
		Resumed:          true,
	}
	if pending.AccessCode != nil {
		result.AccessCode = *pending.AccessCode
	}
	return result
}

// allocateReference returns the order's stable payment reference, minting one
// through a conditional write when none exists yet. Under concurrency all
// callers converge on the same value.
func (s *service) allocateReference(ctx context.Context, order *models.Order) (string, error) {
	if order.PaymentRef != nil && *order.PaymentRef != "" {
		return *order.PaymentRef, nil
	}
	winner, err := s.orders.SetPaymentReferenceIfEmpty(ctx, order.ID, MintReference())
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodePersistence, err, "allocating payment reference")
	}
	order.PaymentRef = &winner
	return winner, nil
}

// initializeWithRemint calls the gateway, and on a duplicate-reference
// rejection mints one replacement reference and retries once.
func (s *service) initializeWithRemint(
	ctx context.Context,
	order *models.Order,
	reference string,
	amountMinor int64,
	email string,
	clientRef *string,
) (*paystack.InitializeResult, string, error) {
	params := s.buildParams(ctx, order, reference, amountMinor, email, clientRef)
	result, err := s.gateway.InitializeTransaction(ctx, params)
	if err == nil {
		return result, reference, nil
	}
	if !paystack.IsDuplicateReference(err) {
		return nil, "", err
	}

	s.logger.Warn(ctx, "gateway rejected reference as duplicate, minting replacement")
	replacement := MintReference()
	if repErr := s.orders.ReplacePaymentReference(ctx, order.ID, replacement); repErr != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodePersistence, repErr, "storing replacement reference")
	}
	order.PaymentRef = &replacement

	params = s.buildParams(ctx, order, replacement, amountMinor, email, clientRef)
	result, err = s.gateway.InitializeTransaction(ctx, params)
	if err != nil {
		if paystack.IsDuplicateReference(err) {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway rejected replacement reference")
		}
		return nil, "", err
	}
	return result, replacement, nil
}

func (s *service) buildParams(ctx context.Context, order *models.Order, reference string, amountMinor int64, email string, clientRef *string) paystack.InitializeParams {
	metadata := map[string]any{
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
	}
	if clientRef != nil && *clientRef != "" {
		metadata["client_reference"] = *clientRef
	}
	currency := order.Currency.String()
	if currency == "" {
		currency = s.gateway.Currency()
	}
	return paystack.InitializeParams{
		Email:       email,
		AmountMinor: amountMinor,
		Reference:   reference,
		Currency:    currency,
		CallbackURL: s.callbackFor(ctx, order, reference),
		Metadata:    metadata,
	}
}

// callbackFor embeds the order identity in the return URL so the payment
// return page can verify without relying on gateway metadata alone.
func (s *service) callbackFor(ctx context.Context, order *models.Order, reference string) string {
	if s.callbackURL == "" {
		return ""
	}
	parsed, err := url.Parse(s.callbackURL)
	if err != nil {
		s.logger.Warn(ctx, "callback url is not parseable, sending it unmodified")
		return s.callbackURL
	}
	query := parsed.Query()
	query.Set("order_id", order.ID.String())
	query.Set("reference", reference)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func (s *service) customerEmail(order *models.Order) string {
	if order.Customer != nil {
		return order.Customer.Email
	}
	return ""
}

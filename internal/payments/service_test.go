package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/internal/orders"
	"github.com/quickdish-ng/storefront-backend/internal/pricing"
	"github.com/quickdish-ng/storefront-backend/internal/transactions"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
	"github.com/quickdish-ng/storefront-backend/pkg/paystack"
	"github.com/quickdish-ng/storefront-backend/pkg/retry"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE customers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  phone TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE delivery_zones (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  fee NUMERIC NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  idempotency_key TEXT NOT NULL UNIQUE,
  customer_id TEXT NOT NULL,
  fulfillment_type TEXT NOT NULL,
  delivery_zone_id TEXT,
  delivery_address TEXT,
  items_subtotal NUMERIC NOT NULL,
  fulfillment_fee NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'NGN',
  status TEXT NOT NULL DEFAULT 'pending',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  payment_reference TEXT UNIQUE,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_name TEXT NOT NULL,
  unit_price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  line_total NUMERIC NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE payment_transactions (
  id TEXT PRIMARY KEY,
  provider_reference TEXT NOT NULL UNIQUE,
  client_reference TEXT,
  order_id TEXT,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'NGN',
  customer_email TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  channel TEXT,
  authorization_url TEXT,
  access_code TEXT,
  gateway_response TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type stubGateway struct {
	initialize  func(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
	verify      func(ctx context.Context, reference string) (*paystack.VerifyResult, error)
	initCalls   []paystack.InitializeParams
	verifyCalls []string
}

func (g *stubGateway) InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error) {
	g.initCalls = append(g.initCalls, params)
	if g.initialize != nil {
		return g.initialize(ctx, params)
	}
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.example/" + params.Reference,
		AccessCode:       "ac_" + params.Reference,
		Reference:        params.Reference,
		RawPayload:       json.RawMessage(`{"status":true}`),
	}, nil
}

func (g *stubGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
	g.verifyCalls = append(g.verifyCalls, reference)
	if g.verify != nil {
		return g.verify(ctx, reference)
	}
	return nil, pkgerrors.New(pkgerrors.CodeReferenceNotFound, "transaction reference not found")
}

func (g *stubGateway) Currency() string { return "NGN" }

type paymentsHarness struct {
	conn      *gorm.DB
	gateway   *stubGateway
	orderRepo orders.Repository
	ledger    transactions.Service
	service   Service
}

type testTxRunner struct {
	conn *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.conn.WithContext(ctx).Transaction(fn)
}

func newPaymentsHarness(t *testing.T) *paymentsHarness {
	t.Helper()
	conn := setupPaymentsTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	orderRepo := orders.NewRepository(conn)
	zoneRepo := pricing.NewRepository(conn)
	pricer, err := pricing.NewService(zoneRepo, orderRepo, logg)
	require.NoError(t, err)
	ledger, err := transactions.NewService(transactions.NewRepository(conn), logg)
	require.NoError(t, err)

	gateway := &stubGateway{}
	svc, err := NewService(
		&testTxRunner{conn: conn},
		gateway,
		orderRepo,
		ledger,
		pricer,
		logg,
		nil,
		"https://shop.example/payment/callback",
		retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	)
	require.NoError(t, err)

	return &paymentsHarness{
		conn:      conn,
		gateway:   gateway,
		orderRepo: orderRepo,
		ledger:    ledger,
		service:   svc,
	}
}

func (h *paymentsHarness) seedOrder(t *testing.T) *models.Order {
	t.Helper()
	customer := &models.Customer{ID: uuid.New(), Name: "Ada Obi", Email: "ada@example.com"}
	require.NoError(t, h.conn.Create(customer).Error)

	order := &models.Order{
		OrderNumber:     "ORD-20260830-" + uuid.NewString()[:8],
		IdempotencyKey:  uuid.NewString(),
		CustomerID:      customer.ID,
		FulfillmentType: enums.FulfillmentTypePickup,
		ItemsSubtotal:   decimal.NewFromInt(5000),
		FulfillmentFee:  decimal.Zero,
		TotalAmount:     decimal.NewFromInt(5000),
		Currency:        enums.CurrencyNGN,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		Items: []models.OrderItem{
			{
				ProductID:   uuid.New(),
				ProductName: "Party Pack",
				UnitPrice:   decimal.NewFromInt(2500),
				Quantity:    2,
				LineTotal:   decimal.NewFromInt(5000),
			},
		},
	}
	require.NoError(t, h.orderRepo.Create(context.Background(), order))

	loaded, err := h.orderRepo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	return loaded
}

func TestInitializeHappyPath(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	result, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)
	assert.True(t, HasReferencePrefix(result.Reference))
	assert.Equal(t, "https://checkout.example/"+result.Reference, result.AuthorizationURL)
	assert.Equal(t, int64(500000), result.AmountMinor)
	assert.False(t, result.Resumed)

	require.Len(t, h.gateway.initCalls, 1)
	params := h.gateway.initCalls[0]
	assert.Equal(t, "ada@example.com", params.Email)
	assert.Equal(t, order.ID.String(), params.Metadata["order_id"])
	assert.Contains(t, params.CallbackURL, "https://shop.example/payment/callback?")

	txn, err := h.ledger.FindByProviderRef(ctx, result.Reference)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, enums.PaymentStatusPending, txn.Status)
	require.NotNil(t, txn.OrderID)
	assert.Equal(t, order.ID, *txn.OrderID)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentRef)
	assert.Equal(t, result.Reference, *stored.PaymentRef)
}

func TestInitializeResumesPendingAttempt(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	first, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)

	reloaded, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)

	second, err := h.service.Initialize(ctx, InitializeInput{Order: reloaded})
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, first.AuthorizationURL, second.AuthorizationURL)
	assert.True(t, second.Resumed)
	// The gateway was only asked once.
	assert.Len(t, h.gateway.initCalls, 1)
}

func TestInitializeRemintsOnDuplicateReference(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	h.gateway.initialize = func(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error) {
		if len(h.gateway.initCalls) == 1 {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "Duplicate Transaction Reference")
		}
		return &paystack.InitializeResult{
			AuthorizationURL: "https://checkout.example/" + params.Reference,
			Reference:        params.Reference,
		}, nil
	}

	result, err := h.service.Initialize(ctx, InitializeInput{Order: order})
	require.NoError(t, err)
	require.Len(t, h.gateway.initCalls, 2)
	assert.NotEqual(t, h.gateway.initCalls[0].Reference, h.gateway.initCalls[1].Reference)
	assert.Equal(t, h.gateway.initCalls[1].Reference, result.Reference)

	stored, err := h.orderRepo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentRef)
	assert.Equal(t, result.Reference, *stored.PaymentRef)
}

func TestInitializeCallbackEmbedsOrderIdentity(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)

	result, err := h.service.Initialize(context.Background(), InitializeInput{Order: order})
	require.NoError(t, err)

	require.Len(t, h.gateway.initCalls, 1)
	parsed, err := url.Parse(h.gateway.initCalls[0].CallbackURL)
	require.NoError(t, err)
	assert.Equal(t, "/payment/callback", parsed.Path)
	assert.Equal(t, order.ID.String(), parsed.Query().Get("order_id"))
	assert.Equal(t, result.Reference, parsed.Query().Get("reference"))
}

func TestInitializeRejectsPaidOrder(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)

	order.PaymentStatus = enums.PaymentStatusPaid
	_, err := h.service.Initialize(context.Background(), InitializeInput{Order: order})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	assert.Empty(t, h.gateway.initCalls)
}

func TestInitializeStoresClientReference(t *testing.T) {
	h := newPaymentsHarness(t)
	order := h.seedOrder(t)
	ctx := context.Background()

	clientRef := "shopfront-51"
	result, err := h.service.Initialize(ctx, InitializeInput{Order: order, ClientReference: &clientRef})
	require.NoError(t, err)

	txn, err := h.ledger.FindByClientRef(ctx, clientRef)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, result.Reference, txn.ProviderRef)
	assert.Equal(t, clientRef, h.gateway.initCalls[0].Metadata["client_reference"])
}

package orders

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/internal/customers"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

type gormTxRunner struct {
	conn *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.conn.WithContext(ctx).Transaction(fn)
}

type stubZoneLoader struct {
	zone *models.DeliveryZone
}

func (s *stubZoneLoader) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryZone, error) {
	if s.zone != nil && s.zone.ID == id {
		return s.zone, nil
	}
	return nil, nil
}

func newTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestService(t *testing.T, conn *gorm.DB, zone *models.DeliveryZone) Service {
	t.Helper()
	repo := NewRepository(conn)
	svc, err := NewService(
		&gormTxRunner{conn: conn},
		repo,
		customers.NewRepository(conn),
		&stubZoneLoader{zone: zone},
		NewNumberAllocator(nil, repo),
		newTestLogger(),
	)
	require.NoError(t, err)
	return svc
}

func validInput(key string) CreateOrderInput {
	return CreateOrderInput{
		IdempotencyKey:  key,
		CustomerName:    "Ada Obi",
		CustomerEmail:   "Ada@Example.com",
		FulfillmentType: enums.FulfillmentTypePickup,
		Items: []ItemInput{
			{
				ProductID:   uuid.New(),
				ProductName: "Suya Platter",
				UnitPrice:   decimal.NewFromInt(2500),
				Quantity:    2,
			},
		},
	}
}

func TestCreateOrGetCreatesOnce(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	order, created, err := svc.CreateOrGet(ctx, validInput("svc-key-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.NotEmpty(t, order.OrderNumber)

	replay, created, err := svc.CreateOrGet(ctx, validInput("svc-key-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, order.ID, replay.ID)

	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrGetReusesCustomerByEmail(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	first, _, err := svc.CreateOrGet(ctx, validInput("svc-cust-1"))
	require.NoError(t, err)

	input := validInput("svc-cust-2")
	input.CustomerEmail = "ADA@example.com"
	input.CustomerName = "A. Different Name"
	second, _, err := svc.CreateOrGet(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.CustomerID, second.CustomerID)

	var customer models.Customer
	require.NoError(t, conn.First(&customer, "id = ?", first.CustomerID).Error)
	// The existing record is never overwritten by later submissions.
	assert.Equal(t, "Ada Obi", customer.Name)
}

func TestCreateOrGetDeliveryChargesZoneFee(t *testing.T) {
	conn := setupOrdersTestDB(t)
	zone := &models.DeliveryZone{
		ID:     uuid.New(),
		Name:   "Lekki Phase 1",
		Fee:    decimal.NewFromInt(1200),
		Active: true,
	}
	svc := newTestService(t, conn, zone)
	ctx := context.Background()

	input := validInput("svc-delivery-1")
	input.FulfillmentType = enums.FulfillmentTypeDelivery
	input.DeliveryZoneID = &zone.ID
	address := "4 Admiralty Way"
	input.DeliveryAddress = &address

	order, _, err := svc.CreateOrGet(ctx, input)
	require.NoError(t, err)
	assert.True(t, order.FulfillmentFee.Equal(decimal.NewFromInt(1200)))
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(6200)))
}

// raceSeedingRunner inserts a competing order right before the wrapped
// transaction runs, after the service's duplicate pre-check has already
// passed, so the insert inside the transaction loses the unique-key race.
type raceSeedingRunner struct {
	inner *gormTxRunner
	seed  func(ctx context.Context) error
}

func (r *raceSeedingRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.seed != nil {
		seed := r.seed
		r.seed = nil
		if err := seed(ctx); err != nil {
			return err
		}
	}
	return r.inner.WithTx(ctx, fn)
}

func TestCreateOrGetResolvesIdempotencyRace(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	customer := seedCustomer(t, conn)

	winner := buildTestOrder(customer.ID, "svc-race-1")
	runner := &raceSeedingRunner{
		inner: &gormTxRunner{conn: conn},
		seed: func(ctx context.Context) error {
			return repo.Create(ctx, winner)
		},
	}
	svc, err := NewService(runner, repo, customers.NewRepository(conn),
		&stubZoneLoader{}, NewNumberAllocator(nil, repo), newTestLogger())
	require.NoError(t, err)

	order, created, err := svc.CreateOrGet(context.Background(), validInput("svc-race-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, order.ID)
	// The loser receives the winner's persisted payload, not its own.
	assert.True(t, order.TotalAmount.Equal(winner.TotalAmount))
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Jollof Rice", order.Items[0].ProductName)

	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrGetValidation(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"missing idempotency key", func(in *CreateOrderInput) { in.IdempotencyKey = " " }},
		{"missing email", func(in *CreateOrderInput) { in.CustomerEmail = "" }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"zero quantity", func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"zero price", func(in *CreateOrderInput) { in.Items[0].UnitPrice = decimal.Zero }},
		{"delivery without zone", func(in *CreateOrderInput) {
			in.FulfillmentType = enums.FulfillmentTypeDelivery
			in.DeliveryZoneID = nil
		}},
		{"unknown fulfillment", func(in *CreateOrderInput) { in.FulfillmentType = "drone" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput("svc-invalid-" + tc.name)
			tc.mutate(&input)
			_, _, err := svc.CreateOrGet(ctx, input)
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestGetByIDNotFound(t *testing.T) {
	conn := setupOrdersTestDB(t)
	svc := newTestService(t, conn, nil)

	_, err := svc.GetByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

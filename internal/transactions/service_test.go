package transactions

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `CREATE TABLE payment_transactions (
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
);`
	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

func newLedger(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(conn),
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func pendingInput(reference string) UpsertInput {
	url := "https://checkout.example/abc"
	return UpsertInput{
		ProviderRef:      reference,
		Amount:           decimal.NewFromInt(5000),
		Currency:         enums.CurrencyNGN,
		CustomerEmail:    "ada@example.com",
		Status:           enums.PaymentStatusPending,
		AuthorizationURL: &url,
		GatewayResponse:  json.RawMessage(`{"status":true}`),
	}
}

func TestUpsertCreatesThenAdvances(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)
	ctx := context.Background()

	created, err := ledger.Upsert(ctx, pendingInput("txn_1_aaa"))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, created.Status)

	paidAt := time.Now().UTC()
	channel := "card"
	settled, err := ledger.Upsert(ctx, UpsertInput{
		ProviderRef: "txn_1_aaa",
		Status:      enums.PaymentStatusPaid,
		Channel:     &channel,
		PaidAt:      &paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, settled.ID)
	assert.Equal(t, enums.PaymentStatusPaid, settled.Status)
	require.NotNil(t, settled.Channel)
	assert.Equal(t, "card", *settled.Channel)
	// Fields absent from the second write survive from the first.
	require.NotNil(t, settled.AuthorizationURL)
	assert.Equal(t, "ada@example.com", settled.CustomerEmail)
}

func TestUpsertIgnoresLatePendingWrite(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)
	ctx := context.Background()

	_, err := ledger.Upsert(ctx, pendingInput("txn_2_bbb"))
	require.NoError(t, err)
	_, err = ledger.Upsert(ctx, UpsertInput{ProviderRef: "txn_2_bbb", Status: enums.PaymentStatusPaid})
	require.NoError(t, err)

	// A delayed initialization write must not reopen a settled row.
	row, err := ledger.Upsert(ctx, pendingInput("txn_2_bbb"))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
}

// settleBehindRepo hands back the pending row but settles the stored copy
// before returning, so the caller's snapshot is stale by the time it writes.
type settleBehindRepo struct {
	Repository
	conn    *gorm.DB
	tripped bool
}

func (r *settleBehindRepo) FindByProviderRef(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	txn, err := r.Repository.FindByProviderRef(ctx, reference)
	if err != nil || txn == nil || r.tripped {
		return txn, err
	}
	r.tripped = true
	stale := *txn
	err = r.conn.Model(&models.PaymentTransaction{}).
		Where("id = ?", txn.ID).
		Update("status", enums.PaymentStatusPaid).Error
	if err != nil {
		return nil, err
	}
	return &stale, nil
}

func TestUpsertLosingWriteRaceKeepsSettlement(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ctx := context.Background()

	created, err := newLedger(t, conn).Upsert(ctx, pendingInput("txn_7_fff"))
	require.NoError(t, err)

	svc, err := NewService(
		&settleBehindRepo{Repository: NewRepository(conn), conn: conn},
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)

	// The late pending write loses the conditional update and must return
	// the settled row instead of clobbering it.
	row, err := svc.Upsert(ctx, pendingInput("txn_7_fff"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, row.ID)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)

	var stored models.PaymentTransaction
	require.NoError(t, conn.First(&stored, "id = ?", created.ID).Error)
	assert.Equal(t, enums.PaymentStatusPaid, stored.Status)
}

func TestUpsertKeepsFirstTerminalStatus(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)
	ctx := context.Background()

	_, err := ledger.Upsert(ctx, pendingInput("txn_3_ccc"))
	require.NoError(t, err)
	_, err = ledger.Upsert(ctx, UpsertInput{ProviderRef: "txn_3_ccc", Status: enums.PaymentStatusPaid})
	require.NoError(t, err)

	row, err := ledger.Upsert(ctx, UpsertInput{ProviderRef: "txn_3_ccc", Status: enums.PaymentStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, row.Status)
}

func TestUpsertRequiresProviderReference(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)

	_, err := ledger.Upsert(context.Background(), UpsertInput{})
	require.Error(t, err)
}

func TestFindByClientRefAndFragmentSearch(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)
	ctx := context.Background()

	clientRef := "shopfront-1699"
	input := pendingInput("txn_4_ddd")
	input.ClientRef = &clientRef
	_, err := ledger.Upsert(ctx, input)
	require.NoError(t, err)

	byClient, err := ledger.FindByClientRef(ctx, clientRef)
	require.NoError(t, err)
	require.NotNil(t, byClient)
	assert.Equal(t, "txn_4_ddd", byClient.ProviderRef)

	matches, err := ledger.SearchByReferenceFragment(ctx, "txn_4", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	matches, err = ledger.SearchByReferenceFragment(ctx, "4_ddd", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestFindPendingByOrder(t *testing.T) {
	conn := setupLedgerTestDB(t)
	ledger := newLedger(t, conn)
	ctx := context.Background()

	orderID := uuid.New()
	input := pendingInput("txn_5_eee")
	input.OrderID = &orderID
	_, err := ledger.Upsert(ctx, input)
	require.NoError(t, err)

	pending, err := ledger.FindPendingByOrder(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "txn_5_eee", pending.ProviderRef)

	_, err = ledger.Upsert(ctx, UpsertInput{ProviderRef: "txn_5_eee", Status: enums.PaymentStatusFailed})
	require.NoError(t, err)

	pending, err = ledger.FindPendingByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

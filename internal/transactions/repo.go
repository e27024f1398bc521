package transactions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
)

// Repository persists the gateway transaction ledger. The provider reference
// is the natural key; one row per reference, enforced by the database.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	UpdateIfStatus(ctx context.Context, txn *models.PaymentTransaction, expected enums.PaymentStatus) (bool, error)
	FindByProviderRef(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindByClientRef(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(database *gorm.DB) Repository {
	return &repository{db: database}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// UpdateIfStatus persists txn only while the stored row still carries the
// expected status. A false return means another writer moved the row first;
// callers must re-read before deciding anything.
func (r *repository) UpdateIfStatus(ctx context.Context, txn *models.PaymentTransaction, expected enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", txn.ID, expected).
		Updates(map[string]any{
			"status":            txn.Status,
			"amount":            txn.Amount,
			"currency":          txn.Currency,
			"customer_email":    txn.CustomerEmail,
			"client_reference":  txn.ClientRef,
			"order_id":          txn.OrderID,
			"channel":           txn.Channel,
			"authorization_url": txn.AuthorizationURL,
			"access_code":       txn.AccessCode,
			"gateway_response":  txn.GatewayResponse,
			"paid_at":           txn.PaidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	return r.findOne(ctx, "provider_reference = ?", reference)
}

func (r *repository) FindByClientRef(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("client_reference = ?", reference).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// FindPendingByOrder returns the most recent pending attempt for the order,
// used to resume an interrupted checkout instead of minting a new reference.
func (r *repository) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// SearchByReferenceFragment looks for ledger rows whose provider reference
// starts with or contains the fragment, prefix matches first.
func (r *repository) SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 5
	}
	var matches []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider_reference LIKE ?", fragment+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		return matches, nil
	}

	err = r.db.WithContext(ctx).
		Where("provider_reference LIKE ?", "%"+fragment+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where(query, arg).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

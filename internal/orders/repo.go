package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
)

// Repository persists orders and their line items. Uniqueness guarantees
// (idempotency key, order number, payment reference) are enforced by the
// database, not by application-level locks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, number string) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.Order, error)
	SetPaymentReferenceIfEmpty(ctx context.Context, orderID uuid.UUID, reference string) (string, error)
	ReplacePaymentReference(ctx context.Context, orderID uuid.UUID, reference string) error
	UpdateAmounts(ctx context.Context, orderID uuid.UUID, subtotal, fee, total decimal.Decimal) error
	MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (bool, error)
	MaxOrderNumberForPrefix(ctx context.Context, prefix string) (string, error)
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

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *repository) FindByOrderNumber(ctx context.Context, number string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", number)
}

func (r *repository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.findOne(ctx, "payment_reference = ?", reference)
}

// SearchByReferenceFragment returns orders whose payment reference starts
// with or contains the fragment, prefix matches first.
func (r *repository) SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 5
	}
	var matches []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_reference LIKE ?", fragment+"%").
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
		Where("payment_reference LIKE ?", "%"+fragment+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// SetPaymentReferenceIfEmpty assigns the reference only when none exists yet,
// then returns whichever reference actually won. Concurrent allocators
// converge on a single value without locking.
func (r *repository) SetPaymentReferenceIfEmpty(ctx context.Context, orderID uuid.UUID, reference string) (string, error) {
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_reference IS NULL", orderID).
		Update("payment_reference", reference).Error
	if err != nil {
		return "", err
	}

	var winner struct {
		PaymentReference *string
	}
	err = r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("payment_reference").
		Where("id = ?", orderID).
		First(&winner).Error
	if err != nil {
		return "", err
	}
	if winner.PaymentReference == nil {
		return "", gorm.ErrRecordNotFound
	}
	return *winner.PaymentReference, nil
}

// ReplacePaymentReference overwrites the reference unconditionally. Used only
// when the gateway rejected the previous reference as already consumed.
func (r *repository) ReplacePaymentReference(ctx context.Context, orderID uuid.UUID, reference string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_reference", reference).Error
}

func (r *repository) UpdateAmounts(ctx context.Context, orderID uuid.UUID, subtotal, fee, total decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"items_subtotal":  subtotal,
			"fulfillment_fee": fee,
			"total_amount":    total,
		}).Error
}

// MarkPaid transitions the order to paid/confirmed unless it already is. The
// boolean reports whether this call performed the transition.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, enums.PaymentStatusPaid).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"status":         enums.OrderStatusConfirmed,
			"paid_at":        paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPaymentFailed records a failed payment but never demotes a paid order.
func (r *repository) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Update("payment_status", enums.PaymentStatusFailed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MaxOrderNumberForPrefix returns the highest order number sharing the given
// prefix, used as a fallback when the counter store is unavailable.
func (r *repository) MaxOrderNumberForPrefix(ctx context.Context, prefix string) (string, error) {
	var row struct {
		OrderNumber string
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("order_number").
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return row.OrderNumber, nil
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Customer").
		Preload("DeliveryZone").
		Where(query, arg).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

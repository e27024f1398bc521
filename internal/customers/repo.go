package customers

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/quickdish-ng/storefront-backend/pkg/db"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository manages customer account records. Lookups are case-insensitive
// on email; checkout must never create two accounts for the same address.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByEmail(ctx context.Context, email string) (*models.Customer, error)
	CreateOrGet(ctx context.Context, customer *models.Customer) (*models.Customer, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a customers repository bound to the provided DB.
func NewRepository(database *gorm.DB) Repository {
	return &repository{db: database}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// CreateOrGet inserts the customer, or returns the existing row when another
// request won the race on the email uniqueness constraint. Existing customer
// details are never overwritten.
func (r *repository) CreateOrGet(ctx context.Context, customer *models.Customer) (*models.Customer, error) {
	existing, err := r.FindByEmail(ctx, customer.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(customer).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return r.FindByEmail(ctx, customer.Email)
		}
		return nil, err
	}
	return customer, nil
}

package transactions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quickdish-ng/storefront-backend/pkg/db"
	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
	"github.com/quickdish-ng/storefront-backend/pkg/enums"
	pkgerrors "github.com/quickdish-ng/storefront-backend/pkg/errors"
	"github.com/quickdish-ng/storefront-backend/pkg/logger"
)

// UpsertInput carries everything known about a gateway attempt at write time.
// Zero-value optional fields leave the stored column untouched.
type UpsertInput struct {
	ProviderRef      string
	ClientRef        *string
	OrderID          *uuid.UUID
	Amount           decimal.Decimal
	Currency         enums.Currency
	CustomerEmail    string
	Status           enums.PaymentStatus
	Channel          *string
	AuthorizationURL *string
	AccessCode       *string
	GatewayResponse  json.RawMessage
	PaidAt           *time.Time
}

// Service is the audit ledger for gateway attempts. Rows are keyed by
// provider reference and only ever move forward: a terminal row ignores a
// late pending write, and a paid row is never demoted.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Upsert(ctx context.Context, input UpsertInput) (*models.PaymentTransaction, error)
	FindByProviderRef(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindByClientRef(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error)
	SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
}

type service struct {
	repo   Repository
	logger *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "transactions repository is required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "logger is required")
	}
	return &service{repo: repo, logger: logg}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logger: s.logger}
}

// Upsert writes or advances the ledger row for the provider reference.
func (s *service) Upsert(ctx context.Context, input UpsertInput) (*models.PaymentTransaction, error) {
	if input.ProviderRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider reference is required")
	}
	if input.Status != "" && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown transaction status")
	}
	return s.upsert(ctx, input, true)
}

func (s *service) upsert(ctx context.Context, input UpsertInput, retryOnRace bool) (*models.PaymentTransaction, error) {
	existing, err := s.repo.FindByProviderRef(ctx, input.ProviderRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading ledger row")
	}

	if existing == nil {
		txn := s.build(input)
		if err := s.repo.Create(ctx, txn); err != nil {
			if db.IsUniqueViolation(err, "provider_reference") && retryOnRace {
				// Concurrent writer created the row first; apply against it.
				return s.upsert(ctx, input, false)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "creating ledger row")
		}
		return txn, nil
	}

	if existing.Status.IsTerminal() {
		if input.Status == enums.PaymentStatusPending || input.Status == "" {
			ctx = s.logger.WithReference(ctx, input.ProviderRef)
			s.logger.Info(ctx, "ignoring pending write against settled ledger row")
			return existing, nil
		}
		if input.Status != existing.Status {
			ctx = s.logger.WithReference(ctx, input.ProviderRef)
			s.logger.Warn(s.logger.WithFields(ctx, map[string]any{
				"stored_status":   existing.Status.String(),
				"incoming_status": input.Status.String(),
			}), "conflicting terminal status for ledger row, keeping stored value")
			return existing, nil
		}
	}

	expected := existing.Status
	s.apply(existing, input)
	updated, err := s.repo.UpdateIfStatus(ctx, existing, expected)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "updating ledger row")
	}
	if !updated {
		// The row moved while we held a stale snapshot. Re-run against the
		// winner; statuses only advance, so one retry settles it.
		if retryOnRace {
			return s.upsert(ctx, input, false)
		}
		current, loadErr := s.repo.FindByProviderRef(ctx, input.ProviderRef)
		if loadErr != nil || current == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, loadErr, "reloading ledger row after write race")
		}
		return current, nil
	}
	return existing, nil
}

func (s *service) build(input UpsertInput) *models.PaymentTransaction {
	status := input.Status
	if status == "" {
		status = enums.PaymentStatusPending
	}
	currency := input.Currency
	if !currency.IsValid() {
		currency = enums.CurrencyNGN
	}
	return &models.PaymentTransaction{
		ProviderRef:      input.ProviderRef,
		ClientRef:        input.ClientRef,
		OrderID:          input.OrderID,
		Amount:           input.Amount,
		Currency:         currency,
		CustomerEmail:    input.CustomerEmail,
		Status:           status,
		Channel:          input.Channel,
		AuthorizationURL: input.AuthorizationURL,
		AccessCode:       input.AccessCode,
		GatewayResponse:  input.GatewayResponse,
		PaidAt:           input.PaidAt,
	}
}

func (s *service) apply(txn *models.PaymentTransaction, input UpsertInput) {
	if input.Status != "" {
		txn.Status = input.Status
	}
	if !input.Amount.IsZero() {
		txn.Amount = input.Amount
	}
	if input.Currency.IsValid() {
		txn.Currency = input.Currency
	}
	if input.CustomerEmail != "" {
		txn.CustomerEmail = input.CustomerEmail
	}
	if input.ClientRef != nil {
		txn.ClientRef = input.ClientRef
	}
	if input.OrderID != nil {
		txn.OrderID = input.OrderID
	}
	if input.Channel != nil {
		txn.Channel = input.Channel
	}
	if input.AuthorizationURL != nil {
		txn.AuthorizationURL = input.AuthorizationURL
	}
	if input.AccessCode != nil {
		txn.AccessCode = input.AccessCode
	}
	if len(input.GatewayResponse) > 0 {
		txn.GatewayResponse = input.GatewayResponse
	}
	if input.PaidAt != nil {
		txn.PaidAt = input.PaidAt
	}
}

func (s *service) FindByProviderRef(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	return s.repo.FindByProviderRef(ctx, reference)
}

func (s *service) FindByClientRef(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	return s.repo.FindByClientRef(ctx, reference)
}

func (s *service) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.repo.FindPendingByOrder(ctx, orderID)
}

func (s *service) SearchByReferenceFragment(ctx context.Context, fragment string, limit int) ([]models.PaymentTransaction, error) {
	return s.repo.SearchByReferenceFragment(ctx, fragment, limit)
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

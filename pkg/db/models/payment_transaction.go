package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickdish-ng/storefront-backend/pkg/enums"
)

// PaymentTransaction records one gateway-side attempt tied to a provider
// reference. At most one row exists per provider reference; pending rows may
// move to paid or failed exactly once.
type PaymentTransaction struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderRef      string              `gorm:"column:provider_reference;not null;uniqueIndex"`
	ClientRef        *string             `gorm:"column:client_reference;index"`
	OrderID          *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         enums.Currency      `gorm:"column:currency;type:text;not null;default:'NGN'"`
	CustomerEmail    string              `gorm:"column:customer_email;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Channel          *string             `gorm:"column:channel"`
	AuthorizationURL *string             `gorm:"column:authorization_url"`
	AccessCode       *string             `gorm:"column:access_code"`
	GatewayResponse  json.RawMessage     `gorm:"column:gateway_response;type:jsonb"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

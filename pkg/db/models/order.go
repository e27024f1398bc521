package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickdish-ng/storefront-backend/pkg/enums"
)

// Order represents one customer purchase intent. Exactly one non-cancelled
// order exists per idempotency key; the payment reference is set once and is
// stable across retries.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string                `gorm:"column:order_number;not null;uniqueIndex"`
	IdempotencyKey  string                `gorm:"column:idempotency_key;not null;uniqueIndex"`
	CustomerID      uuid.UUID             `gorm:"column:customer_id;type:uuid;not null"`
	FulfillmentType enums.FulfillmentType `gorm:"column:fulfillment_type;type:text;not null"`
	DeliveryZoneID  *uuid.UUID            `gorm:"column:delivery_zone_id;type:uuid"`
	DeliveryAddress *string               `gorm:"column:delivery_address"`
	ItemsSubtotal   decimal.Decimal       `gorm:"column:items_subtotal;type:numeric(12,2);not null"`
	FulfillmentFee  decimal.Decimal       `gorm:"column:fulfillment_fee;type:numeric(12,2);not null"`
	TotalAmount     decimal.Decimal       `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency        enums.Currency        `gorm:"column:currency;type:text;not null;default:'NGN'"`
	Status          enums.OrderStatus     `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus   enums.PaymentStatus   `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentRef      *string               `gorm:"column:payment_reference;uniqueIndex"`
	PaidAt          *time.Time            `gorm:"column:paid_at"`
	Customer        *Customer             `gorm:"foreignKey:CustomerID"`
	DeliveryZone    *DeliveryZone         `gorm:"foreignKey:DeliveryZoneID"`
	Items           []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

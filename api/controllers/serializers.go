package controllers

import (
	"time"

	"github.com/quickdish-ng/storefront-backend/pkg/db/models"
)

type orderItemView struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
}

type orderView struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	FulfillmentType string          `json:"fulfillment_type"`
	DeliveryAddress *string         `json:"delivery_address,omitempty"`
	ItemsSubtotal   string          `json:"items_subtotal"`
	FulfillmentFee  string          `json:"fulfillment_fee"`
	TotalAmount     string          `json:"total_amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	PaymentRef      *string         `json:"payment_reference,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Items           []orderItemView `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
}

type transactionView struct {
	ID              string     `json:"id"`
	ProviderRef     string     `json:"provider_reference"`
	ClientRef       *string    `json:"client_reference,omitempty"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	Channel         *string    `json:"channel,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func serializeOrder(order *models.Order) orderView {
	items := make([]orderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemView{
			ProductID:   item.ProductID.String(),
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal.StringFixed(2),
		})
	}
	return orderView{
		ID:              order.ID.String(),
		OrderNumber:     order.OrderNumber,
		FulfillmentType: order.FulfillmentType.String(),
		DeliveryAddress: order.DeliveryAddress,
		ItemsSubtotal:   order.ItemsSubtotal.StringFixed(2),
		FulfillmentFee:  order.FulfillmentFee.StringFixed(2),
		TotalAmount:     order.TotalAmount.StringFixed(2),
		Currency:        order.Currency.String(),
		Status:          order.Status.String(),
		PaymentStatus:   order.PaymentStatus.String(),
		PaymentRef:      order.PaymentRef,
		PaidAt:          order.PaidAt,
		Items:           items,
		CreatedAt:       order.CreatedAt,
	}
}

func serializeTransactions(txns []models.PaymentTransaction) []transactionView {
	views := make([]transactionView, 0, len(txns))
	for _, txn := range txns {
		views = append(views, transactionView{
			ID:          txn.ID.String(),
			ProviderRef: txn.ProviderRef,
			ClientRef:   txn.ClientRef,
			Amount:      txn.Amount.StringFixed(2),
			Currency:    txn.Currency.String(),
			Status:      txn.Status.String(),
			Channel:     txn.Channel,
			PaidAt:      txn.PaidAt,
			CreatedAt:   txn.CreatedAt,
		})
	}
	return views
}

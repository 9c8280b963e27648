package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMarker tracks the payment side of an order independently of its status.
type PaymentMarker string

const (
	PaymentMarkerNone     PaymentMarker = ""
	PaymentMarkerAwaiting PaymentMarker = "awaiting_payment"
	PaymentMarkerFailed   PaymentMarker = "failed"
	PaymentMarkerPaid     PaymentMarker = "paid"
)

type OrderItem struct {
	ProductType string          `json:"product_type"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentMarker   `json:"payment_status,omitempty"`
	InvoiceID     *int64          `json:"invoice_id,omitempty"`
	InvoiceURL    string          `json:"invoice_url,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Customer *Customer `json:"customer,omitempty"`
}

// HasInvoice reports whether an invoice reference is already attached.
func (o *Order) HasInvoice() bool {
	return o.InvoiceID != nil && *o.InvoiceID > 0
}

// OrderPatch is a partial staff update. Nil fields are left untouched.
type OrderPatch struct {
	Status      *OrderStatus     `json:"status,omitempty"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
}

// OrderItemInput is what a customer submits; prices come from the server side table.
type OrderItemInput struct {
	ProductType string `json:"product_type"`
	Quantity    int    `json:"quantity"`
}

// UnmarshalJSON also accepts the camelCase productType used by older clients.
func (in *OrderItemInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductType      string `json:"product_type"`
		ProductTypeCamel string `json:"productType"`
		Quantity         int    `json:"quantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	in.ProductType = raw.ProductType
	if in.ProductType == "" {
		in.ProductType = raw.ProductTypeCamel
	}
	in.Quantity = raw.Quantity
	return nil
}

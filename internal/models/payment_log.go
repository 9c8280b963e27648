package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PaymentLog is one payment attempt against one order via one provider.
type PaymentLog struct {
	ID            int64             `json:"id"`
	OrderID       int64             `json:"order_id"`
	CustomerID    int64             `json:"customer_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Provider      string            `json:"provider"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	Status        PaymentStatus     `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

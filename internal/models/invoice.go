package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
)

// Invoice is issued once per order, numbered INV-<year>-<4-digit sequence>.
type Invoice struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     InvoiceStatus   `json:"status"`
	URL        string          `json:"url,omitempty"`
	IssuedAt   time.Time       `json:"issued_at"`
}

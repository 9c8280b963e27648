package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ordersBack/internal/models"
)

// Persistence ports; implemented by internal/repositories on MySQL.

type OrderStore interface {
	Create(ctx context.Context, o models.Order) (models.Order, error)
	GetByID(ctx context.Context, id int64) (models.Order, error)
	List(ctx context.Context, customerID *int64) ([]models.Order, error)
	UpdateFields(ctx context.Context, id int64, total *decimal.Decimal, notes *string) error
	TransitionStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
	MarkPaid(ctx context.Context, id int64, from models.OrderStatus, paidAt time.Time, invoiceID *int64, invoiceURL string) error
	// SetPaymentStatus must not overwrite a paid marker.
	SetPaymentStatus(ctx context.Context, id int64, marker models.PaymentMarker) error
	AttachInvoice(ctx context.Context, id, invoiceID int64, url string) error
}

type CustomerStore interface {
	GetByUserID(ctx context.Context, userID int64) (models.Customer, error)
	GetByID(ctx context.Context, id int64) (models.Customer, error)
}

type PaymentLogStore interface {
	Create(ctx context.Context, p models.PaymentLog) (models.PaymentLog, error)
	Save(ctx context.Context, p models.PaymentLog) error
	GetByID(ctx context.Context, id int64) (models.PaymentLog, error)
	GetByTransaction(ctx context.Context, provider, transactionID string) (models.PaymentLog, error)
	LatestForOrder(ctx context.Context, orderID int64) (models.PaymentLog, error)
	CompletedForOrder(ctx context.Context, orderID int64) (models.PaymentLog, error)
	ListByOrder(ctx context.Context, orderID int64) ([]models.PaymentLog, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentLog, error)
	Expire(ctx context.Context, p models.PaymentLog) (bool, error)
}

type InvoiceStore interface {
	NextSequence(ctx context.Context, year int) (int64, error)
	Create(ctx context.Context, inv models.Invoice) (models.Invoice, error)
	GetByID(ctx context.Context, id int64) (models.Invoice, error)
	GetByOrderID(ctx context.Context, orderID int64) (models.Invoice, error)
	ListAll(ctx context.Context) ([]models.Invoice, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Invoice, error)
	SetURL(ctx context.Context, id int64, url string, status models.InvoiceStatus) error
}

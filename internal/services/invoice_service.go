package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ordersBack/internal/events"
	"ordersBack/internal/models"
	"ordersBack/internal/timeutil"
)

// DocumentPublisher renders or registers the invoice document and returns a link to it.
type DocumentPublisher interface {
	Publish(ctx context.Context, inv models.Invoice, order models.Order, customer models.Customer) (string, error)
}

// InvoiceService issues invoices. Numbers come from an atomic per-year counter and the
// unique order_id index guarantees at most one invoice per order.
type InvoiceService struct {
	Invoices  InvoiceStore
	Orders    OrderStore
	Customers CustomerStore
	Documents DocumentPublisher
	Events    events.Publisher
	Logger    *slog.Logger

	SideEffectTimeout time.Duration
	Now               func() time.Time
}

// FormatInvoiceNumber renders INV-<year>-<seq>, the sequence zero padded to four digits.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

func (s *InvoiceService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *InvoiceService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GenerateNumber reserves the next number of the current business year.
func (s *InvoiceService) GenerateNumber(ctx context.Context) (string, error) {
	year := timeutil.Year(s.now())
	seq, err := s.Invoices.NextSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("next invoice sequence: %w", err)
	}
	return FormatInvoiceNumber(year, seq), nil
}

// Create issues the invoice of an order. An existing invoice yields models.ErrInvoiceExists.
func (s *InvoiceService) Create(ctx context.Context, orderID int64) (models.Invoice, error) {
	logger := s.logger().With("op", "InvoiceService.Create", "order_id", orderID)

	order, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return models.Invoice{}, err
	}
	if _, err := s.Invoices.GetByOrderID(ctx, orderID); err == nil {
		return models.Invoice{}, models.ErrInvoiceExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.Invoice{}, err
	}
	customer, err := s.Customers.GetByID(ctx, order.CustomerID)
	if err != nil {
		return models.Invoice{}, err
	}

	number, err := s.GenerateNumber(ctx)
	if err != nil {
		return models.Invoice{}, err
	}
	inv, err := s.Invoices.Create(ctx, models.Invoice{
		Number:     number,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.TotalAmount,
		Status:     models.InvoiceStatusDraft,
		IssuedAt:   s.now().UTC(),
	})
	if err != nil {
		// a concurrent issuer won the unique index; the reserved number is skipped
		return models.Invoice{}, err
	}
	logger.Info("invoice issued", "invoice_id", inv.ID, "number", inv.Number)

	if s.Documents != nil {
		bestEffort(ctx, logger, s.SideEffectTimeout, "publish invoice document", func(ctx context.Context) error {
			url, err := s.Documents.Publish(ctx, inv, order, customer)
			if err != nil {
				return err
			}
			if err := s.Invoices.SetURL(ctx, inv.ID, url, models.InvoiceStatusSent); err != nil {
				return err
			}
			inv.URL = url
			inv.Status = models.InvoiceStatusSent
			return nil
		})
	}

	if err := s.Orders.AttachInvoice(ctx, order.ID, inv.ID, inv.URL); err != nil {
		logger.Error("attach invoice to order failed", "invoice_id", inv.ID, "err", err)
	}
	if s.Events != nil {
		bestEffort(ctx, logger, s.SideEffectTimeout, "publish invoices.issued", func(ctx context.Context) error {
			return s.Events.Publish(ctx, events.New(events.TopicInvoiceIssued, order.ID, inv))
		})
	}
	return inv, nil
}

// ForOrder returns the invoice already issued for an order.
func (s *InvoiceService) ForOrder(ctx context.Context, orderID int64) (models.Invoice, error) {
	return s.Invoices.GetByOrderID(ctx, orderID)
}

// FindAll lists every invoice for staff and only the caller's own invoices otherwise.
func (s *InvoiceService) FindAll(ctx context.Context, role string, userID int64) ([]models.Invoice, error) {
	if models.IsStaff(role) {
		return s.Invoices.ListAll(ctx)
	}
	return s.Invoices.ListByUser(ctx, userID)
}

// FindAccessible hides invoices of other customers behind NotFound.
func (s *InvoiceService) FindAccessible(ctx context.Context, role string, userID, invoiceID int64) (models.Invoice, error) {
	inv, err := s.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	if models.IsStaff(role) {
		return inv, nil
	}
	customer, err := s.Customers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Invoice{}, models.ErrInvoiceNotFound
		}
		return models.Invoice{}, err
	}
	if inv.CustomerID != customer.ID {
		return models.Invoice{}, models.ErrInvoiceNotFound
	}
	return inv, nil
}

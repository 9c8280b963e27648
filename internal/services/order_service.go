package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ordersBack/internal/events"
	"ordersBack/internal/fsm"
	"ordersBack/internal/lock"
	"ordersBack/internal/models"
)

// InvoiceIssuer is the part of InvoiceService the order lifecycle depends on.
type InvoiceIssuer interface {
	Create(ctx context.Context, orderID int64) (models.Invoice, error)
	ForOrder(ctx context.Context, orderID int64) (models.Invoice, error)
}

// OrderService owns order creation, pricing, access scoping and status changes.
// Every move into paid goes through MarkOrderPaid.
type OrderService struct {
	Orders    OrderStore
	Customers CustomerStore
	Invoices  InvoiceIssuer
	Locker    lock.Locker
	Events    events.Publisher
	Logger    *slog.Logger

	// Prices maps product type to unit price.
	Prices map[string]decimal.Decimal

	SideEffectTimeout time.Duration
	Now               func() time.Time
}

func (s *OrderService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func orderLockKey(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

// PriceItems validates the lines and prices them from the product table.
func (s *OrderService) PriceItems(items []models.OrderItemInput) ([]models.OrderItem, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, fmt.Errorf("order must contain at least one item: %w", models.ErrValidation)
	}
	lines := make([]models.OrderItem, 0, len(items))
	total := decimal.Zero
	for i, it := range items {
		productType := strings.TrimSpace(it.ProductType)
		price, ok := s.Prices[productType]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("item %d: unknown product type %q: %w", i, it.ProductType, models.ErrValidation)
		}
		if it.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("item %d: quantity must be positive: %w", i, models.ErrValidation)
		}
		lineTotal := price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lines = append(lines, models.OrderItem{
			ProductType: productType,
			Quantity:    it.Quantity,
			UnitPrice:   price,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return lines, total, nil
}

// Create places a pending order for the customer profile of userID.
func (s *OrderService) Create(ctx context.Context, userID int64, items []models.OrderItemInput, notes string) (models.Order, error) {
	customer, err := s.Customers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Order{}, models.ErrCustomerProfileMissing
		}
		return models.Order{}, err
	}
	lines, total, err := s.PriceItems(items)
	if err != nil {
		return models.Order{}, err
	}

	order, err := s.Orders.Create(ctx, models.Order{
		CustomerID:  customer.ID,
		Items:       lines,
		TotalAmount: total,
		Status:      models.OrderStatusPending,
		Notes:       strings.TrimSpace(notes),
	})
	if err != nil {
		return models.Order{}, err
	}
	order.Customer = &customer
	s.logger().Info("order created", "order_id", order.ID, "customer_id", customer.ID, "total", total.String())
	return order, nil
}

// FindAccessible loads an order with its customer. Non-staff callers only see their
// own orders; anything else is reported as NotFound.
func (s *OrderService) FindAccessible(ctx context.Context, role string, userID, orderID int64) (models.Order, error) {
	order, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if models.IsStaff(role) {
		customer, err := s.Customers.GetByID(ctx, order.CustomerID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.Order{}, err
		}
		if err == nil {
			order.Customer = &customer
		}
		return order, nil
	}

	customer, err := s.Customers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Order{}, models.ErrOrderNotFound
		}
		return models.Order{}, err
	}
	if order.CustomerID != customer.ID {
		return models.Order{}, models.ErrOrderNotFound
	}
	order.Customer = &customer
	return order, nil
}

// List returns every order for staff and the caller's own orders otherwise.
func (s *OrderService) List(ctx context.Context, role string, userID int64) ([]models.Order, error) {
	if models.IsStaff(role) {
		return s.Orders.List(ctx, nil)
	}
	customer, err := s.Customers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []models.Order{}, nil
		}
		return nil, err
	}
	return s.Orders.List(ctx, &customer.ID)
}

// Update applies a staff patch. A move into paid is delegated to MarkOrderPaid so the
// invoice is created exactly once whichever path gets there first.
func (s *OrderService) Update(ctx context.Context, orderID int64, patch models.OrderPatch) (models.Order, error) {
	if patch.Status != nil && !fsm.Valid(*patch.Status) {
		return models.Order{}, fmt.Errorf("unknown status %q: %w", *patch.Status, models.ErrValidation)
	}
	if patch.TotalAmount != nil && patch.TotalAmount.IsNegative() {
		return models.Order{}, fmt.Errorf("total amount must not be negative: %w", models.ErrValidation)
	}

	order, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if patch.TotalAmount != nil && !patch.TotalAmount.Equal(order.TotalAmount) && order.Status != models.OrderStatusPending && order.Status != models.OrderStatusApproved {
		return models.Order{}, fmt.Errorf("total of a %s order cannot change: %w", order.Status, models.ErrConflict)
	}
	if patch.TotalAmount != nil || patch.Notes != nil {
		if err := s.Orders.UpdateFields(ctx, orderID, patch.TotalAmount, patch.Notes); err != nil {
			return models.Order{}, err
		}
	}

	if patch.Status != nil && *patch.Status != order.Status {
		if *patch.Status == models.OrderStatusPaid {
			if _, _, err := s.MarkOrderPaid(ctx, orderID); err != nil {
				return models.Order{}, err
			}
		} else if err := s.transition(ctx, order, *patch.Status); err != nil {
			return models.Order{}, err
		}
	}
	return s.Orders.GetByID(ctx, orderID)
}

// Cancel is allowed from pending or approved only.
func (s *OrderService) Cancel(ctx context.Context, role string, userID, orderID int64) (models.Order, error) {
	order, err := s.FindAccessible(ctx, role, userID, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if err := s.transition(ctx, order, models.OrderStatusCancelled); err != nil {
		return models.Order{}, err
	}
	updated, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	updated.Customer = order.Customer
	return updated, nil
}

func (s *OrderService) transition(ctx context.Context, order models.Order, to models.OrderStatus) error {
	if !fsm.CanTransition(order.Status, to) {
		return fmt.Errorf("%s -> %s: %w", order.Status, to, models.ErrInvalidTransition)
	}
	if err := s.Orders.TransitionStatus(ctx, order.ID, order.Status, to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %d changed concurrently: %w", order.ID, models.ErrConflict)
		}
		return err
	}
	s.logger().Info("order status changed", "order_id", order.ID, "from", order.Status, "to", to)
	s.publish(ctx, events.TopicOrderStatus, order.ID, map[string]string{"from": string(order.Status), "to": string(to)})
	return nil
}

// MarkOrderPaid is the single place an order becomes paid. Under the per-order lease it
// issues the invoice if there is none (best-effort), moves the status with a conditional
// update and publishes orders.paid. changed is false when there was nothing to do.
func (s *OrderService) MarkOrderPaid(ctx context.Context, orderID int64) (order models.Order, changed bool, err error) {
	logger := s.logger().With("op", "MarkOrderPaid", "order_id", orderID)

	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, orderLockKey(orderID))
		if err != nil {
			return models.Order{}, false, err
		}
		defer release()
	}

	order, err = s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return models.Order{}, false, err
	}
	if order.Status == models.OrderStatusCancelled {
		return order, false, fmt.Errorf("order %d is cancelled: %w", orderID, models.ErrInvalidTransition)
	}
	alreadyPaid := order.Status == models.OrderStatusPaid
	pastPaid := order.Status == models.OrderStatusShipped || order.Status == models.OrderStatusDelivered
	if (alreadyPaid || pastPaid) && order.HasInvoice() && order.PaymentStatus == models.PaymentMarkerPaid {
		return order, false, nil
	}

	var invoice *models.Invoice
	if !order.HasInvoice() && s.Invoices != nil {
		bestEffort(ctx, logger, s.SideEffectTimeout, "issue invoice", func(ctx context.Context) error {
			inv, err := s.Invoices.Create(ctx, orderID)
			if errors.Is(err, models.ErrInvoiceExists) {
				inv, err = s.Invoices.ForOrder(ctx, orderID)
			}
			if err != nil {
				return err
			}
			invoice = &inv
			return nil
		})
	}

	var invoiceID *int64
	var invoiceURL string
	if invoice != nil {
		invoiceID = &invoice.ID
		invoiceURL = invoice.URL
	}

	switch {
	case pastPaid:
		// payment confirmed after staff already shipped; only the marker moves
		if err := s.Orders.SetPaymentStatus(ctx, orderID, models.PaymentMarkerPaid); err != nil {
			return order, false, err
		}
	default:
		if err := s.Orders.MarkPaid(ctx, orderID, order.Status, s.now().UTC(), invoiceID, invoiceURL); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order, false, fmt.Errorf("order %d changed concurrently: %w", orderID, models.ErrConflict)
			}
			return order, false, err
		}
	}

	updated, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return order, false, err
	}
	moved := !alreadyPaid && !pastPaid
	if moved {
		logger.Info("order paid", "from", order.Status, "invoice_attached", updated.HasInvoice())
		s.publish(ctx, events.TopicOrderPaid, orderID, map[string]any{
			"from":       order.Status,
			"total":      updated.TotalAmount,
			"invoiceUrl": updated.InvoiceURL,
		})
	}
	return updated, moved || invoice != nil, nil
}

func (s *OrderService) publish(ctx context.Context, topic string, orderID int64, data any) {
	if s.Events == nil {
		return
	}
	bestEffort(ctx, s.logger(), s.SideEffectTimeout, "publish "+topic, func(ctx context.Context) error {
		return s.Events.Publish(ctx, events.New(topic, orderID, data))
	})
}

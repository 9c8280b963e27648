// Package events carries order and payment domain events to Kafka and the staff feeds.
package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderPaid      = "orders.paid"
	TopicOrderStatus    = "orders.status"
	TopicPaymentFailed  = "payments.failed"
	TopicInvoiceIssued  = "invoices.issued"
	TopicPaymentExpired = "payments.expired"
)

// Event is the envelope shared by every sink.
type Event struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	OrderID int64     `json:"orderId"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// Key partitions events per order so consumers see them in order.
func (e Event) Key() string { return strconv.FormatInt(e.OrderID, 10) }

func New(topic string, orderID int64, data any) Event {
	return Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		OrderID: orderID,
		At:      time.Now().UTC(),
		Data:    data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi delivers to every sink; one failing sink does not stop the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

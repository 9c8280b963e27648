package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/messaging"

	"ordersBack/internal/events"
)

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushService alerts staff devices subscribed to a topic. It is an events.Publisher and
// only reacts to the events staff care about.
type PushService struct {
	Client MessageSender
	Topic  string
	Logger *slog.Logger
}

func (p *PushService) Publish(ctx context.Context, e events.Event) error {
	var title, body string
	switch e.Topic {
	case events.TopicOrderPaid:
		title = "Order paid"
		body = fmt.Sprintf("Order #%d has been paid", e.OrderID)
	case events.TopicPaymentFailed:
		title = "Payment failed"
		body = fmt.Sprintf("Payment for order #%d failed", e.OrderID)
	default:
		return nil
	}

	message := &messaging.Message{
		Topic: p.Topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"event":    e.Topic,
			"order_id": strconv.FormatInt(e.OrderID, 10),
			"event_id": e.ID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: title, Body: body},
					Sound: "default",
				},
			},
		},
	}

	id, err := p.Client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("fcm send %s: %w", e.Topic, err)
	}
	if p.Logger != nil {
		p.Logger.Debug("staff push sent", "topic", p.Topic, "event", e.Topic, "order_id", e.OrderID, "message_id", id)
	}
	return nil
}

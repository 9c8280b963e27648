package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"ordersBack/internal/models"
)

const (
	NotifyWhatsApp = "whatsapp"
	NotifySMS      = "sms"
	NotifyNone     = "none"
)

type WhatsAppSender interface {
	Configured() bool
	SendTemplate(ctx context.Context, phone, template string, params []string) error
}

type SMSSender interface {
	Configured() bool
	Send(ctx context.Context, phone, text string) error
}

type NotificationResult struct {
	Method  string `json:"method"`
	Success bool   `json:"success"`
}

// NotificationService tells a customer their order is paid: WhatsApp first, SMS as fallback.
type NotificationService struct {
	WhatsApp WhatsAppSender
	SMS      SMSSender
	Template string
	Logger   *slog.Logger
}

func (s *NotificationService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// SendOrderConfirmation never fails; the result says which channel delivered, if any.
func (s *NotificationService) SendOrderConfirmation(ctx context.Context, customer models.Customer, orderID int64, invoiceURL string) NotificationResult {
	logger := s.logger().With("op", "SendOrderConfirmation", "order_id", orderID, "customer_id", customer.ID)

	phone := normalizePhone(customer.Phone)
	if phone == "" {
		logger.Warn("customer has no phone, skipping notification")
		return NotificationResult{Method: NotifyNone}
	}

	if s.WhatsApp != nil && s.WhatsApp.Configured() {
		name := customer.ContactName
		if name == "" {
			name = customer.CompanyName
		}
		template := s.Template
		if template == "" {
			template = "order_confirmation"
		}
		err := s.WhatsApp.SendTemplate(ctx, phone, template, []string{name, strconv.FormatInt(orderID, 10), invoiceURL})
		if err == nil {
			logger.Info("order confirmation sent", "method", NotifyWhatsApp)
			return NotificationResult{Method: NotifyWhatsApp, Success: true}
		}
		logger.Warn("whatsapp send failed, falling back to sms", "err", err)
	}

	if s.SMS != nil && s.SMS.Configured() {
		text := fmt.Sprintf("Order #%d is paid. Invoice: %s", orderID, invoiceURL)
		if err := s.SMS.Send(ctx, phone, text); err != nil {
			logger.Error("sms send failed", "err", err)
			return NotificationResult{Method: NotifyNone}
		}
		logger.Info("order confirmation sent", "method", NotifySMS)
		return NotificationResult{Method: NotifySMS, Success: true}
	}

	logger.Warn("no notification channel delivered")
	return NotificationResult{Method: NotifyNone}
}

// normalizePhone keeps digits only.
func normalizePhone(phone string) string {
	out := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if c := phone[i]; c >= '0' && c <= '9' {
			out = append(out, c)
		}
	}
	return string(out)
}

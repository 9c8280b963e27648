package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ordersBack/internal/events"
	"ordersBack/internal/lock"
	"ordersBack/internal/models"
	"ordersBack/internal/pay"
)

// maxWebhookMetadata caps the raw webhook body kept in the ledger.
const maxWebhookMetadata = 8 << 10

// metaDuplicateOf marks a ledger entry captured after another one already settled the order.
const metaDuplicateOf = "duplicate_capture_of"

type ProviderResolver interface {
	Get(name string) (pay.Provider, error)
}

// OrderLifecycle is the part of OrderService the payment flow depends on.
type OrderLifecycle interface {
	FindAccessible(ctx context.Context, role string, userID, orderID int64) (models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64) (models.Order, bool, error)
}

type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, customer models.Customer, orderID int64, invoiceURL string) NotificationResult
}

// PaymentService opens ledger entries, calls gateways and ingests their webhooks.
type PaymentService struct {
	Providers ProviderResolver
	Payments  PaymentLogStore
	Orders    OrderStore
	Customers CustomerStore
	Lifecycle OrderLifecycle
	Notifier  ConfirmationSender
	Locker    lock.Locker
	Events    events.Publisher
	Logger    *slog.Logger

	DefaultProvider string
	Currency        string

	SideEffectTimeout time.Duration
	Now               func() time.Time
}

type CreatePaymentInput struct {
	Provider string
	OrderID  int64
	Role     string
	UserID   int64
}

// WebhookAck is returned to the gateway whenever the event was accepted.
type WebhookAck struct {
	Success bool  `json:"success"`
	OrderID int64 `json:"orderId"`
	// Reply is set for gateways that expect a specific plain text answer.
	Reply string `json:"-"`
}

func ackFor(provider pay.Provider, result pay.WebhookResult) WebhookAck {
	ack := WebhookAck{Success: true, OrderID: result.OrderID}
	if r, ok := provider.(pay.Replier); ok {
		ack.Reply = r.WebhookReply(result)
	}
	return ack
}

func (s *PaymentService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func ledgerLockKey(orderID int64) string {
	return "payment:order:" + strconv.FormatInt(orderID, 10)
}

// CreatePayment starts a payment attempt for the full order total.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (pay.CreateResult, error) {
	name := strings.TrimSpace(in.Provider)
	if name == "" {
		name = s.DefaultProvider
	}
	provider, err := s.Providers.Get(name)
	if err != nil {
		return pay.CreateResult{}, err
	}
	logger := s.logger().With("op", "CreatePayment", "order_id", in.OrderID, "provider", provider.Name())

	order, err := s.Lifecycle.FindAccessible(ctx, in.Role, in.UserID, in.OrderID)
	if err != nil {
		return pay.CreateResult{}, err
	}
	if err := payable(order); err != nil {
		return pay.CreateResult{}, err
	}
	if done, err := s.Payments.CompletedForOrder(ctx, order.ID); err == nil {
		return pay.CreateResult{}, fmt.Errorf("order %d already captured by payment %d: %w", order.ID, done.ID, models.ErrOrderSettled)
	} else if !errors.Is(err, models.ErrNotFound) {
		return pay.CreateResult{}, err
	}

	customer := models.Customer{ID: order.CustomerID}
	if order.Customer != nil {
		customer = *order.Customer
	}

	entry, err := s.Payments.Create(ctx, models.PaymentLog{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.TotalAmount,
		Currency:   s.Currency,
		Provider:   provider.Name(),
		Status:     models.PaymentStatusPending,
	})
	if err != nil {
		return pay.CreateResult{}, fmt.Errorf("open ledger entry: %w", err)
	}

	res, err := provider.CreatePayment(ctx, pay.CreateRequest{
		OrderID:     order.ID,
		PaymentID:   entry.ID,
		Amount:      order.TotalAmount,
		Currency:    s.Currency,
		Description: fmt.Sprintf("Order #%d", order.ID),
		Customer: pay.CustomerInfo{
			CustomerID: customer.ID,
			Name:       customer.CompanyName,
			Email:      customer.Email,
			Phone:      customer.Phone,
		},
	})
	if err != nil {
		entry.Status = models.PaymentStatusFailed
		entry.Metadata = mergeMetadata(entry.Metadata, map[string]string{"error": truncate(err.Error(), 500)})
		if saveErr := s.Payments.Save(context.WithoutCancel(ctx), entry); saveErr != nil {
			logger.Error("mark ledger entry failed", "payment_id", entry.ID, "err", saveErr)
		}
		logger.Error("gateway create failed", "payment_id", entry.ID, "err", err)
		return pay.CreateResult{}, err
	}

	if res.TransactionID != "" {
		tx := res.TransactionID
		entry.TransactionID = &tx
	}
	entry.Metadata = mergeMetadata(entry.Metadata, res.Metadata)
	if err := s.Payments.Save(ctx, entry); err != nil {
		// the webhook can still match this entry as the latest of the order
		logger.Error("attach transaction to ledger entry failed", "payment_id", entry.ID, "err", err)
	}
	if err := s.Orders.SetPaymentStatus(ctx, order.ID, models.PaymentMarkerAwaiting); err != nil {
		logger.Error("set awaiting_payment failed", "err", err)
	}

	logger.Info("payment created", "payment_id", entry.ID, "transaction_id", res.TransactionID)
	return res, nil
}

func payable(o models.Order) error {
	switch o.Status {
	case models.OrderStatusPending, models.OrderStatusApproved:
	default:
		return fmt.Errorf("order %d is %s: %w", o.ID, o.Status, models.ErrOrderSettled)
	}
	if o.PaymentStatus == models.PaymentMarkerPaid {
		return fmt.Errorf("order %d is already paid: %w", o.ID, models.ErrOrderSettled)
	}
	if o.TotalAmount.Sign() <= 0 {
		return fmt.Errorf("order %d has no amount to pay: %w", o.ID, models.ErrValidation)
	}
	return nil
}

// HandleWebhook verifies, parses and applies a gateway notification. Only an unknown
// provider, a bad signature, an unparsable body or a failure to persist the core
// order/ledger change is reported as an error; downstream invoice and notification
// problems are logged and the event is still acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) (WebhookAck, error) {
	provider, err := s.Providers.Get(providerName)
	if err != nil {
		return WebhookAck{}, err
	}
	if !provider.VerifyWebhook(payload, headers) {
		s.logger().Warn("webhook signature rejected", "provider", provider.Name())
		return WebhookAck{}, models.ErrInvalidSignature
	}
	result, err := provider.ParseWebhook(payload)
	if err != nil {
		return WebhookAck{}, fmt.Errorf("%v: %w", err, models.ErrValidation)
	}
	logger := s.logger().With("op", "HandleWebhook", "provider", provider.Name(),
		"order_id", result.OrderID, "transaction_id", result.TransactionID, "status", result.Status)

	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, ledgerLockKey(result.OrderID))
		if err != nil {
			return WebhookAck{}, err
		}
		defer release()
	}

	order, err := s.Orders.GetByID(ctx, result.OrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn("webhook for unknown order ignored")
			return ackFor(provider, result), nil
		}
		return WebhookAck{}, err
	}

	entry, found, err := s.matchEntry(ctx, provider.Name(), result, logger)
	if err != nil {
		return WebhookAck{}, err
	}

	switch result.Status {
	case pay.WebhookCompleted:
		err = s.applyCompleted(ctx, order, entry, found, result, logger)
	case pay.WebhookFailed:
		err = s.applyFailed(ctx, order, entry, found, result, logger)
	default:
		if found && entry.Status == models.PaymentStatusPending {
			s.recordWebhook(&entry, result)
			err = s.Payments.Save(ctx, entry)
		}
	}
	if err != nil {
		return WebhookAck{}, err
	}
	return ackFor(provider, result), nil
}

// matchEntry finds the ledger row by transaction id, falling back to the newest row of
// the order. The fallback can pick the wrong attempt when several are open; it is
// logged so it can be reconciled.
func (s *PaymentService) matchEntry(ctx context.Context, provider string, result pay.WebhookResult, logger *slog.Logger) (models.PaymentLog, bool, error) {
	if result.TransactionID != "" {
		entry, err := s.Payments.GetByTransaction(ctx, provider, result.TransactionID)
		switch {
		case err == nil && entry.OrderID == result.OrderID:
			return entry, true, nil
		case err == nil:
			logger.Warn("transaction belongs to another order, ignoring match", "ledger_order_id", entry.OrderID)
		case !errors.Is(err, models.ErrNotFound):
			return models.PaymentLog{}, false, err
		}
	}
	entry, err := s.Payments.LatestForOrder(ctx, result.OrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn("no ledger entry for webhook")
			return models.PaymentLog{}, false, nil
		}
		return models.PaymentLog{}, false, err
	}
	logger.Warn("ledger entry matched by recency", "payment_id", entry.ID)
	return entry, true, nil
}

// applyCompleted settles the matched ledger entry and the order. The confirmation goes
// out once, when this webhook is the one that completes the entry, so a capture that
// lands after staff already marked the order paid still notifies and replays stay quiet.
func (s *PaymentService) applyCompleted(ctx context.Context, order models.Order, entry models.PaymentLog, found bool, result pay.WebhookResult, logger *slog.Logger) error {
	captured := false
	if found {
		switch {
		case entry.Status == models.PaymentStatusCompleted, entry.Status == models.PaymentStatusRefunded:
		case entry.Metadata[metaDuplicateOf] != "":
			logger.Info("flagged duplicate capture replayed, ignored", "payment_id", entry.ID, "first_payment_id", entry.Metadata[metaDuplicateOf])
			return nil
		default:
			prior, err := s.Payments.CompletedForOrder(ctx, order.ID)
			switch {
			case err == nil && prior.ID != entry.ID:
				// second capture for the same order: keep the first, flag this one for refund
				entry.Status = models.PaymentStatusFailed
				s.recordWebhook(&entry, result)
				entry.Metadata = mergeMetadata(entry.Metadata, map[string]string{
					metaDuplicateOf: strconv.FormatInt(prior.ID, 10),
				})
				if err := s.Payments.Save(ctx, entry); err != nil {
					return fmt.Errorf("flag duplicate capture: %w", err)
				}
				logger.Error("duplicate capture, manual refund required", "payment_id", entry.ID, "first_payment_id", prior.ID)
				s.publish(ctx, events.TopicPaymentFailed, order.ID, map[string]any{"paymentId": entry.ID, "duplicateOf": prior.ID})
				return nil
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return err
			}

			completedAt := s.now().UTC()
			entry.Status = models.PaymentStatusCompleted
			entry.CompletedAt = &completedAt
			if entry.TransactionID == nil && result.TransactionID != "" {
				tx := result.TransactionID
				entry.TransactionID = &tx
			}
			s.recordWebhook(&entry, result)
			if err := s.Payments.Save(ctx, entry); err != nil {
				return fmt.Errorf("complete ledger entry: %w", err)
			}
			captured = true
		}
	}

	// runs on replays too, so a previous partial failure gets finished
	paid, changed, err := s.Lifecycle.MarkOrderPaid(ctx, order.ID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			logger.Error("payment captured for an order that cannot become paid", "order_status", order.Status, "err", err)
			return nil
		}
		return fmt.Errorf("mark order paid: %w", err)
	}
	// without a ledger entry the order transition is the only signal left
	if !captured && (found || !changed) {
		logger.Info("webhook replay, nothing to do")
		return nil
	}

	if paid.InvoiceURL != "" && s.Notifier != nil {
		bestEffort(ctx, logger, s.SideEffectTimeout, "send order confirmation", func(ctx context.Context) error {
			customer, err := s.Customers.GetByID(ctx, paid.CustomerID)
			if err != nil {
				return err
			}
			res := s.Notifier.SendOrderConfirmation(ctx, customer, paid.ID, paid.InvoiceURL)
			logger.Info("order confirmation", "method", res.Method, "success", res.Success)
			return nil
		})
	}
	return nil
}

func (s *PaymentService) applyFailed(ctx context.Context, order models.Order, entry models.PaymentLog, found bool, result pay.WebhookResult, logger *slog.Logger) error {
	if found {
		switch entry.Status {
		case models.PaymentStatusCompleted, models.PaymentStatusRefunded:
			logger.Warn("failure reported for a settled payment, ignored", "payment_id", entry.ID, "payment_status", entry.Status)
			return nil
		case models.PaymentStatusPending:
			entry.Status = models.PaymentStatusFailed
			s.recordWebhook(&entry, result)
			if err := s.Payments.Save(ctx, entry); err != nil {
				return fmt.Errorf("fail ledger entry: %w", err)
			}
		}
	}
	if order.PaymentStatus != models.PaymentMarkerPaid && order.PaymentStatus != models.PaymentMarkerFailed {
		if err := s.Orders.SetPaymentStatus(ctx, order.ID, models.PaymentMarkerFailed); err != nil {
			return fmt.Errorf("set payment failed marker: %w", err)
		}
	}
	logger.Info("payment failed", "payment_id", entry.ID)
	s.publish(ctx, events.TopicPaymentFailed, order.ID, map[string]any{"paymentId": entry.ID})
	return nil
}

func (s *PaymentService) recordWebhook(entry *models.PaymentLog, result pay.WebhookResult) {
	entry.Metadata = mergeMetadata(entry.Metadata, map[string]string{
		"webhook":        truncate(string(result.Raw), maxWebhookMetadata),
		"webhook_status": string(result.Status),
		"webhook_at":     s.now().UTC().Format(time.RFC3339),
	})
}

// ListForOrder returns the ledger of an order the caller may see.
func (s *PaymentService) ListForOrder(ctx context.Context, role string, userID, orderID int64) ([]models.PaymentLog, error) {
	if _, err := s.Lifecycle.FindAccessible(ctx, role, userID, orderID); err != nil {
		return nil, err
	}
	return s.Payments.ListByOrder(ctx, orderID)
}

// ExpireStale fails pending attempts older than ttl. Returns how many were expired.
func (s *PaymentService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.Payments.ListStalePending(ctx, s.now().Add(-ttl), 500)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, p := range stale {
		p.Metadata = mergeMetadata(p.Metadata, map[string]string{
			"expired":    "true",
			"expired_at": s.now().UTC().Format(time.RFC3339),
		})
		ok, err := s.Payments.Expire(ctx, p)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
			s.publish(ctx, events.TopicPaymentExpired, p.OrderID, map[string]any{"paymentId": p.ID})
		}
	}
	return expired, nil
}

func (s *PaymentService) publish(ctx context.Context, topic string, orderID int64, data any) {
	if s.Events == nil {
		return
	}
	bestEffort(ctx, s.logger(), s.SideEffectTimeout, "publish "+topic, func(ctx context.Context) error {
		return s.Events.Publish(ctx, events.New(topic, orderID, data))
	})
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

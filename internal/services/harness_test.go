package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ordersBack/internal/lock"
	"ordersBack/internal/models"
	"ordersBack/internal/pay"
)

const mockSecret = "whsec_test"

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	orders   *fakeOrders
	custs    *fakeCustomers
	payments *fakePayments
	invoices *fakeInvoices
	events   *recordingPublisher
	notifier *recordingNotifier

	orderSvc   *OrderService
	invoiceSvc *InvoiceService
	paymentSvc *PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		orders: newFakeOrders(),
		custs: &fakeCustomers{rows: map[int64]models.Customer{
			1: {ID: 1, UserID: 10, CompanyName: "Aqua LLP", ContactName: "Aigerim", Phone: "+7 (701) 111-22-33"},
			2: {ID: 2, UserID: 20, CompanyName: "Other LLP", Phone: "87012223344"},
		}},
		payments: newFakePayments(),
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
	}
	h.invoices = newFakeInvoices(h.orders, h.custs)

	now := func() time.Time { return fixedNow }
	locker := lock.NewLocalLocker()

	h.invoiceSvc = &InvoiceService{
		Invoices:  h.invoices,
		Orders:    h.orders,
		Customers: h.custs,
		Documents: &fakeDocs{},
		Events:    h.events,
		Logger:    logger,
		Now:       now,
	}
	h.orderSvc = &OrderService{
		Orders:    h.orders,
		Customers: h.custs,
		Invoices:  h.invoiceSvc,
		Locker:    locker,
		Events:    h.events,
		Logger:    logger,
		Prices: map[string]decimal.Decimal{
			"1L": decimal.NewFromInt(25),
			"5L": decimal.NewFromInt(110),
		},
		Now: now,
	}
	reg, err := pay.NewRegistry(pay.NewMock("https://checkout.test", mockSecret))
	require.NoError(t, err)
	h.paymentSvc = &PaymentService{
		Providers:       reg,
		Payments:        h.payments,
		Orders:          h.orders,
		Customers:       h.custs,
		Lifecycle:       h.orderSvc,
		Notifier:        h.notifier,
		Locker:          locker,
		Events:          h.events,
		Logger:          logger,
		DefaultProvider: pay.MockName,
		Currency:        "KZT",
		Now:             now,
	}
	return h
}

// placeOrder creates the 1050 order for customer 1 (user 10).
func (h *harness) placeOrder(t *testing.T) models.Order {
	t.Helper()
	o, err := h.orderSvc.Create(context.Background(), 10, []models.OrderItemInput{
		{ProductType: "1L", Quantity: 20},
		{ProductType: "5L", Quantity: 5},
	}, "")
	require.NoError(t, err)
	return o
}

func signedMockWebhook(orderID any, tx, status string) ([]byte, http.Header) {
	var idJSON string
	switch v := orderID.(type) {
	case string:
		idJSON = fmt.Sprintf("%q", v)
	default:
		idJSON = fmt.Sprintf("%v", v)
	}
	body := []byte(fmt.Sprintf(`{"orderId":%s,"transactionId":%q,"status":%q}`, idJSON, tx, status))
	h := http.Header{}
	h.Set(pay.MockSignatureHeader, pay.SignHMAC(body, mockSecret))
	return body, h
}

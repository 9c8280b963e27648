package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersBack/internal/events"
	"ordersBack/internal/models"
	"ordersBack/internal/pay"
)

func TestCreatePayment_UnknownProviderWritesNothing(t *testing.T) {
	h := newHarness(t)
	o := h.placeOrder(t)

	_, err := h.paymentSvc.CreatePayment(context.Background(), CreatePaymentInput{
		Provider: "stripe", OrderID: o.ID, Role: models.RoleCustomer, UserID: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderNotFound)
	assert.Equal(t, 0, h.payments.count())
}

func TestCreatePayment_OpensLedgerEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)

	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RedirectURL)
	require.NotEmpty(t, res.TransactionID)

	entry, err := h.payments.LatestForOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, entry.Status)
	assert.Equal(t, pay.MockName, entry.Provider)
	assert.True(t, o.TotalAmount.Equal(entry.Amount))
	require.NotNil(t, entry.TransactionID)
	assert.Equal(t, res.TransactionID, *entry.TransactionID)

	order, _ := h.orders.GetByID(ctx, o.ID)
	assert.Equal(t, models.PaymentMarkerAwaiting, order.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestCreatePayment_ForeignOrderIsNotFound(t *testing.T) {
	h := newHarness(t)
	o := h.placeOrder(t)

	_, err := h.paymentSvc.CreatePayment(context.Background(), CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 20})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 0, h.payments.count())
}

type failingProvider struct{ *pay.Mock }

func (failingProvider) Name() string { return "broken" }
func (failingProvider) CreatePayment(context.Context, pay.CreateRequest) (pay.CreateResult, error) {
	return pay.CreateResult{}, errors.New("gateway down")
}

func TestCreatePayment_GatewayErrorFailsEntry(t *testing.T) {
	h := newHarness(t)
	reg, err := pay.NewRegistry(failingProvider{pay.NewMock("", mockSecret)})
	require.NoError(t, err)
	h.paymentSvc.Providers = reg
	o := h.placeOrder(t)

	_, err = h.paymentSvc.CreatePayment(context.Background(), CreatePaymentInput{Provider: "broken", OrderID: o.ID, Role: models.RoleAdmin, UserID: 1})
	require.Error(t, err)

	entry, err := h.payments.LatestForOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, entry.Status)
	assert.Contains(t, entry.Metadata["error"], "gateway down")
}

func TestWebhookSuccess_MarksOrderPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook("1", res.TransactionID, "success")
	ack, err := h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)
	assert.Equal(t, WebhookAck{Success: true, OrderID: o.ID}, ack)

	order, _ := h.orders.GetByID(ctx, o.ID)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.PaymentMarkerPaid, order.PaymentStatus)
	assert.True(t, order.HasInvoice())
	require.NotNil(t, order.PaidAt)

	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusCompleted, entry.Status)
	require.NotNil(t, entry.CompletedAt)
	assert.Contains(t, entry.Metadata["webhook"], res.TransactionID)

	assert.Equal(t, 1, h.notifier.calls)
	assert.Equal(t, 1, h.events.count(events.TopicOrderPaid))
}

func TestWebhookReplay_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook(o.ID, res.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)
	first, _ := h.payments.LatestForOrder(ctx, o.ID)
	savesAfterFirst := h.payments.saves

	h.paymentSvc.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	second, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.Equal(t, first.Metadata, second.Metadata)
	assert.Equal(t, savesAfterFirst, h.payments.saves)
	assert.Equal(t, 1, h.invoices.count())
	assert.Equal(t, 1, h.notifier.calls)
	assert.Equal(t, 1, h.events.count(events.TopicOrderPaid))
}

func TestWebhookInvalidSignature_NoMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)
	before, _ := h.orders.GetByID(ctx, o.ID)

	body, _ := signedMockWebhook(o.ID, res.TransactionID, "success")
	bad := http.Header{}
	bad.Set(pay.MockSignatureHeader, pay.SignHMAC(body, "wrong"))
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, bad)
	assert.ErrorIs(t, err, models.ErrInvalidSignature)

	after, _ := h.orders.GetByID(ctx, o.ID)
	assert.Equal(t, before, after)
	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusPending, entry.Status)
	assert.Equal(t, 0, h.invoices.count())
}

func TestWebhookUnknownProvider(t *testing.T) {
	h := newHarness(t)
	body, headers := signedMockWebhook(1, "tx", "success")
	_, err := h.paymentSvc.HandleWebhook(context.Background(), "nope", body, headers)
	assert.ErrorIs(t, err, models.ErrProviderNotFound)
}

func TestWebhookFailed_KeepsOrderStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	approved := models.OrderStatusApproved
	_, err := h.orderSvc.Update(ctx, o.ID, models.OrderPatch{Status: &approved})
	require.NoError(t, err)
	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook(o.ID, res.TransactionID, "declined")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	order, _ := h.orders.GetByID(ctx, o.ID)
	assert.Equal(t, models.OrderStatusApproved, order.Status)
	assert.Equal(t, models.PaymentMarkerFailed, order.PaymentStatus)
	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusFailed, entry.Status)
	assert.Equal(t, 0, h.invoices.count())
	assert.Equal(t, 1, h.events.count(events.TopicPaymentFailed))
}

func TestWebhookFallsBackToLatestEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	_, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook(o.ID, "unknown-tx", "completed")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusCompleted, entry.Status)
}

func TestWebhookSecondCaptureIsFlagged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)

	first, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)
	second, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook(o.ID, first.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)
	body, headers = signedMockWebhook(o.ID, second.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	logs, err := h.payments.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	completed := 0
	for _, l := range logs {
		if l.Status == models.PaymentStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	dup, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusFailed, dup.Status)
	assert.Equal(t, "1", dup.Metadata["duplicate_capture_of"])
	assert.Equal(t, 1, h.invoices.count())

	_, err = h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	assert.ErrorIs(t, err, models.ErrOrderSettled)
}

func TestWebhookSecondCaptureReplay_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)

	first, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)
	second, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	body, headers := signedMockWebhook(o.ID, first.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)
	body, headers = signedMockWebhook(o.ID, second.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	flagged, _ := h.payments.LatestForOrder(ctx, o.ID)
	savesAfterFlag := h.payments.saves
	require.Equal(t, 1, h.events.count(events.TopicPaymentFailed))

	h.paymentSvc.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	for i := 0; i < 3; i++ {
		ack, err := h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
		require.NoError(t, err)
		assert.True(t, ack.Success)
	}

	again, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, flagged.Metadata, again.Metadata)
	assert.Equal(t, models.PaymentStatusFailed, again.Status)
	assert.Equal(t, savesAfterFlag, h.payments.saves)
	assert.Equal(t, 1, h.events.count(events.TopicPaymentFailed))
	assert.Equal(t, 1, h.notifier.calls)
}

func TestWebhookAfterStaffPaid_SendsConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	res, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	paid := models.OrderStatusPaid
	updated, err := h.orderSvc.Update(ctx, o.ID, models.OrderPatch{Status: &paid})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPaid, updated.Status)
	require.NotEmpty(t, updated.InvoiceURL)
	assert.Equal(t, 0, h.notifier.calls)

	body, headers := signedMockWebhook(o.ID, res.TransactionID, "success")
	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)

	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusCompleted, entry.Status)
	assert.Equal(t, 1, h.notifier.calls)
	assert.Equal(t, 1, h.invoices.count())

	_, err = h.paymentSvc.HandleWebhook(ctx, "mock", body, headers)
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.calls)
}

// fastGateway lets a hook run between the gateway call and the rest of CreatePayment.
type fastGateway struct {
	*pay.Mock
	after func()
}

func (g fastGateway) CreatePayment(ctx context.Context, req pay.CreateRequest) (pay.CreateResult, error) {
	res, err := g.Mock.CreatePayment(ctx, req)
	g.after()
	return res, err
}

func TestCreatePayment_KeepsPaidMarkerSetByEarlyWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	reg, err := pay.NewRegistry(fastGateway{
		Mock: pay.NewMock("https://checkout.test", mockSecret),
		after: func() {
			require.NoError(t, h.orders.MarkPaid(ctx, o.ID, models.OrderStatusPending, fixedNow, nil, ""))
		},
	})
	require.NoError(t, err)
	h.paymentSvc.Providers = reg

	_, err = h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	order, _ := h.orders.GetByID(ctx, o.ID)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, models.PaymentMarkerPaid, order.PaymentStatus)
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.placeOrder(t)
	_, err := h.paymentSvc.CreatePayment(ctx, CreatePaymentInput{OrderID: o.ID, Role: models.RoleCustomer, UserID: 10})
	require.NoError(t, err)

	h.paymentSvc.Now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	n, err := h.paymentSvc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, _ := h.payments.LatestForOrder(ctx, o.ID)
	assert.Equal(t, models.PaymentStatusFailed, entry.Status)
	assert.Equal(t, "true", entry.Metadata["expired"])

	n, err = h.paymentSvc.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"ordersBack/internal/models"
	"ordersBack/internal/pay"
	"ordersBack/internal/services"
)

var errInvalidOrderID = fmt.Errorf("orderId must be a positive integer: %w", models.ErrValidation)

// PaymentAPI is implemented by services.PaymentService.
type PaymentAPI interface {
	CreatePayment(ctx context.Context, in services.CreatePaymentInput) (pay.CreateResult, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (services.WebhookAck, error)
	ListForOrder(ctx context.Context, role string, userID, orderID int64) ([]models.PaymentLog, error)
}

type PaymentHandler struct {
	Service PaymentAPI
	Logger  *slog.Logger
}

func NewPaymentHandler(s PaymentAPI, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{Service: s, Logger: logger}
}

func (h *PaymentHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		orderRef
		Provider string `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	orderID, err := req.id()
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	res, err := h.Service.CreatePayment(r.Context(), services.CreatePaymentInput{
		Provider: req.Provider,
		OrderID:  orderID,
		Role:     caller.Role,
		UserID:   caller.UserID,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook is public; authenticity is established by the provider's signature check.
// Anything the gateway could fix by resending gets a 4xx, a failed core update gets a
// 500 so the gateway retries, everything else is acknowledged.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := getParam(r, "provider")
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ack, err := h.Service.HandleWebhook(r.Context(), provider, payload, r.Header)
	switch {
	case err == nil && ack.Reply != "":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, ack.Reply)
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, models.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
	case errors.Is(err, models.ErrProviderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger().Error("webhook processing failed", "provider", provider, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "webhook processing failed"})
	}
}

func (h *PaymentHandler) GetOrderPayments(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	orderID, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	logs, err := h.Service.ListForOrder(r.Context(), caller.Role, caller.UserID, orderID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if logs == nil {
		logs = []models.PaymentLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// SuccessRedirect and FailureRedirect are the AirbaPay back URLs.
func (h *PaymentHandler) SuccessRedirect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "order": getParam(r, "order")})
}

func (h *PaymentHandler) FailureRedirect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "failure", "order": getParam(r, "order")})
}

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ordersBack/internal/models"
)

// InvoiceAPI is implemented by services.InvoiceService.
type InvoiceAPI interface {
	Create(ctx context.Context, orderID int64) (models.Invoice, error)
	FindAll(ctx context.Context, role string, userID int64) ([]models.Invoice, error)
	FindAccessible(ctx context.Context, role string, userID, invoiceID int64) (models.Invoice, error)
}

type InvoiceHandler struct {
	Service InvoiceAPI
	Logger  *slog.Logger
}

func NewInvoiceHandler(s InvoiceAPI, logger *slog.Logger) *InvoiceHandler {
	return &InvoiceHandler{Service: s, Logger: logger}
}

// orderRef accepts orderId as a JSON number or a numeric string, and order_id as well.
type orderRef struct {
	OrderID      json.Number `json:"orderId"`
	OrderIDSnake json.Number `json:"order_id"`
}

func (o orderRef) id() (int64, error) {
	raw := o.OrderID
	if raw == "" {
		raw = o.OrderIDSnake
	}
	id, err := raw.Int64()
	if err != nil || id <= 0 {
		return 0, errInvalidOrderID
	}
	return id, nil
}

// CreateInvoice lets staff issue an invoice by hand, e.g. when the automatic one failed.
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req orderRef
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	orderID, err := req.id()
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	inv, err := h.Service.Create(r.Context(), orderID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *InvoiceHandler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	invoices, err := h.Service.FindAll(r.Context(), caller.Role, caller.UserID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *InvoiceHandler) GetInvoiceByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	inv, err := h.Service.FindAccessible(r.Context(), caller.Role, caller.UserID, id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

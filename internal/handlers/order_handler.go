package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"ordersBack/internal/models"
)

// OrderAPI is implemented by services.OrderService.
type OrderAPI interface {
	Create(ctx context.Context, userID int64, items []models.OrderItemInput, notes string) (models.Order, error)
	FindAccessible(ctx context.Context, role string, userID, orderID int64) (models.Order, error)
	List(ctx context.Context, role string, userID int64) ([]models.Order, error)
	Update(ctx context.Context, orderID int64, patch models.OrderPatch) (models.Order, error)
	Cancel(ctx context.Context, role string, userID, orderID int64) (models.Order, error)
}

type OrderHandler struct {
	Service OrderAPI
	Logger  *slog.Logger
}

func NewOrderHandler(s OrderAPI, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{Service: s, Logger: logger}
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Items []models.OrderItemInput `json:"items"`
		Notes string                  `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	order, err := h.Service.Create(r.Context(), caller.UserID, req.Items, req.Notes)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	orders, err := h.Service.List(r.Context(), caller.Role, caller.UserID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	order, err := h.Service.FindAccessible(r.Context(), caller.Role, caller.UserID, id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateOrder is staff only; the route is guarded by the role middleware.
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	var req struct {
		Status           *models.OrderStatus `json:"status"`
		TotalAmount      *decimal.Decimal    `json:"totalAmount"`
		TotalAmountSnake *decimal.Decimal    `json:"total_amount"`
		Notes            *string             `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	patch := models.OrderPatch{Status: req.Status, TotalAmount: req.TotalAmount, Notes: req.Notes}
	if patch.TotalAmount == nil {
		patch.TotalAmount = req.TotalAmountSnake
	}

	order, err := h.Service.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	order, err := h.Service.Cancel(r.Context(), caller.Role, caller.UserID, id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

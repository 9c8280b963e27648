package fsm

import (
	"context"
	"database/sql"
	"fmt"

	"ordersBack/internal/models"
)

var transitions = map[models.OrderStatus]map[models.OrderStatus]struct{}{
	models.OrderStatusPending: {
		models.OrderStatusApproved:  {},
		models.OrderStatusPaid:      {},
		models.OrderStatusShipped:   {},
		models.OrderStatusDelivered: {},
		models.OrderStatusCancelled: {},
	},
	models.OrderStatusApproved: {
		models.OrderStatusPaid:      {},
		models.OrderStatusShipped:   {},
		models.OrderStatusDelivered: {},
		models.OrderStatusCancelled: {},
	},
	models.OrderStatusPaid: {
		models.OrderStatusShipped:   {},
		models.OrderStatusDelivered: {},
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered: {},
	},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

// Valid reports whether s is a known order status.
func Valid(s models.OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func IsTerminal(s models.OrderStatus) bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// CanTransition returns whether the order can move from the current status to the target status.
// Statuses only move forward; cancellation is legal from pending or approved.
// Staying in the same status is not a transition.
func CanTransition(from, to models.OrderStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply updates an order status using optimistic validation: the row changes only
// if its status is still fromStatus. sql.ErrNoRows means somebody else moved it first.
func Apply(ctx context.Context, db Execer, orderID int64, fromStatus, toStatus models.OrderStatus) error {
	if !CanTransition(fromStatus, toStatus) {
		return fmt.Errorf("%s -> %s: %w", fromStatus, toStatus, models.ErrInvalidTransition)
	}
	res, err := db.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`, toStatus, orderID, fromStatus)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

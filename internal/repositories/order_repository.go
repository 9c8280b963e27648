package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ordersBack/internal/fsm"
	"ordersBack/internal/models"
)

type OrderRepository struct {
	DB *sql.DB
}

const orderColumns = `id, customer_id, items, total_amount, status, payment_status, invoice_id, invoice_url, notes, paid_at, created_at, updated_at`

func scanOrder(s scanner) (models.Order, error) {
	var (
		o         models.Order
		items     []byte
		status    string
		payStatus string
		invoiceID sql.NullInt64
		notes     sql.NullString
		paidAt    sql.NullTime
	)
	err := s.Scan(&o.ID, &o.CustomerID, &items, &o.TotalAmount, &status, &payStatus,
		&invoiceID, &o.InvoiceURL, &notes, &paidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return models.Order{}, fmt.Errorf("decode order %d items: %w", o.ID, err)
		}
	}
	o.Status = models.OrderStatus(status)
	o.PaymentStatus = models.PaymentMarker(payStatus)
	if invoiceID.Valid {
		id := invoiceID.Int64
		o.InvoiceID = &id
	}
	o.Notes = notes.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

func (r *OrderRepository) Create(ctx context.Context, o models.Order) (models.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return models.Order{}, err
	}
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO orders (customer_id, items, total_amount, status, payment_status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CustomerID, items, o.TotalAmount, o.Status, o.PaymentStatus, o.Notes, now, now)
	if err != nil {
		if isForeignKeyConstraintError(err) {
			return models.Order{}, models.ErrCustomerNotFound
		}
		return models.Order{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Order{}, err
	}
	o.ID = id
	o.CreatedAt = now
	o.UpdatedAt = now
	return o, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (models.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, models.ErrOrderNotFound
	}
	return o, err
}

// List returns orders newest first. A nil customerID lists every order.
func (r *OrderRepository) List(ctx context.Context, customerID *int64) ([]models.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if customerID != nil {
		q += ` WHERE customer_id = ?`
		args = append(args, *customerID)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateFields writes the non-status parts of a staff patch.
func (r *OrderRepository) UpdateFields(ctx context.Context, id int64, total *decimal.Decimal, notes *string) error {
	var sets []string
	var args []any
	if total != nil {
		sets = append(sets, "total_amount = ?")
		args = append(args, *total)
	}
	if notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *notes)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := r.DB.ExecContext(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// TransitionStatus is a conditional update; sql.ErrNoRows means the status moved underneath us.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	return fsm.Apply(ctx, r.DB, id, from, to)
}

// MarkPaid moves the order into paid if it is still in from. Invoice fields are only
// overwritten when an invoice is given. from may already be paid, which only fills in
// the marker and a missing invoice.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, from models.OrderStatus, paidAt time.Time, invoiceID *int64, invoiceURL string) error {
	if from != models.OrderStatusPaid && !fsm.CanTransition(from, models.OrderStatusPaid) {
		return fmt.Errorf("%s -> %s: %w", from, models.OrderStatusPaid, models.ErrInvalidTransition)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_status = ?, paid_at = COALESCE(paid_at, ?),
		    invoice_id = COALESCE(?, invoice_id),
		    invoice_url = IF(? = '', invoice_url, ?),
		    updated_at = ?
		WHERE id = ? AND status = ?`,
		models.OrderStatusPaid, models.PaymentMarkerPaid, paidAt,
		nullInt64(invoiceID), invoiceURL, invoiceURL,
		time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetPaymentStatus never moves the marker away from paid; a webhook can land before
// the attempt that started it writes awaiting_payment.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id int64, marker models.PaymentMarker) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE orders SET payment_status = ?, updated_at = ?
		WHERE id = ? AND (payment_status <> ? OR ? = ?)`,
		marker, time.Now().UTC(), id, models.PaymentMarkerPaid, marker, models.PaymentMarkerPaid)
	return err
}

func (r *OrderRepository) AttachInvoice(ctx context.Context, id, invoiceID int64, url string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE orders SET invoice_id = ?, invoice_url = ?, updated_at = ? WHERE id = ?`, invoiceID, url, time.Now().UTC(), id)
	return err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

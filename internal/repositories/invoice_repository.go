package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ordersBack/internal/models"
)

type InvoiceRepository struct {
	DB *sql.DB
}

const invoiceColumns = `i.id, i.number, i.order_id, i.customer_id, i.amount, i.status, i.url, i.issued_at`

func scanInvoice(s scanner) (models.Invoice, error) {
	var inv models.Invoice
	var status string
	err := s.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.CustomerID, &inv.Amount, &status, &inv.URL, &inv.IssuedAt)
	inv.Status = models.InvoiceStatus(status)
	return inv, err
}

// NextSequence advances the per-year counter atomically and returns the new value.
// LAST_INSERT_ID(expr) makes the value come back in the OK packet of this very statement,
// so no second query on the same connection is needed.
func (r *InvoiceRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO invoice_sequences (year, last_value) VALUES (?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE last_value = LAST_INSERT_ID(last_value + 1)`, year)
	if err != nil {
		return 0, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if seq <= 0 {
		return 0, fmt.Errorf("invoice sequence %d: unexpected value %d", year, seq)
	}
	return seq, nil
}

func (r *InvoiceRepository) Create(ctx context.Context, inv models.Invoice) (models.Invoice, error) {
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO invoices (number, order_id, customer_id, amount, status, url, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.Number, inv.OrderID, inv.CustomerID, inv.Amount, inv.Status, inv.URL, inv.IssuedAt)
	if err != nil {
		switch {
		case isDuplicateKey(err, "uq_invoices_order"):
			return models.Invoice{}, models.ErrInvoiceExists
		case isDuplicateKey(err, "uq_invoices_number"):
			return models.Invoice{}, fmt.Errorf("invoice number %s taken: %w", inv.Number, models.ErrConflict)
		case isForeignKeyConstraintError(err):
			return models.Invoice{}, models.ErrOrderNotFound
		}
		return models.Invoice{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Invoice{}, err
	}
	inv.ID = id
	return inv, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (models.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = ?`, id)
	return oneInvoice(row)
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID int64) (models.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.order_id = ?`, orderID)
	return oneInvoice(row)
}

func oneInvoice(row *sql.Row) (models.Invoice, error) {
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, models.ErrInvoiceNotFound
	}
	return inv, err
}

func (r *InvoiceRepository) ListAll(ctx context.Context) ([]models.Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+` FROM invoices i ORDER BY i.issued_at DESC, i.id DESC`)
}

// ListByUser follows invoice -> order -> customer -> user.
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID int64) ([]models.Invoice, error) {
	return r.list(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		JOIN orders o ON o.id = i.order_id
		JOIN customers c ON c.id = o.customer_id
		WHERE c.user_id = ?
		ORDER BY i.issued_at DESC, i.id DESC`, userID)
}

func (r *InvoiceRepository) SetURL(ctx context.Context, id int64, url string, status models.InvoiceStatus) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE invoices SET url = ?, status = ? WHERE id = ?`, url, status, id)
	return err
}

func (r *InvoiceRepository) list(ctx context.Context, q string, args ...any) ([]models.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

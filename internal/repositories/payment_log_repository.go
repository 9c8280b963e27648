package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ordersBack/internal/models"
)

type PaymentLogRepository struct {
	DB *sql.DB
}

const paymentLogColumns = `id, order_id, customer_id, amount, currency, provider, transaction_id, status, metadata, created_at, completed_at`

func scanPaymentLog(s scanner) (models.PaymentLog, error) {
	var (
		p           models.PaymentLog
		txID        sql.NullString
		status      string
		meta        []byte
		completedAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.OrderID, &p.CustomerID, &p.Amount, &p.Currency, &p.Provider,
		&txID, &status, &meta, &p.CreatedAt, &completedAt)
	if err != nil {
		return models.PaymentLog{}, err
	}
	if txID.Valid {
		v := txID.String
		p.TransactionID = &v
	}
	p.Status = models.PaymentStatus(status)
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return models.PaymentLog{}, fmt.Errorf("decode payment %d metadata: %w", p.ID, err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return p, nil
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (r *PaymentLogRepository) Create(ctx context.Context, p models.PaymentLog) (models.PaymentLog, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return models.PaymentLog{}, err
	}
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO payment_logs (order_id, customer_id, amount, currency, provider, transaction_id, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.CustomerID, p.Amount, p.Currency, p.Provider, nullString(p.TransactionID), p.Status, meta, now)
	if err != nil {
		if isForeignKeyConstraintError(err) {
			return models.PaymentLog{}, models.ErrOrderNotFound
		}
		return models.PaymentLog{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.PaymentLog{}, err
	}
	p.ID = id
	p.CreatedAt = now
	return p, nil
}

// Save overwrites the mutable part of a ledger row.
func (r *PaymentLogRepository) Save(ctx context.Context, p models.PaymentLog) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		UPDATE payment_logs SET transaction_id = ?, status = ?, metadata = ?, completed_at = ?
		WHERE id = ?`,
		nullString(p.TransactionID), p.Status, meta, nullTime(p.CompletedAt), p.ID)
	if isDuplicateKey(err, "uq_payment_logs_tx") {
		return fmt.Errorf("transaction id already recorded: %w", models.ErrConflict)
	}
	return err
}

func (r *PaymentLogRepository) GetByID(ctx context.Context, id int64) (models.PaymentLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE id = ?`, id)
	return r.one(row)
}

func (r *PaymentLogRepository) GetByTransaction(ctx context.Context, provider, transactionID string) (models.PaymentLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE provider = ? AND transaction_id = ?`, provider, transactionID)
	return r.one(row)
}

// LatestForOrder returns the most recently created attempt for the order.
func (r *PaymentLogRepository) LatestForOrder(ctx context.Context, orderID int64) (models.PaymentLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE order_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
	return r.one(row)
}

// CompletedForOrder returns the completed attempt of the order, if any.
func (r *PaymentLogRepository) CompletedForOrder(ctx context.Context, orderID int64) (models.PaymentLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE order_id = ? AND status = ? ORDER BY id LIMIT 1`, orderID, models.PaymentStatusCompleted)
	return r.one(row)
}

func (r *PaymentLogRepository) one(row *sql.Row) (models.PaymentLog, error) {
	p, err := scanPaymentLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentLog{}, models.ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentLogRepository) ListByOrder(ctx context.Context, orderID int64) ([]models.PaymentLog, error) {
	return r.list(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE order_id = ? ORDER BY created_at DESC, id DESC`, orderID)
}

// ListStalePending returns pending attempts created before the cutoff, oldest first.
func (r *PaymentLogRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentLog, error) {
	return r.list(ctx, `SELECT `+paymentLogColumns+` FROM payment_logs WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`,
		models.PaymentStatusPending, before, limit)
}

// Expire fails a still-pending attempt. It reports false when a webhook got there first.
func (r *PaymentLogRepository) Expire(ctx context.Context, p models.PaymentLog) (bool, error) {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE payment_logs SET status = ?, metadata = ? WHERE id = ? AND status = ?`,
		models.PaymentStatusFailed, meta, p.ID, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PaymentLogRepository) list(ctx context.Context, q string, args ...any) ([]models.PaymentLog, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentLog
	for rows.Next() {
		p, err := scanPaymentLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

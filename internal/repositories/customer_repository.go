package repositories

import (
	"context"
	"database/sql"
	"errors"

	"ordersBack/internal/models"
)

type CustomerRepository struct {
	DB *sql.DB
}

const customerColumns = `id, user_id, company_name, contact_name, phone, email, created_at`

func scanCustomer(s scanner) (models.Customer, error) {
	var c models.Customer
	err := s.Scan(&c.ID, &c.UserID, &c.CompanyName, &c.ContactName, &c.Phone, &c.Email, &c.CreatedAt)
	return c, err
}

func (r *CustomerRepository) GetByUserID(ctx context.Context, userID int64) (models.Customer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE user_id = ?`, userID)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, models.ErrCustomerNotFound
	}
	return c, err
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (models.Customer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Customer{}, models.ErrCustomerNotFound
	}
	return c, err
}

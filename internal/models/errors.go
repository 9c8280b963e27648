package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrProviderNotFound  = errors.New("payment provider not found")
	ErrInvalidSignature  = errors.New("invalid webhook signature")

	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrInvoiceNotFound  = fmt.Errorf("invoice %w", ErrNotFound)
	ErrPaymentNotFound  = fmt.Errorf("payment log %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)

	// ErrCustomerProfileMissing is returned when the acting user has no customer profile yet.
	ErrCustomerProfileMissing = fmt.Errorf("please complete your profile first: %w", ErrCustomerNotFound)

	ErrInvoiceExists = fmt.Errorf("invoice already exists for order: %w", ErrConflict)
	ErrOrderSettled  = fmt.Errorf("order is not payable: %w", ErrConflict)
)

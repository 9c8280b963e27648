// Package pay holds the provider-agnostic payment contract and its gateway adapters.
package pay

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"ordersBack/internal/models"
)

// CustomerInfo is forwarded to the gateway for receipts and prefilled checkout forms.
type CustomerInfo struct {
	CustomerID int64
	Name       string
	Email      string
	Phone      string
}

// CreateRequest describes a single payment attempt.
type CreateRequest struct {
	OrderID     int64
	PaymentID   int64 // ledger row id, lets gateways build a unique merchant reference
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    CustomerInfo
}

// CreateResult is what the browser needs to continue the checkout.
type CreateResult struct {
	RedirectURL   string            `json:"redirectUrl"`
	TransactionID string            `json:"transactionId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type WebhookStatus string

const (
	WebhookCompleted WebhookStatus = "completed"
	WebhookFailed    WebhookStatus = "failed"
	WebhookPending   WebhookStatus = "pending"
)

// WebhookResult is a gateway notification normalized to the common shape.
type WebhookResult struct {
	OrderID       int64
	TransactionID string
	Status        WebhookStatus
	Raw           []byte // payload as received
}

// Provider is implemented by every payment gateway adapter.
type Provider interface {
	Name() string
	// CreatePayment performs the outbound gateway call. It has no other side effects.
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)
	// VerifyWebhook checks the authenticity of an inbound notification.
	VerifyWebhook(payload []byte, headers http.Header) bool
	// ParseWebhook is pure: no I/O and no mutation.
	ParseWebhook(payload []byte) (WebhookResult, error)
}

// Replier is implemented by gateways that require a specific acknowledgement body.
type Replier interface {
	WebhookReply(result WebhookResult) string
}

// Registry maps provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds p under its name. Names are unique.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return nil
	}
	name := normalizeName(p.Name())
	if name == "" {
		return &RegistryError{Reason: "empty provider name"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return &RegistryError{Name: name, Reason: "already registered"}
	}
	r.providers[name] = p
	return nil
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalizeName(name)]
	if !ok {
		return nil, &RegistryError{Name: name, Reason: "unknown provider", err: models.ErrProviderNotFound}
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

type RegistryError struct {
	Name   string
	Reason string
	err    error
}

func (e *RegistryError) Error() string {
	if e.Name == "" {
		return "payment registry: " + e.Reason
	}
	return "payment registry: " + e.Name + ": " + e.Reason
}

func (e *RegistryError) Unwrap() error { return e.err }

// NormalizeStatus maps the many gateway spellings onto the common status set.
func NormalizeStatus(raw string) WebhookStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "paid", "done", "approved", "completed", "charged":
		return WebhookCompleted
	case "failure", "failed", "cancelled", "canceled", "rejected", "error", "expired", "declined":
		return WebhookFailed
	default:
		return WebhookPending
	}
}

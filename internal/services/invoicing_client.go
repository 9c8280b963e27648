package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ordersBack/internal/models"
	"ordersBack/internal/retry"
)

type InvoicingConfig struct {
	BaseURL  string
	Username string
	Password string
	Currency string
	Client   *http.Client
	Logger   *slog.Logger
	Retry    retry.Policy
}

// tokenCache holds one bearer token for the whole process. Concurrent callers that find
// it expired share a single refresh.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
	now       func() time.Time
}

func (c *tokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(time.Minute).Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *tokenCache) get(ctx context.Context, fetch func(ctx context.Context) (string, time.Duration, error)) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		// not bound to the first caller's cancellation; others may be waiting
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		tok, ttl, err := fetch(fctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.expiresAt = c.now().Add(ttl)
		c.mu.Unlock()
		return tok, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// InvoicingClient registers invoices with the external bookkeeping API.
type InvoicingClient struct {
	baseURL    string
	username   string
	password   string
	currency   string
	httpClient *http.Client
	logger     *slog.Logger
	retry      retry.Policy
	tokens     *tokenCache
}

func NewInvoicingClient(cfg InvoicingConfig) (*InvoicingClient, error) {
	if cfg.BaseURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("invoicing: base_url/username/password are required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "KZT"
	}
	return &InvoicingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		currency:   currency,
		httpClient: client,
		logger:     logger,
		retry:      policy,
		tokens:     &tokenCache{now: time.Now},
	}, nil
}

func (c *InvoicingClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	body, _ := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/auth/token", "", nil, body, &out)
	})
	if err != nil {
		return "", 0, fmt.Errorf("invoicing sign-in: %w", err)
	}
	if out.AccessToken == "" {
		return "", 0, errors.New("invoicing sign-in: empty access_token")
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 55 * time.Minute
	}
	return out.AccessToken, ttl, nil
}

type invoiceDocumentRequest struct {
	Number   string `json:"number"`
	OrderID  int64  `json:"orderId"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	IssuedAt string `json:"issuedAt"`
	Customer struct {
		CompanyName string `json:"companyName"`
		ContactName string `json:"contactName"`
		Email       string `json:"email,omitempty"`
		Phone       string `json:"phone,omitempty"`
	} `json:"customer"`
	Items []invoiceDocumentLine `json:"items"`
}

type invoiceDocumentLine struct {
	ProductType string `json:"productType"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
}

// Publish registers the invoice and returns the document URL. The invoice number is the
// idempotency key, so the call is safe to retry.
func (c *InvoicingClient) Publish(ctx context.Context, inv models.Invoice, order models.Order, customer models.Customer) (string, error) {
	req := invoiceDocumentRequest{
		Number:   inv.Number,
		OrderID:  order.ID,
		Amount:   inv.Amount.StringFixed(2),
		Currency: c.currency,
		IssuedAt: inv.IssuedAt.UTC().Format(time.RFC3339),
	}
	req.Customer.CompanyName = customer.CompanyName
	req.Customer.ContactName = customer.ContactName
	req.Customer.Email = customer.Email
	req.Customer.Phone = customer.Phone
	for _, it := range order.Items {
		req.Items = append(req.Items, invoiceDocumentLine{
			ProductType: it.ProductType,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			LineTotal:   it.LineTotal.StringFixed(2),
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		token, err := c.tokens.get(ctx, c.fetchToken)
		if err != nil {
			return retry.Permanent(err)
		}
		err = c.doJSON(ctx, http.MethodPost, "/invoices", token, map[string]string{"Idempotency-Key": inv.Number}, body, &out)
		var ext *ExternalError
		if errors.As(err, &ext) && ext.StatusCode == http.StatusUnauthorized {
			c.tokens.invalidate()
			// a fresh token is worth one more attempt
			return &ExternalError{Service: ext.Service, StatusCode: http.StatusServiceUnavailable, Body: "token expired"}
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", errors.New("invoicing: empty document url")
	}
	c.logger.Info("invoice document registered", "invoice_id", inv.ID, "number", inv.Number, "document_id", out.ID)
	return out.URL, nil
}

func (c *InvoicingClient) doJSON(ctx context.Context, method, path, token string, headers map[string]string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoicing %s: %w", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ExternalError{Service: "invoicing", StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return retry.Permanent(fmt.Errorf("invoicing %s: decode: %w", path, err))
	}
	return nil
}

package pay

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"ordersBack/internal/retry"
)

const (
	AirbapayName = "airbapay"

	defaultAirbapayPublicKeyURL = "https://ps.airbapay.kz/acquiring/sign/public.pem"
	airbapayTokenTTL            = 55 * time.Minute
)

type AirbapayConfig struct {
	Username   string
	Password   string
	TerminalID string

	// Acquiring API base, e.g. https://ps.airbapay.kz/acquiring-api
	BaseURL string

	SuccessBackURL string
	FailureBackURL string
	CallbackURL    string

	// PublicKeyPEM wins over PublicKeyURL when both are set.
	PublicKeyPEM string
	PublicKeyURL string

	Currency string
	Language string

	Client *http.Client
	Logger *slog.Logger
	Retry  retry.Policy
}

// Airbapay is the primary gateway adapter.
type Airbapay struct {
	username   string
	password   string
	terminalID string
	baseURL    *url.URL

	successBackURL string
	failureBackURL string
	callbackURL    string
	currency       string
	language       string

	httpClient *http.Client
	logger     *slog.Logger
	retry      retry.Policy

	// jwt cache
	mu          sync.Mutex
	accessToken string
	tokenExp    time.Time

	keyMu        sync.Mutex
	pubKey       *rsa.PublicKey
	publicKeyPEM string
	publicKeyURL string
}

func NewAirbapay(cfg AirbapayConfig) (*Airbapay, error) {
	if strings.TrimSpace(cfg.Username) == "" ||
		strings.TrimSpace(cfg.Password) == "" ||
		strings.TrimSpace(cfg.TerminalID) == "" ||
		strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("airbapay: username/password/terminal_id/base_url are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = retry.DefaultPolicy
	}
	keyURL := cfg.PublicKeyURL
	if keyURL == "" {
		keyURL = defaultAirbapayPublicKeyURL
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "KZT"
	}
	language := cfg.Language
	if language == "" {
		language = "ru"
	}

	a := &Airbapay{
		username:       cfg.Username,
		password:       cfg.Password,
		terminalID:     cfg.TerminalID,
		baseURL:        u,
		successBackURL: cfg.SuccessBackURL,
		failureBackURL: cfg.FailureBackURL,
		callbackURL:    cfg.CallbackURL,
		currency:       currency,
		language:       language,
		httpClient:     client,
		logger:         logger,
		retry:          policy,
		publicKeyPEM:   cfg.PublicKeyPEM,
		publicKeyURL:   keyURL,
	}
	logger.Info("AirbaPay initialized",
		"baseURL", safeURL(a.baseURL),
		"successBackURL_set", a.successBackURL != "",
		"failureBackURL_set", a.failureBackURL != "",
		"callbackURL_set", a.callbackURL != "",
	)
	return a, nil
}

func (a *Airbapay) Name() string { return AirbapayName }

// ------- AUTH (JWT) -------

func (a *Airbapay) ensureToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Until(a.tokenExp) > 2*time.Minute {
		return a.accessToken, nil
	}
	type signInReq struct {
		User       string `json:"user"`
		Password   string `json:"password"`
		TerminalID string `json:"terminal_id"`
	}
	type signInResp struct {
		AccessToken string `json:"access_token"`
	}

	endpoint := *a.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/v1/auth/sign-in")
	body, _ := json.Marshal(signInReq{
		User:       a.username,
		Password:   a.password,
		TerminalID: a.terminalID,
	})

	var out signInResp
	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("auth request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return &GatewayError{Provider: AirbapayName, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("auth decode: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("auth: empty access_token")
	}
	a.accessToken = out.AccessToken
	a.tokenExp = time.Now().Add(airbapayTokenTTL)
	return a.accessToken, nil
}

// ------- PAYMENTS v2 -------

type paymentV2Request struct {
	InvoiceID       string  `json:"invoice_id"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Description     string  `json:"description,omitempty"`
	Email           string  `json:"email,omitempty"`
	Phone           string  `json:"phone,omitempty"` // 7XXXXXXXXXX
	Language        string  `json:"language,omitempty"`
	AccountID       string  `json:"account_id,omitempty"`
	CardSave        bool    `json:"card_save"`
	AutoCharge      int     `json:"auto_charge"` // 1=one-stage, 0=two-stage
	SuccessBackURL  string  `json:"success_back_url"`
	FailureBackURL  string  `json:"failure_back_url"`
	SuccessCallback string  `json:"success_callback"`
	FailureCallback string  `json:"failure_callback"`
}

type paymentV2Response struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoice_id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// merchantReference is unique per attempt and still carries the order id.
func merchantReference(orderID, paymentID int64) string {
	if paymentID <= 0 {
		return strconv.FormatInt(orderID, 10)
	}
	return fmt.Sprintf("%d-%d", orderID, paymentID)
}

func orderIDFromReference(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexByte(ref, '-'); i >= 0 {
		ref = ref[:i]
	}
	return strconv.ParseInt(ref, 10, 64)
}

// CreatePayment registers the payment at AirbaPay and returns its redirect_url.
func (a *Airbapay) CreatePayment(ctx context.Context, in CreateRequest) (CreateResult, error) {
	logger := a.logger.With("op", "CreatePayment", "order_id", in.OrderID)
	token, err := a.ensureToken(ctx)
	if err != nil {
		return CreateResult{}, err
	}

	endpoint := *a.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/v2/payments")

	currency := in.Currency
	if currency == "" {
		currency = a.currency
	}
	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Order #%d", in.OrderID)
	}
	reqBody := paymentV2Request{
		InvoiceID:       merchantReference(in.OrderID, in.PaymentID),
		Amount:          in.Amount.InexactFloat64(),
		Currency:        currency,
		Description:     description,
		Email:           in.Customer.Email,
		Phone:           airbapayPhone(in.Customer.Phone),
		Language:        a.language,
		AccountID:       strconv.FormatInt(in.Customer.CustomerID, 10),
		AutoCharge:      1,
		SuccessBackURL:  a.successBackURL,
		FailureBackURL:  a.failureBackURL,
		SuccessCallback: a.callbackURL,
		FailureCallback: a.callbackURL,
	}
	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return CreateResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return CreateResult{}, fmt.Errorf("payments v2 request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	logger.Debug("payments v2 raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode == http.StatusUnauthorized {
		a.invalidateToken()
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return CreateResult{}, &GatewayError{Provider: AirbapayName, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out paymentV2Response
	if err := json.Unmarshal(b, &out); err != nil {
		return CreateResult{}, fmt.Errorf("decode payments v2: %w", err)
	}
	if strings.TrimSpace(out.RedirectURL) == "" || strings.TrimSpace(out.ID) == "" {
		return CreateResult{}, fmt.Errorf("payments v2: empty redirect_url or id")
	}

	return CreateResult{
		RedirectURL:   out.RedirectURL,
		TransactionID: out.ID,
		Metadata: map[string]string{
			"invoice_id":     out.InvoiceID,
			"gateway_status": out.Status,
		},
	}, nil
}

func (a *Airbapay) invalidateToken() {
	a.mu.Lock()
	a.accessToken = ""
	a.tokenExp = time.Time{}
	a.mu.Unlock()
}

// airbapayPhone converts a phone to the 11 digit 7XXXXXXXXXX form the gateway expects.
func airbapayPhone(phone string) string {
	digits := digitsOnly(phone)
	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	if len(digits) != 11 {
		return ""
	}
	return digits
}

// digitsOnly strips everything except 0-9.
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ------- CALLBACK (webhook) -------

type airbapayWebhook struct {
	ID          string
	InvoiceID   string
	Amount      float64
	Currency    string
	Status      string
	Description string
	Sign        string
}

func (p *airbapayWebhook) UnmarshalJSON(data []byte) error {
	type rawPayload struct {
		ID             string          `json:"id"`
		InvoiceID      string          `json:"invoice_id"`
		InvoiceIDCamel string          `json:"invoiceId"`
		Amount         json.RawMessage `json:"amount"`
		Currency       string          `json:"currency"`
		Status         string          `json:"status"`
		Description    string          `json:"description"`
		Sign           string          `json:"sign"`
	}

	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	invoiceID := strings.TrimSpace(raw.InvoiceID)
	if invoiceID == "" {
		invoiceID = strings.TrimSpace(raw.InvoiceIDCamel)
	}

	var amount float64
	if len(raw.Amount) > 0 {
		if err := json.Unmarshal(raw.Amount, &amount); err != nil {
			var amountStr string
			if err := json.Unmarshal(raw.Amount, &amountStr); err != nil {
				return fmt.Errorf("airbapay: parse webhook amount: %w", err)
			}
			amountStr = strings.TrimSpace(amountStr)
			if amountStr != "" {
				parsed, err := strconv.ParseFloat(amountStr, 64)
				if err != nil {
					return fmt.Errorf("airbapay: parse webhook amount: %w", err)
				}
				amount = parsed
			}
		}
	}

	p.ID = strings.TrimSpace(raw.ID)
	p.InvoiceID = invoiceID
	p.Amount = amount
	p.Currency = strings.TrimSpace(raw.Currency)
	p.Status = strings.TrimSpace(raw.Status)
	p.Description = strings.TrimSpace(raw.Description)
	p.Sign = strings.TrimSpace(raw.Sign)
	return nil
}

// signedString is the concatenation AirbaPay signs: id+invoice_id+amount+currency+status+description.
func (p *airbapayWebhook) signedString() string {
	amountStr := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", p.Amount), "0"), ".")
	return p.ID + p.InvoiceID + amountStr + p.Currency + p.Status + p.Description
}

// VerifyWebhook checks the RSA-SHA256 "sign" field against the AirbaPay public key.
func (a *Airbapay) VerifyWebhook(payload []byte, _ http.Header) bool {
	var p airbapayWebhook
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	if p.Sign == "" {
		return false
	}
	key, err := a.publicKey()
	if err != nil {
		a.logger.Error("load public key failed", "err", err)
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(p.Sign)
	if err != nil {
		return false
	}
	h := sha256.Sum256([]byte(p.signedString()))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, h[:], sig) == nil
}

// ParseWebhook normalizes the AirbaPay callback body.
func (a *Airbapay) ParseWebhook(payload []byte) (WebhookResult, error) {
	var p airbapayWebhook
	if err := json.Unmarshal(payload, &p); err != nil {
		return WebhookResult{}, fmt.Errorf("decode callback: %w", err)
	}
	if p.InvoiceID == "" {
		return WebhookResult{}, errors.New("airbapay: missing invoice_id")
	}
	orderID, err := orderIDFromReference(p.InvoiceID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("airbapay: invalid invoice_id %q: %w", p.InvoiceID, err)
	}
	return WebhookResult{
		OrderID:       orderID,
		TransactionID: p.ID,
		Status:        NormalizeStatus(p.Status),
		Raw:           payload,
	}, nil
}

// publicKey loads the verification key once; a failed load is retried on the next webhook.
func (a *Airbapay) publicKey() (*rsa.PublicKey, error) {
	a.keyMu.Lock()
	defer a.keyMu.Unlock()
	if a.pubKey != nil {
		return a.pubKey, nil
	}

	pemBytes := []byte(a.publicKeyPEM)
	if len(bytes.TrimSpace(pemBytes)) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.publicKeyURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("get public key: %s", resp.Status)
		}
		pemBytes, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
	}
	key, err := ParseRSAPublicKey(pemBytes)
	if err != nil {
		return nil, err
	}
	a.pubKey = key
	return key, nil
}

// ParseRSAPublicKey decodes a PEM encoded PKIX RSA public key.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("pem decode failed")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return rk, nil
}

package pay

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ordersBack/internal/retry"
)

func newTestAirbapay(t *testing.T, baseURL string, mutate func(*AirbapayConfig)) *Airbapay {
	t.Helper()
	cfg := AirbapayConfig{
		Username:    "user",
		Password:    "pass",
		TerminalID:  "terminal",
		BaseURL:     baseURL,
		CallbackURL: "https://api.example.test/payments/webhook/airbapay",
		Retry:       retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAirbapay(cfg)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return a
}

func TestNewAirbapay_RequiresCredentials(t *testing.T) {
	if _, err := NewAirbapay(AirbapayConfig{BaseURL: "https://x"}); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestAirbapayCreatePayment(t *testing.T) {
	var signIns int32
	var got paymentV2Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/sign-in":
			atomic.AddInt32(&signIns, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/v2/payments":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pay-1","invoice_id":"42-7","status":"new","redirect_url":"https://ps.example/pay/1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	a := newTestAirbapay(t, ts.URL, nil)
	req := CreateRequest{
		OrderID:   42,
		PaymentID: 7,
		Amount:    decimal.NewFromInt(1050),
		Customer:  CustomerInfo{CustomerID: 3, Phone: "8 (701) 123-45-67", Email: "a@b.kz"},
	}
	res, err := a.CreatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RedirectURL != "https://ps.example/pay/1" {
		t.Errorf("redirect mismatch: %q", res.RedirectURL)
	}
	if res.TransactionID != "pay-1" {
		t.Errorf("transaction id mismatch: %q", res.TransactionID)
	}
	if got.InvoiceID != "42-7" {
		t.Errorf("merchant reference mismatch: %q", got.InvoiceID)
	}
	if got.Amount != 1050 || got.Currency != "KZT" {
		t.Errorf("amount/currency mismatch: %v %q", got.Amount, got.Currency)
	}
	if got.Phone != "77011234567" {
		t.Errorf("phone mismatch: %q", got.Phone)
	}

	// token is cached
	if _, err := a.CreatePayment(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&signIns); n != 1 {
		t.Errorf("expected one sign-in, got %d", n)
	}
}

func TestAirbapayCreatePayment_Non2xxReturnsGatewayError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/sign-in" {
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer ts.Close()

	a := newTestAirbapay(t, ts.URL, nil)
	_, err := a.CreatePayment(context.Background(), CreateRequest{OrderID: 1, Amount: decimal.NewFromInt(10)})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T (%v)", err, err)
	}
	if gwErr.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status code: %d", gwErr.StatusCode)
	}
	if gwErr.Body == "" {
		t.Errorf("expected body to be populated")
	}
}

func TestAirbapaySignInRetriesOn5xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/sign-in" {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p","redirect_url":"https://r"}`))
	}))
	defer ts.Close()

	a := newTestAirbapay(t, ts.URL, nil)
	if _, err := a.CreatePayment(context.Background(), CreateRequest{OrderID: 1, Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 sign-in attempts, got %d", n)
	}
}

func signedCallback(t *testing.T, key *rsa.PrivateKey, p map[string]any) []byte {
	t.Helper()
	raw, _ := json.Marshal(p)
	var parsed airbapayWebhook
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	h := sha256.Sum256([]byte(parsed.signedString()))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p["sign"] = base64.StdEncoding.EncodeToString(sig)
	out, _ := json.Marshal(p)
	return out
}

func TestAirbapayVerifyAndParseWebhook(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	der, _ := x509.MarshalPKIXPublicKey(&key.PublicKey)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	var keyFetches int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&keyFetches, 1)
		_, _ = w.Write(pemKey)
	}))
	defer ts.Close()

	a := newTestAirbapay(t, "https://ps.example", func(c *AirbapayConfig) { c.PublicKeyURL = ts.URL })

	payload := signedCallback(t, key, map[string]any{
		"id":          "pay-1",
		"invoice_id":  "42-7",
		"amount":      "1050.00",
		"currency":    "KZT",
		"status":      "success",
		"description": "Order #42",
	})
	if !a.VerifyWebhook(payload, nil) {
		t.Fatal("expected valid signature")
	}
	if !a.VerifyWebhook(payload, nil) {
		t.Fatal("expected valid signature on second call")
	}
	if n := atomic.LoadInt32(&keyFetches); n != 1 {
		t.Errorf("public key fetched %d times", n)
	}

	var tampered map[string]any
	_ = json.Unmarshal(payload, &tampered)
	tampered["amount"] = 1
	tamperedRaw, _ := json.Marshal(tampered)
	if a.VerifyWebhook(tamperedRaw, nil) {
		t.Fatal("tampered payload must not verify")
	}

	res, err := a.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.OrderID != 42 || res.TransactionID != "pay-1" || res.Status != WebhookCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAirbapayParseWebhook_CamelCaseInvoice(t *testing.T) {
	a := newTestAirbapay(t, "https://ps.example", nil)
	res, err := a.ParseWebhook([]byte(`{"id":"x","invoiceId":"15","amount":10,"status":"error"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.OrderID != 15 || res.Status != WebhookFailed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := a.ParseWebhook([]byte(`{"id":"x","status":"success"}`)); err == nil {
		t.Fatal("expected error for missing invoice_id")
	}
}

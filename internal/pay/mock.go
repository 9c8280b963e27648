package pay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	MockName            = "mock"
	MockSignatureHeader = "X-Mock-Signature"
)

// Mock is a gateway stand-in for staging and tests. Its webhooks are signed with HMAC-SHA256.
type Mock struct {
	checkoutURL string
	secret      string
	newID       func() string
}

func NewMock(checkoutURL, secret string) *Mock {
	if checkoutURL == "" {
		checkoutURL = "https://pay.example.test/checkout"
	}
	return &Mock{
		checkoutURL: checkoutURL,
		secret:      secret,
		newID:       func() string { return uuid.NewString() },
	}
}

func (m *Mock) Name() string { return MockName }

func (m *Mock) CreatePayment(_ context.Context, req CreateRequest) (CreateResult, error) {
	if req.OrderID <= 0 {
		return CreateResult{}, errors.New("mock: order id is required")
	}
	tx := m.newID()
	q := url.Values{}
	q.Set("tx", tx)
	q.Set("order", strconv.FormatInt(req.OrderID, 10))
	return CreateResult{
		RedirectURL:   m.checkoutURL + "?" + q.Encode(),
		TransactionID: "mock_" + tx,
		Metadata:      map[string]string{"amount": req.Amount.StringFixed(2)},
	}, nil
}

func (m *Mock) VerifyWebhook(payload []byte, headers http.Header) bool {
	return VerifyHMAC(payload, headers.Get(MockSignatureHeader), m.secret)
}

type mockWebhook struct {
	OrderID       json.RawMessage `json:"orderId"`
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
}

func (m *Mock) ParseWebhook(payload []byte) (WebhookResult, error) {
	var p mockWebhook
	if err := json.Unmarshal(payload, &p); err != nil {
		return WebhookResult{}, fmt.Errorf("mock: decode webhook: %w", err)
	}
	orderID, err := flexibleID(p.OrderID)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("mock: orderId: %w", err)
	}
	return WebhookResult{
		OrderID:       orderID,
		TransactionID: strings.TrimSpace(p.TransactionID),
		Status:        NormalizeStatus(p.Status),
		Raw:           payload,
	}, nil
}

// flexibleID accepts 42 or "42".
func flexibleID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

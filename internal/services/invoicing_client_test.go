package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersBack/internal/models"
	"ordersBack/internal/retry"
)

func newInvoicingServer(t *testing.T, signIns, posts *int32, failFirstPost int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			atomic.AddInt32(signIns, 1)
			time.Sleep(20 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
		case "/invoices":
			n := atomic.AddInt32(posts, 1)
			if n <= failFirstPost {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "doc-1", "url": "https://docs.example/" + r.Header.Get("Idempotency-Key")})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testInvoice(n int) (models.Invoice, models.Order, models.Customer) {
	inv := models.Invoice{ID: int64(n), Number: FormatInvoiceNumber(2025, int64(n)), Amount: decimal.NewFromInt(1050), IssuedAt: fixedNow}
	return inv, models.Order{ID: int64(n)}, models.Customer{CompanyName: "Aqua LLP"}
}

func TestInvoicingClient_SharesTokenRefresh(t *testing.T) {
	var signIns, posts int32
	ts := newInvoicingServer(t, &signIns, &posts, 0)
	defer ts.Close()

	c, err := NewInvoicingClient(InvoicingConfig{BaseURL: ts.URL, Username: "u", Password: "p"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, order, cust := testInvoice(i)
			url, err := c.Publish(context.Background(), inv, order, cust)
			assert.NoError(t, err)
			assert.Equal(t, "https://docs.example/"+inv.Number, url)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&signIns))
	assert.Equal(t, int32(8), atomic.LoadInt32(&posts))
}

func TestInvoicingClient_RetriesTransientFailures(t *testing.T) {
	var signIns, posts int32
	ts := newInvoicingServer(t, &signIns, &posts, 1)
	defer ts.Close()

	c, err := NewInvoicingClient(InvoicingConfig{
		BaseURL: ts.URL, Username: "u", Password: "p",
		Retry: retry.Policy{Attempts: 3, Base: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	inv, order, cust := testInvoice(1)
	_, err = c.Publish(context.Background(), inv, order, cust)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&posts))
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := &tokenCache{now: time.Now}
	calls := 0
	fetch := func(context.Context) (string, time.Duration, error) {
		calls++
		return "t", time.Hour, nil
	}
	_, err := c.get(context.Background(), fetch)
	require.NoError(t, err)
	_, _ = c.get(context.Background(), fetch)
	assert.Equal(t, 1, calls)

	c.invalidate()
	_, _ = c.get(context.Background(), fetch)
	assert.Equal(t, 2, calls)
}

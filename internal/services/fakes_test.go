package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ordersBack/internal/events"
	"ordersBack/internal/models"
)

type fakeOrders struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.Order
}

func newFakeOrders() *fakeOrders { return &fakeOrders{rows: map[int64]models.Order{}} }

func (f *fakeOrders) Create(_ context.Context, o models.Order) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	f.rows[o.ID] = o
	return o, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id int64) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) List(_ context.Context, customerID *int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.rows {
		if customerID == nil || o.CustomerID == *customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeOrders) UpdateFields(_ context.Context, id int64, total *decimal.Decimal, notes *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if total != nil {
		o.TotalAmount = *total
	}
	if notes != nil {
		o.Notes = *notes
	}
	f.rows[id] = o
	return nil
}

func (f *fakeOrders) TransitionStatus(_ context.Context, id int64, from, to models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok || o.Status != from {
		return sql.ErrNoRows
	}
	o.Status = to
	f.rows[id] = o
	return nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, id int64, from models.OrderStatus, paidAt time.Time, invoiceID *int64, invoiceURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.rows[id]
	if !ok || o.Status != from {
		return sql.ErrNoRows
	}
	o.Status = models.OrderStatusPaid
	o.PaymentStatus = models.PaymentMarkerPaid
	if o.PaidAt == nil {
		o.PaidAt = &paidAt
	}
	if invoiceID != nil {
		o.InvoiceID = invoiceID
	}
	if invoiceURL != "" {
		o.InvoiceURL = invoiceURL
	}
	f.rows[id] = o
	return nil
}

func (f *fakeOrders) SetPaymentStatus(_ context.Context, id int64, marker models.PaymentMarker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.rows[id]
	if o.PaymentStatus == models.PaymentMarkerPaid && marker != models.PaymentMarkerPaid {
		return nil
	}
	o.PaymentStatus = marker
	f.rows[id] = o
	return nil
}

func (f *fakeOrders) AttachInvoice(_ context.Context, id, invoiceID int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.rows[id]
	o.InvoiceID = &invoiceID
	o.InvoiceURL = url
	f.rows[id] = o
	return nil
}

type fakeCustomers struct {
	rows map[int64]models.Customer
}

func (f *fakeCustomers) GetByUserID(_ context.Context, userID int64) (models.Customer, error) {
	for _, c := range f.rows {
		if c.UserID == userID {
			return c, nil
		}
	}
	return models.Customer{}, models.ErrCustomerNotFound
}

func (f *fakeCustomers) GetByID(_ context.Context, id int64) (models.Customer, error) {
	c, ok := f.rows[id]
	if !ok {
		return models.Customer{}, models.ErrCustomerNotFound
	}
	return c, nil
}

type fakePayments struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.PaymentLog
	saves  int
}

func newFakePayments() *fakePayments { return &fakePayments{rows: map[int64]models.PaymentLog{}} }

func clonePayment(p models.PaymentLog) models.PaymentLog {
	if p.Metadata != nil {
		m := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			m[k] = v
		}
		p.Metadata = m
	}
	return p
}

func (f *fakePayments) Create(_ context.Context, p models.PaymentLog) (models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now().Add(time.Duration(f.nextID) * time.Millisecond)
	f.rows[p.ID] = clonePayment(p)
	return p, nil
}

func (f *fakePayments) Save(_ context.Context, p models.PaymentLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.ID]; !ok {
		return models.ErrPaymentNotFound
	}
	f.saves++
	f.rows[p.ID] = clonePayment(p)
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id int64) (models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return models.PaymentLog{}, models.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (f *fakePayments) GetByTransaction(_ context.Context, provider, tx string) (models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.Provider == provider && p.TransactionID != nil && *p.TransactionID == tx {
			return clonePayment(p), nil
		}
	}
	return models.PaymentLog{}, models.ErrPaymentNotFound
}

func (f *fakePayments) sorted(orderID int64) []models.PaymentLog {
	var out []models.PaymentLog
	for _, p := range f.rows {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakePayments) LatestForOrder(_ context.Context, orderID int64) (models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sorted(orderID)
	if len(rows) == 0 {
		return models.PaymentLog{}, models.ErrPaymentNotFound
	}
	return rows[0], nil
}

func (f *fakePayments) CompletedForOrder(_ context.Context, orderID int64) (models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sorted(orderID)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Status == models.PaymentStatusCompleted {
			return rows[i], nil
		}
	}
	return models.PaymentLog{}, models.ErrPaymentNotFound
}

func (f *fakePayments) ListByOrder(_ context.Context, orderID int64) ([]models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(orderID), nil
}

func (f *fakePayments) ListStalePending(_ context.Context, before time.Time, limit int) ([]models.PaymentLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentLog
	for _, p := range f.rows {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (f *fakePayments) Expire(_ context.Context, p models.PaymentLog) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[p.ID]
	if !ok || cur.Status != models.PaymentStatusPending {
		return false, nil
	}
	cur.Status = models.PaymentStatusFailed
	cur.Metadata = p.Metadata
	f.rows[p.ID] = clonePayment(cur)
	return true, nil
}

func (f *fakePayments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeInvoices struct {
	mu     sync.Mutex
	nextID int64
	seq    map[int]int64
	rows   map[int64]models.Invoice
	orders *fakeOrders
	custs  *fakeCustomers
}

func newFakeInvoices(orders *fakeOrders, custs *fakeCustomers) *fakeInvoices {
	return &fakeInvoices{seq: map[int]int64{}, rows: map[int64]models.Invoice{}, orders: orders, custs: custs}
}

func (f *fakeInvoices) NextSequence(_ context.Context, year int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[year]++
	return f.seq[year], nil
}

func (f *fakeInvoices) Create(_ context.Context, inv models.Invoice) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.OrderID == inv.OrderID {
			return models.Invoice{}, models.ErrInvoiceExists
		}
		if existing.Number == inv.Number {
			return models.Invoice{}, fmt.Errorf("number taken: %w", models.ErrConflict)
		}
	}
	f.nextID++
	inv.ID = f.nextID
	f.rows[inv.ID] = inv
	return inv, nil
}

func (f *fakeInvoices) GetByID(_ context.Context, id int64) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.rows[id]
	if !ok {
		return models.Invoice{}, models.ErrInvoiceNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) GetByOrderID(_ context.Context, orderID int64) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.rows {
		if inv.OrderID == orderID {
			return inv, nil
		}
	}
	return models.Invoice{}, models.ErrInvoiceNotFound
}

func (f *fakeInvoices) ListAll(_ context.Context) ([]models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Invoice
	for _, inv := range f.rows {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeInvoices) ListByUser(ctx context.Context, userID int64) ([]models.Invoice, error) {
	c, err := f.custs.GetByUserID(ctx, userID)
	if err != nil {
		return nil, nil
	}
	all, _ := f.ListAll(ctx)
	var out []models.Invoice
	for _, inv := range all {
		if inv.CustomerID == c.ID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) SetURL(_ context.Context, id int64, url string, status models.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv := f.rows[id]
	inv.URL = url
	inv.Status = status
	f.rows[id] = inv
	return nil
}

func (f *fakeInvoices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeDocs struct {
	err error
}

func (d *fakeDocs) Publish(_ context.Context, inv models.Invoice, _ models.Order, _ models.Customer) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return "https://docs.test/" + inv.Number, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, e.Topic)
	return nil
}

func (r *recordingPublisher) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, _ models.Customer, _ int64, _ string) NotificationResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return NotificationResult{Method: NotifySMS, Success: true}
}

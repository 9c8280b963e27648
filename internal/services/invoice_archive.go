package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"

	"ordersBack/internal/models"
	"ordersBack/internal/timeutil"
)

// ObjectStore is satisfied by utils.S3Storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

var invoiceHTML = template.Must(template.New("invoice").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Invoice.Number}}</title></head>
<body>
<h1>Invoice {{.Invoice.Number}}</h1>
<p>Issued {{.Issued}}</p>
<p>Bill to: {{.Customer.CompanyName}}{{if .Customer.ContactName}}, {{.Customer.ContactName}}{{end}}</p>
<p>Order #{{.Order.ID}}</p>
<table border="1" cellpadding="4">
<tr><th>Product</th><th>Qty</th><th>Unit price</th><th>Total</th></tr>
{{range .Order.Items}}<tr><td>{{.ProductType}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice.StringFixed 2}}</td><td>{{.LineTotal.StringFixed 2}}</td></tr>
{{end}}</table>
<p><strong>Total: {{.Invoice.Amount.StringFixed 2}} {{.Currency}}</strong></p>
</body></html>
`))

// InvoiceArchive renders the invoice as HTML and stores it in object storage.
type InvoiceArchive struct {
	Store    ObjectStore
	Currency string
}

func (a *InvoiceArchive) Publish(ctx context.Context, inv models.Invoice, order models.Order, customer models.Customer) (string, error) {
	var buf bytes.Buffer
	err := invoiceHTML.Execute(&buf, map[string]any{
		"Invoice":  inv,
		"Order":    order,
		"Customer": customer,
		"Issued":   timeutil.In(inv.IssuedAt).Format("02.01.2006"),
		"Currency": a.Currency,
	})
	if err != nil {
		return "", fmt.Errorf("render invoice %s: %w", inv.Number, err)
	}
	key := "invoices/" + strconv.Itoa(timeutil.Year(inv.IssuedAt)) + "/" + inv.Number + ".html"
	return a.Store.Put(ctx, key, buf.Bytes(), "text/html; charset=utf-8")
}

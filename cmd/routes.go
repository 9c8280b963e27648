package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) JWTMiddlewareWithRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return app.JWTMiddleware(next, requiredRole)
	}
}

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole(roleAny))
	staffMiddleware := standardMiddleware.Append(app.JWTMiddlewareWithRole(roleStaff))

	mux := pat.New()

	mux.Get("/healthz", standardMiddleware.ThenFunc(app.healthz))

	// Orders
	mux.Post("/orders", authMiddleware.ThenFunc(app.orderHandler.CreateOrder))
	mux.Get("/orders", authMiddleware.ThenFunc(app.orderHandler.GetOrders))
	mux.Get("/orders/:id", authMiddleware.ThenFunc(app.orderHandler.GetOrderByID))
	mux.Put("/orders/:id", staffMiddleware.ThenFunc(app.orderHandler.UpdateOrder))
	mux.Post("/orders/:id/cancel", authMiddleware.ThenFunc(app.orderHandler.CancelOrder))

	// Payments
	mux.Post("/payments/create", authMiddleware.ThenFunc(app.paymentHandler.CreatePayment))
	mux.Post("/payments/webhook/:provider", standardMiddleware.ThenFunc(app.paymentHandler.Webhook))
	mux.Get("/payments/order/:id", authMiddleware.ThenFunc(app.paymentHandler.GetOrderPayments))
	mux.Get("/payments/success", standardMiddleware.ThenFunc(app.paymentHandler.SuccessRedirect))
	mux.Get("/payments/failure", standardMiddleware.ThenFunc(app.paymentHandler.FailureRedirect))

	// Invoices
	mux.Post("/invoices", staffMiddleware.ThenFunc(app.invoiceHandler.CreateInvoice))
	mux.Get("/invoices", authMiddleware.ThenFunc(app.invoiceHandler.GetInvoices))
	mux.Get("/invoices/:id", authMiddleware.ThenFunc(app.invoiceHandler.GetInvoiceByID))

	// Staff live feed
	mux.Get("/ws/orders", alice.New(app.recoverPanic, app.logRequest).Append(app.JWTMiddlewareWithRole(roleStaff)).ThenFunc(app.feed.ServeWS))

	return mux
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		app.clientError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

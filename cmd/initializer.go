package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	firebase "firebase.google.com/go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"ordersBack/internal/config"
	"ordersBack/internal/events"
	"ordersBack/internal/handlers"
	"ordersBack/internal/lock"
	"ordersBack/internal/pay"
	"ordersBack/internal/repositories"
	"ordersBack/internal/retry"
	"ordersBack/internal/services"
	"ordersBack/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	logger   *slog.Logger
	db       *sql.DB

	tokens *utils.Manager
	feed   *OrderFeed

	orderService   *services.OrderService
	paymentService *services.PaymentService
	invoiceService *services.InvoiceService

	orderHandler   *handlers.OrderHandler
	paymentHandler *handlers.PaymentHandler
	invoiceHandler *handlers.InvoiceHandler

	closers []func() error
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.errorLog.Printf("close: %v", err)
		}
	}
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger, errorLog, infoLog *log.Logger) (*application, error) {
	app := &application{errorLog: errorLog, infoLog: infoLog, logger: logger, db: db}

	tokens, err := utils.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	app.tokens = tokens

	httpClient := &http.Client{Timeout: cfg.Outbound.Timeout}
	policy := retry.DefaultPolicy
	policy.Attempts = cfg.Outbound.Retries

	// Repositories
	orderRepo := &repositories.OrderRepository{DB: db}
	customerRepo := &repositories.CustomerRepository{DB: db}
	paymentRepo := &repositories.PaymentLogRepository{DB: db}
	invoiceRepo := &repositories.InvoiceRepository{DB: db}

	// Locks
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		locker = lock.NewRedisLocker(rdb, "ordersback:lock:", cfg.Redis.LockTTL, logger)
		infoLog.Printf("Using redis locks at %s", cfg.Redis.Addr)
	}

	// Events: websocket feed always, kafka and FCM when configured
	app.feed = NewOrderFeed(logger)
	publishers := events.Multi{app.feed}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, logger)
		app.closers = append(app.closers, kp.Close)
		publishers = append(publishers, kp)
	}
	if cfg.Push.CredentialsFile != "" {
		fb, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Push.CredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("firebase: %w", err)
		}
		fcm, err := fb.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		publishers = append(publishers, &services.PushService{Client: fcm, Topic: cfg.Push.Topic, Logger: logger})
	}

	// Invoice documents: external invoicing API first, S3 archive otherwise
	var documents services.DocumentPublisher
	switch {
	case cfg.Invoicing.BaseURL != "":
		documents, err = services.NewInvoicingClient(services.InvoicingConfig{
			BaseURL:  cfg.Invoicing.BaseURL,
			Username: cfg.Invoicing.Username,
			Password: cfg.Invoicing.Password,
			Currency: cfg.Payments.Currency,
			Client:   httpClient,
			Logger:   logger,
			Retry:    policy,
		})
		if err != nil {
			return nil, err
		}
	case cfg.Storage.Bucket != "":
		store, err := utils.NewS3Storage(utils.S3Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		documents = &services.InvoiceArchive{Store: store, Currency: cfg.Payments.Currency}
	default:
		infoLog.Print("No invoice document publisher configured; invoices will have no URL")
	}

	// Payment providers
	var providers []pay.Provider
	if cfg.Payments.Airbapay.Username != "" {
		ap := cfg.Payments.Airbapay
		airbapay, err := pay.NewAirbapay(pay.AirbapayConfig{
			Username:       ap.Username,
			Password:       ap.Password,
			TerminalID:     ap.TerminalID,
			BaseURL:        ap.BaseURL,
			SuccessBackURL: ap.SuccessBackURL,
			FailureBackURL: ap.FailureBackURL,
			CallbackURL:    ap.CallbackURL,
			PublicKeyPEM:   ap.PublicKeyPEM,
			PublicKeyURL:   ap.PublicKeyURL,
			Currency:       cfg.Payments.Currency,
			Client:         httpClient,
			Logger:         logger,
			Retry:          policy,
		})
		if err != nil {
			return nil, fmt.Errorf("airbapay: %w", err)
		}
		providers = append(providers, airbapay)
	}
	if rk := cfg.Payments.Robokassa; rk.MerchantLogin != "" {
		robokassa, err := pay.NewRobokassa(pay.RobokassaConfig{
			MerchantLogin: rk.MerchantLogin,
			Password1:     rk.Password1,
			Password2:     rk.Password2,
			TestPassword1: rk.TestPassword1,
			TestPassword2: rk.TestPassword2,
			BaseURL:       rk.BaseURL,
			IsTest:        rk.IsTest,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, robokassa)
	}
	if cfg.Payments.Mock.Enabled {
		providers = append(providers, pay.NewMock(cfg.Payments.Mock.CheckoutURL, cfg.Payments.Mock.Secret))
	}
	registry, err := pay.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}
	infoLog.Printf("Payment providers: %v", registry.Names())

	prices, err := cfg.PriceTable()
	if err != nil {
		return nil, err
	}

	// Services
	sideEffectTimeout := cfg.Outbound.Timeout
	invoiceService := &services.InvoiceService{
		Invoices:          invoiceRepo,
		Orders:            orderRepo,
		Customers:         customerRepo,
		Documents:         documents,
		Events:            publishers,
		Logger:            logger,
		SideEffectTimeout: sideEffectTimeout,
	}
	orderService := &services.OrderService{
		Orders:            orderRepo,
		Customers:         customerRepo,
		Invoices:          invoiceService,
		Locker:            locker,
		Events:            publishers,
		Logger:            logger,
		Prices:            prices,
		SideEffectTimeout: sideEffectTimeout,
	}
	notifier := &services.NotificationService{
		WhatsApp: services.NewWhatsAppClient(services.WhatsAppConfig{
			BaseURL:       cfg.WhatsApp.BaseURL,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Language:      cfg.WhatsApp.Language,
			RateLimit:     cfg.WhatsApp.RateLimit,
			Client:        httpClient,
			Logger:        logger,
		}),
		SMS: services.NewSMSClient(services.SMSConfig{
			BaseURL:   cfg.SMS.BaseURL,
			APIKey:    cfg.SMS.APIKey,
			Sender:    cfg.SMS.Sender,
			RateLimit: cfg.SMS.RateLimit,
			Client:    httpClient,
			Logger:    logger,
		}),
		Template: cfg.WhatsApp.Template,
		Logger:   logger,
	}
	paymentService := &services.PaymentService{
		Providers:         registry,
		Payments:          paymentRepo,
		Orders:            orderRepo,
		Customers:         customerRepo,
		Lifecycle:         orderService,
		Notifier:          notifier,
		Locker:            locker,
		Events:            publishers,
		Logger:            logger,
		DefaultProvider:   cfg.Payments.DefaultProvider,
		Currency:          cfg.Payments.Currency,
		SideEffectTimeout: sideEffectTimeout,
	}

	app.orderService = orderService
	app.paymentService = paymentService
	app.invoiceService = invoiceService

	// Handlers
	app.orderHandler = handlers.NewOrderHandler(orderService, logger)
	app.paymentHandler = handlers.NewPaymentHandler(paymentService, logger)
	app.invoiceHandler = handlers.NewInvoiceHandler(invoiceService, logger)

	return app, nil
}


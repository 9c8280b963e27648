package main

import (
	"context"
	"log"
	"time"

	"ordersBack/internal/services"
)

const paymentReaperTimeout = 1 * time.Minute

// startPaymentReaper periodically fails pending payments nobody completed within ttl.
func startPaymentReaper(ctx context.Context, svc *services.PaymentService, ttl, interval time.Duration, infoLog, errorLog *log.Logger) {
	if svc == nil || ttl <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, paymentReaperTimeout)
			defer cancel()

			expired, err := svc.ExpireStale(runCtx, ttl)
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("payment reaper: failed to expire stale payments: %v", err)
				}
				return
			}
			if expired > 0 && infoLog != nil {
				infoLog.Printf("payment reaper: expired %d pending payments older than %s", expired, ttl)
			}
		}

		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}

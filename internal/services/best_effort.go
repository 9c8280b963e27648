package services

import (
	"context"
	"log/slog"
	"time"
)

const defaultSideEffectTimeout = 15 * time.Second

// bestEffort runs a side effect that must never change the outcome of the caller.
// It gets its own deadline, detached from the caller's cancellation; errors and
// panics are logged and swallowed. The result only reports whether fn succeeded.
func bestEffort(ctx context.Context, logger *slog.Logger, timeout time.Duration, op string, fn func(ctx context.Context) error) (ok bool) {
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("side effect panicked", "op", op, "panic", r)
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		logger.Warn("side effect failed", "op", op, "err", err)
		return false
	}
	return true
}

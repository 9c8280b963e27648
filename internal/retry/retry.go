// Package retry runs idempotent outbound calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures how many times a call is attempted and how long to wait between attempts.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultPolicy is used when a client is built without an explicit policy.
var DefaultPolicy = Policy{Attempts: 3, Base: 200 * time.Millisecond, Max: 2 * time.Second}

// StatusError carries an HTTP status so Do can decide whether to retry.
type StatusError interface {
	error
	HTTPStatus() int
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retryable reports whether err is a transient failure: network errors and 5xx / 429 responses.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code >= 500 || code == 429
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		b.InitialInterval = p.Base
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out,
// or ctx is done. The last error fn returned is passed back unwrapped from Permanent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		last = fn(ctx)
		if last != nil && !Retryable(last) {
			return struct{}{}, backoff.Permanent(unwrap(last))
		}
		return struct{}{}, last
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(uint(p.Attempts)))
	if err == nil {
		return nil
	}
	if last != nil {
		return unwrap(last)
	}
	return err
}

func unwrap(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

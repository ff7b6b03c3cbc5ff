// Package retry is a caller-side retry layer for the client core. The core
// itself never retries; this package retries only the failures
// apierr.Retryable accepts (network and timeout) and stops at the first
// TLS, config, decryption or API error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/sufield/vdp/pkg/apierr"
)

// Policy bounds the retries of one call.
type Policy struct {
	// MaxAttempts counts the first call. Zero or one means no retries.
	MaxAttempts uint

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// MaxElapsed caps the total time spent, including waits.
	MaxElapsed time.Duration
}

// DefaultPolicy makes three attempts with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		MaxElapsed:      30 * time.Second,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, log *zap.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if p.MaxAttempts <= 1 {
		return op(ctx)
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && !apierr.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Stringer("category", apierr.CategoryOf(err)),
			)
		}),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}

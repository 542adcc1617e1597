package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters.
const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 1 * time.Second
	defaultRetryMax      = 30 * time.Second
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Attempts is the total number of tries, including the first. Default: 3.
	Attempts int

	// Base is the wait before the second attempt. The wait doubles after each
	// failure up to Max. Default: 1s.
	Base time.Duration

	// Max caps the backoff duration. Default: 30s.
	Max time.Duration

	// RetryIf decides whether an error is worth retrying. When nil, every
	// error is considered transient. Context cancellation and open circuit
	// breakers stop the loop regardless.
	RetryIf func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultRetryAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = defaultRetryBase
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultRetryMax
	}
	return cfg
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// failures. It stops early when fn succeeds, when cfg.RetryIf rejects the
// error as permanent, when the wrapped circuit breaker is open, or when ctx
// is cancelled. The returned error is the last one fn produced.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for functions that return a value. This is a
// package-level function because Go does not support method-level type
// parameters.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)
	backoff := cfg.Base

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		// An open breaker will not heal within our backoff window.
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			slog.Debug("not retrying permanent error",
				"name", cfg.Name, "attempt", attempt, "error", err)
			break
		}
		if attempt == cfg.Attempts {
			break
		}

		slog.Warn("retrying after failure",
			"name", cfg.Name,
			"attempt", attempt,
			"max_attempts", cfg.Attempts,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > cfg.Max {
			backoff = cfg.Max
		}
	}

	if cfg.Name != "" {
		return zero, fmt.Errorf("%s: %w", cfg.Name, lastErr)
	}
	return zero, lastErr
}

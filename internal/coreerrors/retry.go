package coreerrors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures the exponential backoff schedule Retry and
// RetryWithResult apply to transient-kind errors.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns a ready-made schedule: three retries,
// doubling from 200ms up to 4s. The adapters do not fall back to it; they
// use the schedule they are given, and a zero MaxRetries disables retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn, retrying with exponential backoff as long as fn returns
// an error whose Kind is transient (EmbedderUnavailable,
// VectorStoreUnavailable, or Timeout). Any other error, including a plain
// error with no Kind, is returned on the first attempt.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for a function that also produces a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	delay := cfg.InitialDelay
	var result T

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !retryable(err) || attempt >= cfg.MaxRetries {
			return result, err
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

func retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case EmbedderUnavailable, VectorStoreUnavailable, Timeout:
		return true
	default:
		return false
	}
}

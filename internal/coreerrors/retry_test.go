package coreerrors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return Wrap(EmbedderUnavailable, "op", errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsAfterMaxRetries(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.MaxRetries = 2
	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return Wrap(VectorStoreUnavailable, "op", errors.New("unavailable"))
	})
	if !Is(err, VectorStoreUnavailable) {
		t.Fatalf("expected VectorStoreUnavailable, got %v", err)
	}
	if attempts != cfg.MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", cfg.MaxRetries+1, attempts)
	}
}

func TestRetryDoesNotRetryNonTransientKinds(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return New(InvalidOptions, "op", "bad input")
	})
	if !Is(err, InvalidOptions) {
		t.Fatalf("expected InvalidOptions, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a non-transient error, got %d", attempts)
	}
}

func TestRetryDoesNotRetryPlainErrors(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return errors.New("unkinded failure")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a plain error, got %d", attempts)
	}
}

func TestRetryWithResultReturnsValueOnEventualSuccess(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, Wrap(Timeout, "op", errors.New("deadline exceeded"))
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := Retry(ctx, fastRetryConfig(), func() error {
		attempts++
		return Wrap(EmbedderUnavailable, "op", errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected no attempts once the context is already cancelled, got %d", attempts)
	}
}

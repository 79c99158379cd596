package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Errorf("Retry() error = %v, want down", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastConfig(0), func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("RetryWithResult() = %d, want 42", got)
	}
	// Zero attempts still runs once.
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNextDelay(t *testing.T) {
	cfg := RetryConfig{BackoffFactor: 3, MaxDelay: 250 * time.Millisecond}
	tests := []struct {
		current time.Duration
		cfg     RetryConfig
		want    time.Duration
	}{
		{50 * time.Millisecond, cfg, 150 * time.Millisecond},
		{100 * time.Millisecond, cfg, 250 * time.Millisecond},
		{10 * time.Millisecond, RetryConfig{}, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := nextDelay(tt.current, tt.cfg); got != tt.want {
			t.Errorf("nextDelay(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}

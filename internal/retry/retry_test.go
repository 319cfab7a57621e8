package retry

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

func quiet(cfg Config) Config {
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.sleep = func(context.Context, time.Duration) error { return nil }
	return cfg
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quiet(Config{}), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	wantErr := errors.New("still down")
	calls := 0
	err := Do(context.Background(), quiet(Config{}), "op", func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do returned %v, want %v", err, wantErr)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("fn called %d times, want exactly %d", calls, DefaultMaxAttempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("not found")
	cfg := quiet(Config{
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
	})
	calls := 0
	err := Do(context.Background(), cfg, "op", func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Do returned %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := quiet(Config{})
	cfg.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	err := Do(ctx, cfg, "op", func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	cfg := Config{
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		JitterFraction: 0.0001, // effectively none, keeps assertions simple
	}
	prev := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		d := Delay(cfg, attempt)
		if d <= prev {
			t.Errorf("Delay(attempt=%d) = %v, want > %v", attempt, d, prev)
		}
		prev = d
	}
	if d := Delay(cfg, 10); d > cfg.MaxDelay+cfg.MaxDelay/2 {
		t.Errorf("Delay(attempt=10) = %v, want capped near %v", d, cfg.MaxDelay)
	}
}

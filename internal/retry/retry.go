// Package retry wraps fallible operations with bounded exponential
// backoff. One-shot persistence calls (create/update/delete/get) go
// through Do; subscription reconnects deliberately do not — their
// backoff belongs to the subscription manager, which needs to cancel
// and reset it on identity and connectivity changes.
package retry

import (
	"context"
	"log"
	"math/rand"
	"os"
	"time"
)

// DefaultMaxAttempts bounds a retried operation when the caller does
// not override it.
const DefaultMaxAttempts = 3

// Config controls the backoff schedule.
type Config struct {
	// MaxAttempts is the total attempt budget including the first try.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; attempt n waits
	// BaseDelay * 2^n. Zero means 500ms.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means 30s.
	MaxDelay time.Duration

	// JitterFraction adds up to this fraction of random extra delay.
	// Jitter exists so that several clients reconnecting after the
	// same outage do not hammer the backend in lockstep. Zero means
	// 0.3.
	JitterFraction float64

	// Retryable, when set, filters which errors are worth retrying.
	// A nil predicate retries every error.
	Retryable func(error) bool

	// Logger receives per-attempt failures. Nil falls back to a
	// prefixed stderr logger.
	Logger *log.Logger

	// sleep is replaceable in tests.
	sleep func(context.Context, time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.3
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[retry] ", log.LstdFlags)
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	return c
}

// Do runs fn until it succeeds or the attempt budget is exhausted,
// returning the last error. Each failed attempt is logged with its
// attempt number; exhaustion is logged distinctly so operators can
// tell a budget failure from the error that caused it.
func Do(ctx context.Context, cfg Config, label string, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		cfg.Logger.Printf("%s: attempt %d/%d failed: %v", label, attempt+1, cfg.MaxAttempts, lastErr)

		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		if err := cfg.sleep(ctx, Delay(cfg, attempt)); err != nil {
			return err
		}
	}

	cfg.Logger.Printf("%s: retry budget exhausted after %d attempts", label, cfg.MaxAttempts)
	return lastErr
}

// Delay computes the wait after the given zero-based attempt:
// BaseDelay * 2^attempt plus up to JitterFraction extra, capped at
// MaxDelay before jitter is applied.
func Delay(cfg Config, attempt int) time.Duration {
	cfg = cfg.withDefaults()

	d := cfg.BaseDelay << uint(attempt)
	if d > cfg.MaxDelay || d <= 0 {
		d = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * cfg.JitterFraction * float64(d))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

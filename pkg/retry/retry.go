package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds backoff configuration for application-driven reconnects. The
// transport core never retries on its own; callers wrap Connect with Retry
// when they want redial behaviour.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// NonRetryable errors abort immediately, e.g. usage errors that a
	// redial cannot fix.
	NonRetryable []error
}

// DefaultConfig returns a backoff suitable for redialing a peer.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes fn with exponential backoff until it succeeds, the context
// is cancelled, a non-retryable error occurs, or attempts run out.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		for _, fatal := range cfg.NonRetryable {
			if errors.Is(err, fatal) {
				return fmt.Errorf("non-retryable error: %w", err)
			}
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(delay(cfg, attempt)):
		}
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

func delay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	duration := time.Duration(d)
	if cfg.Jitter {
		// +-25% to avoid synchronized redial storms
		jitter := duration / 4
		duration += time.Duration(rand.Int63n(int64(2*jitter)+1)) - jitter
	}
	return duration
}

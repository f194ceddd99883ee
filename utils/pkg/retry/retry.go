// Package retry provides exponential backoff with jitter for transient
// failures, primarily around RPC and network calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config controls the retry schedule.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the retry schedule used across the engine: three
// attempts with backoff starting at 500ms and capped at 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do runs fn until it succeeds, the error is not retryable, or the attempt
// budget is exhausted. The context is honored between attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffFor(cfg, attempt-1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// IsRetryable reports whether an error is worth another attempt. Context
// cancellation is terminal; network timeouts, connection drops, throttling
// responses and 5xx statuses are transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	type hasStatusCode interface {
		StatusCode() int
	}
	var sc hasStatusCode
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"eof",
		"timeout",
		"rate limit",
		"too many requests",
		"service unavailable",
		"temporary failure",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// backoffFor computes base*2^attempt capped at MaxBackoff, then scales by a
// random factor in [0.5, 1.0) so concurrent callers spread out.
func backoffFor(cfg Config, attempt int) time.Duration {
	backoff := cfg.BaseBackoff * time.Duration(1<<uint(attempt))
	if backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	return time.Duration(float64(backoff) * (0.5 + rand.Float64()*0.5))
}

// Package retry runs network operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 5 * time.Minute

// DefaultMaxRetries is the default number of retries after the first attempt.
const DefaultMaxRetries = 3

// Policy defines retry behavior for transient transport errors.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Timeout bounds each individual attempt. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when configuration leaves retry settings unset.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    DefaultTimeout,
	}
}

// WithTimeout wraps a context with a per-request timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Do executes fn with exponential backoff and jitter. Each attempt runs under the
// policy's per-request timeout. Only errors accepted by shouldRetry are retried;
// a nil shouldRetry means IsTransient.
func Do(ctx context.Context, policy *Policy, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = attemptOnce(ctx, policy.Timeout, fn)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			delay := Backoff(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// Backoff returns exponential backoff with full jitter, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"slow down",
	"slowdown",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"tls handshake",
	"temporary failure",
	"unexpected eof",
}

// IsTransient checks if an error is likely transient and retryable.
// Deadline expiry of a single attempt counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Always retries every error. Useful for external tools whose failures carry no
// structured classification.
func Always(error) bool { return true }

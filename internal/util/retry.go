package util

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"syscall"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int

	// InitialDelay is the delay before the first retry (default: 100ms).
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries (default: 2s).
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64

	// Jitter adds up to 25% randomness to each delay.
	Jitter bool

	// IsRetryable decides whether an error is worth another attempt.
	// If nil, DefaultIsRetryable is used.
	IsRetryable func(error) bool
}

// DefaultRetryConfig returns defaults suited to waiting for a freshly
// started daemon to open its socket.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable:  DefaultIsRetryable,
	}
}

// transientErrorPatterns are substrings of errors seen while a socket is
// not yet listening or is briefly overloaded.
var transientErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such file or directory",
	"resource temporarily unavailable",
	"timeout",
	"broken pipe",
}

// DefaultIsRetryable reports whether err looks transient.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EAGAIN) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// withDefaults fills zero fields.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// Retry executes fn with exponential backoff. It returns the first success,
// or the last error once attempts are exhausted, the error is not retryable,
// or ctx is done.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero  T
		err   error
		delay = cfg.InitialDelay
	)
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		var result T
		if result, err = fn(); err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.IsRetryable(err) {
			return zero, err
		}

		timer := time.NewTimer(cfg.backoff(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}
}

// backoff returns delay plus jitter when enabled.
func (c RetryConfig) backoff(delay time.Duration) time.Duration {
	if !c.Jitter {
		return delay
	}
	return delay + time.Duration(rand.Float64()*0.25*float64(delay))
}

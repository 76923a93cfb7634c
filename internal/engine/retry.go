package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// IsRetryableError classifies whether an agent call failure should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation and interpolation errors, context.Canceled.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is retryable (per-node timeout, not engine shutdown).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled is NOT retryable — the execution is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		switch flowErr.Code {
		case schema.ErrCodeValidation, schema.ErrCodeInterpolation, schema.ErrCodeCancelled,
			schema.ErrCodeNotFound, schema.ErrCodeInvalidTransition:
			return false
		case schema.ErrCodeTimeout:
			return true
		}
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable (conservative — the node's max_retries limits attempts).
	return true
}

// DefaultRetryDelay is the base delay before the first retry attempt.
const DefaultRetryDelay = 500 * time.Millisecond

// MaxRetryDelay caps the exponential backoff.
const MaxRetryDelay = 30 * time.Second

// ComputeBackoff calculates the delay before retry attempt n (0-based).
// Exponential doubling from DefaultRetryDelay, capped at MaxRetryDelay;
// delays are monotonically non-decreasing across attempts.
func ComputeBackoff(attempt int) time.Duration {
	delay := DefaultRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for the computed backoff duration or returns early if
// the context is cancelled. Returns an error if the context was cancelled
// during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

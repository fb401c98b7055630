package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// Exponential doubles the delay: base, 2*base, 4*base, ...
	Exponential Backoff = iota
	// Linear grows the delay by base each attempt: base, 2*base, 3*base, ...
	Linear
)

// Policy bounds a retried call.
type Policy struct {
	MaxAttempts int // total attempts including the first; values < 1 mean 1
	BaseDelay   time.Duration
	Backoff     Backoff
	Jitter      bool // apply ±30% jitter to each delay
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempt cap is reached. The last error is returned unchanged so
// callers can still inspect typed errors.
func Do(ctx context.Context, p Policy, logger *slog.Logger, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == maxAttempts {
			break
		}

		delay := p.delay(attempt, err)
		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// delay computes the wait after the given failed attempt. A Retry-After from
// the provider takes precedence over the computed backoff.
func (p Policy) delay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	var d time.Duration
	switch p.Backoff {
	case Linear:
		d = time.Duration(attempt) * p.BaseDelay
	default:
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	}

	if p.Jitter {
		jitter := float64(d) * 0.3
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*jitter)
	}
	return d
}

// IsRetryable returns true if the error represents a transient failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation — never retry.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// A per-attempt timeout expired while the parent context is still alive.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, model.ErrUnmappable) {
		return false
	}

	if errors.Is(err, model.ErrUnstructuredResponse) {
		return true
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if httpErr.StatusCode >= 500 {
			return true
		}
		// 4xx (not 429) — not retryable.
		return false
	}

	// Non-HTTP errors (network, DNS, etc.) — retryable.
	return true
}

// ParseRetryAfter reads a Retry-After header in its seconds form (e.g.
// "120"). Absent, non-positive and HTTP-date values yield zero.
func ParseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

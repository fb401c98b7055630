package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SourceLimiter enforces a minimum delay between requests to the same
// provider. Each provider key is throttled independently so one slow source
// never blocks another.
type SourceLimiter struct {
	mu        sync.Mutex
	lastCall  map[string]time.Time // key: provider name
	minDelay  time.Duration
	overrides map[string]time.Duration
}

// NewSourceLimiter creates a limiter that enforces minDelay between
// consecutive requests to the same provider. overrides replaces minDelay for
// individual providers and may be nil.
func NewSourceLimiter(minDelay time.Duration, overrides map[string]time.Duration) *SourceLimiter {
	o := make(map[string]time.Duration, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &SourceLimiter{
		lastCall:  make(map[string]time.Time),
		minDelay:  minDelay,
		overrides: o,
	}
}

// Delay returns the effective inter-request delay for key.
func (r *SourceLimiter) Delay(key string) time.Duration {
	if d, ok := r.overrides[key]; ok {
		return d
	}
	return r.minDelay
}

// Wait blocks until enough time has passed since the last request for key.
// The slot is reserved before sleeping so concurrent callers queue up rather
// than all firing when the delay expires.
func (r *SourceLimiter) Wait(ctx context.Context, key string) error {
	delay := r.Delay(key)

	r.mu.Lock()
	now := time.Now()
	next := now
	if last, ok := r.lastCall[key]; ok && last.Add(delay).After(now) {
		next = last.Add(delay)
	}
	r.lastCall[key] = next
	r.mu.Unlock()

	remaining := next.Sub(now)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", key, ctx.Err())
	case <-timer.C:
	}
	return nil
}

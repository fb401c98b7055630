package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond, Jitter: true}
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), discardLogger(), func(_ context.Context, _ int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesOn5xx_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), discardLogger(), func(_ context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return &model.HTTPError{StatusCode: 503, Err: errors.New("service unavailable")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_DoesNotRetryOn4xx(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), discardLogger(), func(_ context.Context, _ int) error {
		calls++
		return &model.HTTPError{StatusCode: 404, Err: errors.New("not found")}
	})
	if !model.IsNotFound(err) {
		t.Fatalf("expected HTTPError with status 404, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", calls)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), discardLogger(), func(_ context.Context, _ int) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, &model.HTTPError{StatusCode: 500})
	})
	if err == nil {
		t.Fatal("expected error after max attempts, got nil")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if err.Error() != "attempt 3: HTTP 500" {
		t.Fatalf("expected last error to surface, got %q", err)
	}
}

func TestDo_RetriesUnstructuredResponse(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), discardLogger(), func(_ context.Context, _ int) error {
		calls++
		return fmt.Errorf("content type text/html: %w", model.ErrUnstructuredResponse)
	})
	if !errors.Is(err, model.ErrUnstructuredResponse) {
		t.Fatalf("expected ErrUnstructuredResponse, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second}, discardLogger(), func(_ context.Context, _ int) error {
		calls++
		return &model.HTTPError{StatusCode: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		err     error
		want    time.Duration
	}{
		{"exponential first", Policy{BaseDelay: time.Second}, 1, errors.New("x"), time.Second},
		{"exponential third", Policy{BaseDelay: time.Second}, 3, errors.New("x"), 4 * time.Second},
		{"linear first", Policy{BaseDelay: time.Second, Backoff: Linear}, 1, errors.New("x"), time.Second},
		{"linear third", Policy{BaseDelay: time.Second, Backoff: Linear}, 3, errors.New("x"), 3 * time.Second},
		{"retry-after wins", Policy{BaseDelay: time.Second}, 2, &model.HTTPError{StatusCode: 429, RetryAfter: 7 * time.Second}, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.delay(tt.attempt, tt.err); got != tt.want {
				t.Errorf("delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyDelay_JitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.delay(1, errors.New("x"))
		if d < 700*time.Millisecond || d > 1300*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±30%%", d)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"attempt timeout", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"429", &model.HTTPError{StatusCode: 429}, true},
		{"502", &model.HTTPError{StatusCode: 502}, true},
		{"404", &model.HTTPError{StatusCode: 404}, false},
		{"400", &model.HTTPError{StatusCode: 400}, false},
		{"unstructured", model.ErrUnstructuredResponse, true},
		{"unmappable", fmt.Errorf("job 1: %w", model.ErrUnmappable), false},
		{"network", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"120", 120 * time.Second},
		{"-5", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/normalize"
	"github.com/amishk599/jobsync/internal/ratelimit"
	"github.com/amishk599/jobsync/internal/retry"
)

const (
	userAgent = "jobsync/1.0 (+https://github.com/amishk599/jobsync)"

	// maxBodyBytes caps a single provider response.
	maxBodyBytes = 32 << 20
)

// Options carries the request behaviour shared by every adapter: one HTTP
// client, one limiter keyed by source name, a retry policy and a timeout
// applied to each individual attempt.
type Options struct {
	Client  *http.Client
	Limiter *ratelimit.SourceLimiter
	Retry   retry.Policy
	Timeout time.Duration
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.NewSourceLimiter(0, nil)
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// call runs fn under the source's throttle and the retry policy. Each
// attempt waits for its own limiter slot and gets its own timeout.
func (o Options) call(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	logger := o.Logger.With("source", source)
	return retry.Do(ctx, o.Retry, logger, func(ctx context.Context, _ int) error {
		if err := o.Limiter.Wait(ctx, source); err != nil {
			return err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		defer cancel()
		return fn(attemptCtx)
	})
}

// getJSON issues a GET and decodes a JSON body into v. Non-200 statuses come
// back as *model.HTTPError and a non-JSON content type as
// model.ErrUnstructuredResponse so retry logic can classify them.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "application/json" && mediaType != "text/json" {
			return fmt.Errorf("content type %q: %w", ct, model.ErrUnstructuredResponse)
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w: %w", model.ErrUnstructuredResponse, err)
	}
	return nil
}

// parseProviderTime parses an ISO timestamp, marking failures as
// unmappable so they are not retried.
func parseProviderTime(s string) (time.Time, error) {
	t, err := normalize.ParseISO(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", model.ErrUnmappable, err)
	}
	return t, nil
}

// CompanyName is the company label board listings carry.
func CompanyName(ref model.BoardRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.Slug
}

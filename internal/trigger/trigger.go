// Package trigger invokes the sync entrypoint of a running server with
// bounded, linearly backed-off retries. The scheduler uses it.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/retry"
)

// Request names the run to start.
type Request struct {
	SyncType model.SyncType `json:"sync_type"`
	Source   string         `json:"source,omitempty"`
}

// Result is the server's answer to a trigger.
type Result struct {
	RunID   string          `json:"run_id"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Stats   *model.RunStats `json:"stats,omitempty"`
}

// Skipped reports whether the server declined because a run is active.
func (r Result) Skipped() bool { return r.Status == "skipped" }

// Client posts sync requests to baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// New returns a client. A zero policy means three attempts one second apart,
// growing linearly.
func New(baseURL string, httpClient *http.Client, policy retry.Policy, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	policy.Backoff = retry.Linear
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		policy:     policy,
		logger:     logger.With("component", "trigger"),
	}
}

// Sync starts a run. A 409 from the server is a normal, skipped Result.
// A response that is not a JSON run result counts as a failed attempt.
// After the last attempt the last error is returned.
func (c *Client) Sync(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding trigger request: %w", err)
	}

	var res Result
	logger := c.logger.With("sync_type", req.SyncType, "source", req.Source)
	err = retry.Do(ctx, c.policy, logger, func(ctx context.Context, _ int) error {
		var err error
		res, err = c.post(ctx, body)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("triggering %s: %w", req.SyncType, err)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, body []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return Result{}, fmt.Errorf("content type %q: %w", mediaType, model.ErrUnstructuredResponse)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("%w: %w", model.ErrUnstructuredResponse, err)
	}
	if res.RunID == "" && !res.Skipped() {
		return Result{}, fmt.Errorf("response without run id: %w", model.ErrUnstructuredResponse)
	}
	return res, nil
}

// Sweep asks the server to fail stuck runs and returns their ids.
func (c *Client) Sweep(ctx context.Context) ([]string, error) {
	var out struct {
		Swept []string `json:"swept"`
	}
	err := retry.Do(ctx, c.policy, c.logger, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/sweep", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &model.HTTPError{StatusCode: resp.StatusCode, RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("%w: %w", model.ErrUnstructuredResponse, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweeping stuck runs: %w", err)
	}
	return out.Swept, nil
}

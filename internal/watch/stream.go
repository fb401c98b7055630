// Package watch follows a run's progress stream from a jobsync server and
// renders it, either as plain lines or as an interactive terminal view.
package watch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

// maxLineBytes bounds one NDJSON line; terminal events carry the full run
// report and its log.
const maxLineBytes = 4 << 20

// Client reads run streams from a server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the server at baseURL. The HTTP client
// must not set a timeout shorter than the longest run.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Stream yields the events of runID in sequence order until the terminal
// event or the end of the response.
func (c *Client) Stream(ctx context.Context, runID string) iter.Seq2[progress.Event, error] {
	return func(yield func(progress.Event, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+runID+"/stream", nil)
		if err != nil {
			yield(progress.Event{}, err)
			return
		}
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield(progress.Event{}, fmt.Errorf("opening stream for run %s: %w", runID, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			err := &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
			yield(progress.Event{}, fmt.Errorf("opening stream for run %s: %w", runID, err))
			return
		}

		for ev, err := range Decode(resp.Body) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Decode yields one event per NDJSON line of r, stopping after the
// terminal event. Blank lines are skipped.
func Decode(r io.Reader) iter.Seq2[progress.Event, error] {
	return func(yield func(progress.Event, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := sc.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev progress.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				yield(progress.Event{}, fmt.Errorf("decoding event: %w", err))
				return
			}
			if !yield(ev, nil) || ev.Terminal() {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(progress.Event{}, fmt.Errorf("reading stream: %w", err))
		}
	}
}

// Format renders ev as one line of plain text.
func Format(ev progress.Event) string {
	at := ev.At.Local().Format(time.TimeOnly)
	switch ev.Type {
	case progress.EventLog:
		return fmt.Sprintf("%s %-5s %s", at, strings.ToUpper(ev.Level), ev.Message)
	case progress.EventProgress:
		return fmt.Sprintf("%s %-5s [%d/%d] %s", at, "", ev.Processed, ev.Total, statsLine(ev.Stats))
	case progress.EventComplete:
		return fmt.Sprintf("%s %-5s run completed: %s", at, "DONE", statsLine(ev.Stats))
	case progress.EventError:
		return fmt.Sprintf("%s %-5s run failed: %s", at, "FAIL", ev.Message)
	}
	return fmt.Sprintf("%s %s", at, ev.Type)
}

// Print writes each event as a line until the stream ends. It returns the
// terminal event, or an error if the stream ended without one.
func Print(w io.Writer, events iter.Seq2[progress.Event, error]) (progress.Event, error) {
	for ev, err := range events {
		if err != nil {
			return progress.Event{}, err
		}
		fmt.Fprintln(w, Format(ev))
		if ev.Terminal() {
			return ev, nil
		}
	}
	return progress.Event{}, fmt.Errorf("stream ended before the run finished")
}

func statsLine(s *model.RunStats) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("jobs +%d ~%d -%d skipped %d, companies +%d -%d",
		s.JobsAdded, s.JobsUpdated, s.JobsDeleted, s.JobsSkipped, s.CompaniesAdded, s.CompaniesDeleted)
}

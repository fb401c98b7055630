package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/retry"
)

// Ensure SlackNotifier implements model.RunNotifier.
var _ model.RunNotifier = (*SlackNotifier)(nil)

// SlackNotifier posts finished runs to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL   string
	httpClient   *http.Client
	failuresOnly bool
	logger       *slog.Logger
}

// NewSlackNotifier returns a notifier that posts one Block Kit message per
// finished run. With failuresOnly set, completed runs are skipped.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, failuresOnly bool, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL:   webhookURL,
		httpClient:   httpClient,
		failuresOnly: failuresOnly,
		logger:       logger,
	}
}

// NotifyRun sends the run summary. A 429 is retried once after Retry-After.
func (s *SlackNotifier) NotifyRun(ctx context.Context, run model.SyncRun) error {
	if s.failuresOnly && run.Status != model.RunFailed {
		return nil
	}

	body, err := json.Marshal(buildPayload(run))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, body)
	if err != nil {
		return err
	}

	if status == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after_secs", int(retryAfter.Seconds()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}

		status, _, err = s.post(ctx, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", status)
		}
		s.logger.Info("slack message sent", "run_id", run.ID, "retried", true)
		return nil
	}

	if status != http.StatusOK {
		return fmt.Errorf("slack returned %d", status)
	}
	s.logger.Info("slack message sent", "run_id", run.ID)
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	wait := retry.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if wait <= 0 {
		wait = time.Second
	}
	return resp.StatusCode, wait, nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendTestMessage sends a sample completed run to verify the integration works.
func SendTestMessage(ctx context.Context, n model.RunNotifier) error {
	now := time.Now().UTC()
	started := now.Add(-42 * time.Second)
	return n.NotifyRun(ctx, model.SyncRun{
		ID:          "test-run",
		SyncType:    model.SyncTypeJobs,
		Source:      "greenhouse",
		Status:      model.RunCompleted,
		StartedAt:   started,
		CompletedAt: &now,
		Stats:       model.RunStats{JobsAdded: 3, JobsUpdated: 12, JobsDeleted: 1},
		Logs: []model.LogEntry{
			{Seq: 1, At: now, Level: model.LogInfo, Message: "test notification, integration verified"},
		},
	})
}

func buildPayload(run model.SyncRun) slackPayload {
	icon, verb := "✅", "completed"
	if run.Status == model.RunFailed {
		icon, verb = "❌", "failed"
	}

	title := string(run.SyncType)
	if run.Source != "" {
		title += " (" + run.Source + ")"
	}

	duration := "unknown"
	if run.CompletedAt != nil {
		duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
	}

	st := run.Stats
	counters := fmt.Sprintf("*Jobs:* +%d  ~%d  -%d", st.JobsAdded, st.JobsUpdated, st.JobsDeleted)
	if run.SyncType == model.SyncTypeDiscovery {
		counters = fmt.Sprintf("*Companies:* +%d  -%d", st.CompaniesAdded, st.CompaniesDeleted)
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: icon + " " + title + " " + verb},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Run:*\n" + run.ID},
				{Type: "mrkdwn", Text: "*Duration:*\n" + duration},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: counters},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Units:* %d/%d", run.ProcessedUnits, run.TotalUnits)},
			},
		},
	}

	if tail := tailLogs(run.Logs, 3); tail != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "```" + tail + "```"},
		})
	}
	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Blocks: blocks}
}

func tailLogs(logs []model.LogEntry, n int) string {
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	lines := make([]string, len(logs))
	for i, l := range logs {
		lines[i] = l.Message
	}
	return strings.Join(lines, "\n")
}

package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRun(status model.RunStatus) model.SyncRun {
	started := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	return model.SyncRun{
		ID:             "run-123",
		SyncType:       model.SyncTypeJobs,
		Source:         "greenhouse",
		Status:         status,
		StartedAt:      started,
		CompletedAt:    &done,
		Stats:          model.RunStats{JobsAdded: 4, JobsUpdated: 10, JobsDeleted: 2},
		TotalUnits:     3,
		ProcessedUnits: 3,
		Logs: []model.LogEntry{
			{Seq: 1, Message: "job_sync started for greenhouse"},
			{Seq: 2, Message: "greenhouse/acme: 5 fetched, 4 added, 1 updated, 2 deleted"},
			{Seq: 3, Message: "greenhouse/globex: 9 fetched, 0 added, 9 updated, 0 deleted"},
			{Seq: 4, Message: "sync completed: 4 added, 10 updated, 2 deleted, 0 skipped"},
		},
	}
}

func TestSlackNotifier_Payload(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), false, discardLogger())
	if err := n.NotifyRun(context.Background(), sampleRun(model.RunCompleted)); err != nil {
		t.Fatalf("NotifyRun() = %v, want nil", err)
	}

	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	header := payload.Blocks[0]
	if header.Text.Text != "✅ job_sync (greenhouse) completed" {
		t.Errorf("header text = %q", header.Text.Text)
	}
	if got := payload.Blocks[1].Fields[1].Text; got != "*Duration:*\n1m30s" {
		t.Errorf("duration field = %q", got)
	}
	if got := payload.Blocks[2].Fields[0].Text; got != "*Jobs:* +4  ~10  -2" {
		t.Errorf("counters field = %q", got)
	}
	tail := payload.Blocks[3].Text.Text
	if strings.Contains(tail, "started") || !strings.Contains(tail, "sync completed") {
		t.Errorf("log tail = %q, want last three lines", tail)
	}
}

func TestSlackNotifier_DiscoveryCounters(t *testing.T) {
	run := sampleRun(model.RunFailed)
	run.SyncType = model.SyncTypeDiscovery
	run.Source = ""
	run.Stats = model.RunStats{CompaniesAdded: 2, CompaniesDeleted: 1}

	payload := buildPayload(run)
	if got := payload.Blocks[0].Text.Text; got != "❌ discovery failed" {
		t.Errorf("header = %q", got)
	}
	if got := payload.Blocks[2].Fields[0].Text; got != "*Companies:* +2  -1" {
		t.Errorf("counters = %q", got)
	}
}

func TestSlackNotifier_FailuresOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), true, discardLogger())
	ctx := context.Background()
	if err := n.NotifyRun(ctx, sampleRun(model.RunCompleted)); err != nil {
		t.Fatalf("NotifyRun(completed) = %v", err)
	}
	if err := n.NotifyRun(ctx, sampleRun(model.RunFailed)); err != nil {
		t.Fatalf("NotifyRun(failed) = %v", err)
	}
	if c := calls.Load(); c != 1 {
		t.Errorf("expected 1 HTTP call, got %d", c)
	}
}

func TestSlackNotifier_SlackReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), false, discardLogger())
	if err := n.NotifyRun(context.Background(), sampleRun(model.RunFailed)); err == nil {
		t.Error("expected error on 500, got nil")
	}
}

func TestSlackNotifier_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := calls.Add(1)
		if c == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, srv.Client(), false, discardLogger())
	if err := n.NotifyRun(context.Background(), sampleRun(model.RunCompleted)); err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if c := calls.Load(); c != 2 {
		t.Errorf("expected 2 HTTP calls (initial + retry), got %d", c)
	}
}

func TestSlackNotifier_RateLimitWaitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n := NewSlackNotifier(srv.URL, srv.Client(), false, discardLogger())
	if err := n.NotifyRun(ctx, sampleRun(model.RunCompleted)); err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestSendTestMessage(t *testing.T) {
	rec := &recorder{}
	if err := SendTestMessage(context.Background(), rec); err != nil {
		t.Fatalf("SendTestMessage() = %v", err)
	}
	if rec.run.Status != model.RunCompleted || rec.run.CompletedAt == nil {
		t.Errorf("unexpected sample run %+v", rec.run)
	}
}

type recorder struct{ run model.SyncRun }

func (r *recorder) NotifyRun(_ context.Context, run model.SyncRun) error {
	r.run = run
	return nil
}

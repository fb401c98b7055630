package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

const streamBody = `{"type":"log","run_id":"r1","seq":1,"at":"2026-01-02T10:00:00Z","level":"info","message":"job_sync started"}

{"type":"progress","run_id":"r1","seq":2,"at":"2026-01-02T10:00:01Z","processed":1,"total":2,"stats":{"jobs_added":3}}
{"type":"complete","run_id":"r1","seq":3,"at":"2026-01-02T10:00:02Z","stats":{"jobs_added":5}}
{"type":"log","run_id":"r1","seq":4,"at":"2026-01-02T10:00:03Z","message":"after the end"}
`

func TestDecode_StopsAtTerminal(t *testing.T) {
	var got []progress.Event
	for ev, err := range Decode(strings.NewReader(streamBody)) {
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[1].Processed != 1 || got[1].Total != 2 {
		t.Errorf("progress event = %+v", got[1])
	}
	if !got[2].Terminal() || got[2].Stats.JobsAdded != 5 {
		t.Errorf("terminal event = %+v", got[2])
	}
}

func TestDecode_MalformedLine(t *testing.T) {
	var gotErr error
	for _, err := range Decode(strings.NewReader("{\"type\":\"log\"}\nnot json\n")) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil {
		t.Fatal("expected decode error")
	}
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/r1/stream" {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, streamBody)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", srv.Client())

	var buf bytes.Buffer
	final, err := Print(&buf, client.Stream(context.Background(), "r1"))
	if err != nil {
		t.Fatalf("Print: %v", err)
	}
	if final.Type != progress.EventComplete {
		t.Errorf("final type = %s", final.Type)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("printed %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "INFO  job_sync started") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "[1/2]") || !strings.Contains(lines[1], "jobs +3") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "run completed: jobs +5") {
		t.Errorf("line 2 = %q", lines[2])
	}

	_, err = Print(&buf, client.Stream(context.Background(), "missing"))
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want HTTP 404", err)
	}
}

func TestPrint_StreamEndsEarly(t *testing.T) {
	_, err := Print(&bytes.Buffer{}, Decode(strings.NewReader(`{"type":"log","message":"started"}`+"\n")))
	if err == nil {
		t.Fatal("expected error for a stream without a terminal event")
	}
}

func TestFormat_Failure(t *testing.T) {
	line := Format(progress.Event{Type: progress.EventError, Message: "sync failed: boom"})
	if !strings.Contains(line, "FAIL  run failed: sync failed: boom") {
		t.Errorf("Format = %q", line)
	}
}

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobsync/internal/adapter"
	"github.com/amishk599/jobsync/internal/dedup"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/orchestrator"
	"github.com/amishk599/jobsync/internal/progress"
	"github.com/amishk599/jobsync/internal/store"
)

// stubBoards serves one canned board. When block is set every fetch waits
// for it to close.
type stubBoards struct {
	mu       sync.Mutex
	listings []model.RawListing
	block    chan struct{}
}

func (b *stubBoards) Name() string { return "greenhouse" }

func (b *stubBoards) FetchBoard(ctx context.Context, _ model.BoardRef) ([]model.RawListing, error) {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listings, nil
}

func listing(title, url string) model.RawListing {
	return model.RawListing{
		Title:           title,
		Company:         "Acme",
		DescriptionHTML: "<p>Join the team.</p>",
		SourceURL:       url,
		SourceName:      "greenhouse",
		Location:        "Remote",
	}
}

type fixture struct {
	store  *store.SQLStore
	boards *stubBoards
	orch   *orchestrator.Orchestrator
	srv    *Server
}

func newFixture(t *testing.T, withBroker bool) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), store.DialectSQLite, filepath.Join(t.TempDir(), "jobsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	boards := &stubBoards{listings: []model.RawListing{listing("Senior Product Manager", "https://x/1")}}
	hub := progress.NewHub(time.Minute)
	orch := orchestrator.New(orchestrator.Config{
		Companies: map[string][]model.BoardRef{"greenhouse": {{Slug: "acme", Name: "Acme"}}},
	}, orchestrator.Deps{
		Store:   s,
		Sources: adapter.NewRegistry(adapter.NewBoardSource(boards, adapter.Options{})),
		Broker:  hub,
	})

	deps := Deps{Orchestrator: orch, Store: s, Deduper: dedup.New(s, nil)}
	if withBroker {
		deps.Broker = hub
	}
	return &fixture{
		store:  s,
		boards: boards,
		orch:   orch,
		srv:    New(Config{PollInterval: 10 * time.Millisecond}, deps),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEvents(t *testing.T, body []byte) []progress.Event {
	t.Helper()
	var events []progress.Event
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var ev progress.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "line %q", sc.Text())
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

const jobSyncBody = `{"sync_type":"job_sync","source":"greenhouse"}`

func TestSync_Accepted(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/sync", jobSyncBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "running", resp.Status)
	require.NotNil(t, resp.Stats, "accepted response carries stats")
	assert.Equal(t, model.RunStats{}, *resp.Stats)

	f.orch.Wait()
	rec = f.do(t, http.MethodGet, "/runs/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Stats.JobsAdded)
}

func TestSync_WaitReturnsFinalRun(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/sync", `{"sync_type":"job_sync","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 1, resp.Stats.JobsAdded)
}

func TestSync_OverlappingRunIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	f.boards.block = make(chan struct{})

	rec := f.do(t, http.MethodPost, "/sync", jobSyncBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = f.do(t, http.MethodPost, "/sync", jobSyncBody)
	require.Equal(t, http.StatusConflict, rec.Code)
	var second RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "skipped", second.Status)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Contains(t, second.Message, "already active")

	close(f.boards.block)
	f.orch.Wait()

	runs, err := f.store.ListRecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSync_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sync_type":`},
		{"missing sync type", `{}`},
		{"unknown sync type", `{"sync_type":"cleanup"}`},
		{"unknown field", `{"sync_type":"job_sync","force":true}`},
		{"unknown source", `{"sync_type":"job_sync","source":"indeed"}`},
		{"discovery without prober", `{"sync_type":"discovery","source":"greenhouse"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/sync", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.orch.Run(ctx, orchestrator.Request{SyncType: model.SyncTypeJobs, Source: "greenhouse"})
	require.NoError(t, err)
	second, err := f.orch.Run(ctx, orchestrator.Request{SyncType: model.SyncTypeJobs, Source: "greenhouse"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []model.SyncRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, second.ID, body.Runs[0].ID)

	rec = f.do(t, http.MethodGet, "/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newFixture(t, true)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/runs/missing/stream", "").Code)
}

func assertStream(t *testing.T, events []progress.Event, runID string) {
	t.Helper()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventLog, events[0].Type)
	assert.Equal(t, "job_sync started for greenhouse", events[0].Message)
	for i, ev := range events {
		assert.Equal(t, runID, ev.RunID)
		assert.Equal(t, i+1, ev.Seq)
	}
	last := events[len(events)-1]
	assert.Equal(t, progress.EventComplete, last.Type)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 1, last.Stats.JobsAdded)
}

func TestSyncStream_StreamsUntilTerminal(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/sync/stream", jobSyncBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	events := decodeEvents(t, rec.Body.Bytes())
	require.NotEmpty(t, events)
	assertStream(t, events, events[0].RunID)
}

func TestRunStream_ReconnectAfterCompletion(t *testing.T) {
	f := newFixture(t, true)
	run, err := f.orch.Run(context.Background(), orchestrator.Request{SyncType: model.SyncTypeJobs, Source: "greenhouse"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assertStream(t, decodeEvents(t, rec.Body.Bytes()), run.ID)
}

// droppingBroker hands out the first event of a run and then a live channel
// that is already closed, like a subscriber cut off for falling behind.
type droppingBroker struct {
	first progress.Event
}

func (droppingBroker) Publish(context.Context, progress.Event) error { return nil }

func (b droppingBroker) Subscribe(context.Context, string) (*progress.Subscription, error) {
	ch := make(chan progress.Event)
	close(ch)
	return &progress.Subscription{History: []progress.Event{b.first}, Events: ch}, nil
}

func TestRunStream_DroppedSubscriberContinuesFromStore(t *testing.T) {
	f := newFixture(t, false)
	run, err := f.orch.Run(context.Background(), orchestrator.Request{SyncType: model.SyncTypeJobs, Source: "greenhouse"})
	require.NoError(t, err)
	saved, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	stored := progress.FromRun(saved)
	require.Greater(t, len(stored), 2)

	f.srv.broker = droppingBroker{first: stored[0]}
	rec := f.do(t, http.MethodGet, "/runs/"+run.ID+"/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeEvents(t, rec.Body.Bytes())
	require.Len(t, events, len(stored))
	assertStream(t, events, run.ID)
	assert.Equal(t, 1, countMessage(events, stored[0].Message), "delivered events are not repeated")
}

func countMessage(events []progress.Event, msg string) int {
	n := 0
	for _, ev := range events {
		if ev.Message == msg {
			n++
		}
	}
	return n
}

func TestRunStream_FallsBackToStore(t *testing.T) {
	f := newFixture(t, false)
	f.boards.block = make(chan struct{})

	h, err := f.orch.Start(context.Background(), orchestrator.Request{SyncType: model.SyncTypeJobs, Source: "greenhouse"})
	require.NoError(t, err)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+h.Run.ID+"/stream", nil))
		done <- rec
	}()

	time.Sleep(50 * time.Millisecond)
	close(f.boards.block)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		events := decodeEvents(t, rec.Body.Bytes())
		require.NotEmpty(t, events)
		assert.Equal(t, progress.EventLog, events[0].Type)
		assert.Equal(t, progress.EventComplete, events[len(events)-1].Type)
		for i, ev := range events {
			assert.Equal(t, i+1, ev.Seq)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the run completed")
	}
}

func TestSweep_NothingStuck(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/runs/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"swept":[]}`, rec.Body.String())
}

func TestDedup(t *testing.T) {
	f := newFixture(t, true)
	f.boards.listings = []model.RawListing{
		listing("Senior Product Manager", "https://x/1"),
		listing("Senior  Product Manager", "https://x/2"),
		listing("Data Analyst", "https://x/3"),
	}
	_, err := f.orch.Run(context.Background(), orchestrator.Request{SyncType: model.SyncTypeJobs})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/dedup", `{"criteria":["title","company"],"dry_run":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var report dedup.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Scanned)
	assert.Len(t, report.Groups, 1)
	assert.Equal(t, 1, report.Removed)

	listings, err := f.store.ListListings(context.Background(), model.ListingQuery{})
	require.NoError(t, err)
	assert.Len(t, listings, 3)

	rec = f.do(t, http.MethodPost, "/dedup", `{"criteria":["title","company"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	listings, err = f.store.ListListings(context.Background(), model.ListingQuery{})
	require.NoError(t, err)
	assert.Len(t, listings, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/dedup", `{"criteria":["colour"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/dedup", `{"criteria":[]}`).Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_ShutdownWaitsForRuns(t *testing.T) {
	f := newFixture(t, true)
	f.boards.block = make(chan struct{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/sync", "application/json", strings.NewReader(jobSyncBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancel()
	select {
	case err := <-served:
		t.Fatalf("Serve returned with a run in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(f.boards.block)
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the run finished")
	}

	runs, err := f.store.ListRecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunCompleted, runs[0].Status)
}

package watch

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

func update(t *testing.T, m watchModel, msg tea.Msg) (watchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(watchModel), cmd
}

func TestWatchModel_FollowsRun(t *testing.T) {
	m := newWatchModel("r1", make(chan tea.Msg))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	at := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	m, cmd := update(t, m, eventMsg{ev: progress.Event{Type: progress.EventLog, At: at, Level: model.LogInfo, Message: "job_sync started"}})
	if cmd == nil {
		t.Error("expected a command waiting for the next event")
	}
	m, _ = update(t, m, eventMsg{ev: progress.Event{
		Type: progress.EventProgress, Processed: 1, Total: 4, Stats: &model.RunStats{JobsAdded: 2},
	}})
	if m.processed != 1 || m.total != 4 || m.stats.JobsAdded != 2 {
		t.Errorf("state = %d/%d %+v", m.processed, m.total, m.stats)
	}
	if got := m.percent(); got != 0.25 {
		t.Errorf("percent = %v, want 0.25", got)
	}
	if !strings.Contains(m.View(), "running") {
		t.Error("view should show the run as running")
	}

	report := &model.SyncRun{ID: "r1", TotalUnits: 4, ProcessedUnits: 4}
	m, _ = update(t, m, eventMsg{ev: progress.Event{Type: progress.EventComplete, Stats: &model.RunStats{JobsAdded: 7}, Report: report}})
	if m.final == nil || !m.done() {
		t.Fatal("model should be done after the terminal event")
	}
	if m.processed != 4 || m.stats.JobsAdded != 7 {
		t.Errorf("final state = %d/%d %+v", m.processed, m.total, m.stats)
	}
	view := m.View()
	if !strings.Contains(view, "completed") || !strings.Contains(view, "jobs +7") {
		t.Errorf("view = %q", view)
	}
	if len(m.lines) != 1 {
		t.Errorf("lines = %v", m.lines)
	}
}

func TestWatchModel_FailureMessageShownOnce(t *testing.T) {
	m := newWatchModel("r1", make(chan tea.Msg))
	m, _ = update(t, m, eventMsg{ev: progress.Event{Type: progress.EventLog, Level: model.LogError, Message: "sync failed: boom"}})
	m, _ = update(t, m, eventMsg{ev: progress.Event{Type: progress.EventError, Message: "sync failed: boom"}})

	if len(m.lines) != 1 {
		t.Errorf("lines = %d, want the failure logged once", len(m.lines))
	}
	if !strings.Contains(m.View(), "failed") {
		t.Error("view should show the failure")
	}
}

func TestWatchModel_StreamEndsEarly(t *testing.T) {
	m := newWatchModel("r1", make(chan tea.Msg))
	m, _ = update(t, m, streamEndMsg{})
	if !errors.Is(m.err, errStreamEnded) {
		t.Errorf("err = %v", m.err)
	}

	m = newWatchModel("r1", make(chan tea.Msg))
	boom := errors.New("connection reset")
	m, _ = update(t, m, streamEndMsg{err: boom})
	if !errors.Is(m.err, boom) {
		t.Errorf("err = %v", m.err)
	}
}

func TestWatchModel_Quit(t *testing.T) {
	m := newWatchModel("r1", make(chan tea.Msg))
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

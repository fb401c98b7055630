package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobsync/internal/model"
)

func logEvent(runID, msg string) Event {
	return Event{Type: EventLog, RunID: runID, Level: model.LogInfo, Message: msg}
}

func TestHub_SubscribeUnknownRun(t *testing.T) {
	h := NewHub(time.Minute)
	_, err := h.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestHub_AssignsSequence(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Publish(ctx, logEvent("r1", fmt.Sprintf("line %d", i))))
	}
	require.NoError(t, h.Publish(ctx, logEvent("r2", "other run")))

	sub, err := h.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, sub.History, 3)
	for i, ev := range sub.History {
		assert.Equal(t, i+1, ev.Seq)
		assert.False(t, ev.At.IsZero())
	}
	assert.True(t, h.Active("r1"))
}

func TestHub_LiveEventsFollowHistory(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Minute)
	require.NoError(t, h.Publish(ctx, logEvent("r1", "started")))

	sub, err := h.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(ctx, Event{Type: EventProgress, RunID: "r1", Processed: 1, Total: 2}))
	require.NoError(t, h.Publish(ctx, Event{Type: EventComplete, RunID: "r1"}))

	var got []Event
	require.NoError(t, sub.Replay(ctx, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))

	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, EventComplete, got[2].Type)

	_, open := <-sub.Events
	assert.False(t, open, "live channel closes after the terminal event")
	assert.False(t, h.Active("r1"))
}

func TestHub_ReconnectAfterCompletion(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Minute)
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, h.Publish(ctx, logEvent("r1", msg)))
	}
	require.NoError(t, h.Publish(ctx, Event{Type: EventComplete, RunID: "r1"}))
	require.NoError(t, h.Publish(ctx, logEvent("r1", "late")))

	for attempt := 0; attempt < 2; attempt++ {
		sub, err := h.Subscribe(ctx, "r1")
		require.NoError(t, err)
		assert.True(t, sub.Done())

		var got []Event
		require.NoError(t, sub.Replay(ctx, func(ev Event) error {
			got = append(got, ev)
			return nil
		}))
		require.Len(t, got, 4)

		terminals := 0
		for _, ev := range got {
			if ev.Terminal() {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals)
		sub.Close()
	}
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Minute)
	h.buffer = 1
	require.NoError(t, h.Publish(ctx, logEvent("r1", "start")))

	slow, err := h.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer slow.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(ctx, logEvent("r1", "spam")))
	}

	n := 0
	for range slow.Events {
		n++
	}
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, slow.Replay(ctx, func(Event) error { return nil }), ErrStreamDropped)

	// The run itself keeps going and later subscribers see everything.
	fresh, err := h.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer fresh.Close()
	assert.Len(t, fresh.History, 6)
}

func TestHub_CloseDetachesOnlySubscriber(t *testing.T) {
	ctx := context.Background()
	h := NewHub(time.Minute)
	require.NoError(t, h.Publish(ctx, logEvent("r1", "start")))

	sub, err := h.Subscribe(ctx, "r1")
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	_, open := <-sub.Events
	assert.False(t, open)
	require.NoError(t, h.Publish(ctx, logEvent("r1", "still running")))
	assert.True(t, h.Active("r1"))
}

func TestHub_PrunesFinishedRuns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHub(time.Minute)
	h.now = func() time.Time { return now }

	require.NoError(t, h.Publish(ctx, Event{Type: EventError, RunID: "old", Message: "boom"}))
	require.NoError(t, h.Publish(ctx, logEvent("live", "running")))

	now = now.Add(2 * time.Minute)
	require.NoError(t, h.Publish(ctx, logEvent("live", "tick")))

	_, err := h.Subscribe(ctx, "old")
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = h.Subscribe(ctx, "live")
	assert.NoError(t, err)
}

func TestFromRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)
	run := &model.SyncRun{
		ID:          "r1",
		Status:      model.RunFailed,
		StartedAt:   started,
		CompletedAt: &done,
		Stats:       model.RunStats{JobsAdded: 2},
		Logs: []model.LogEntry{
			{Seq: 1, At: started, Level: model.LogInfo, Message: "sync started"},
			{Seq: 2, At: done, Level: model.LogError, Message: "fetch failed"},
		},
	}

	events := FromRun(run)
	require.Len(t, events, 3)
	assert.Equal(t, EventLog, events[0].Type)
	assert.Equal(t, "sync started", events[0].Message)

	last := events[2]
	assert.Equal(t, EventError, last.Type)
	assert.Equal(t, 3, last.Seq)
	assert.Equal(t, "fetch failed", last.Message)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 2, last.Stats.JobsAdded)
	assert.Equal(t, done, last.At)
}

func TestFromRun_RunningHasNoTerminal(t *testing.T) {
	run := &model.SyncRun{ID: "r1", Status: model.RunRunning, Logs: []model.LogEntry{{Seq: 1, Message: "x"}}}
	events := FromRun(run)
	require.Len(t, events, 1)
	assert.False(t, events[0].Terminal())
}

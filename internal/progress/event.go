// Package progress relays structured run events from the orchestrator to
// any number of observers, with history replay for late subscribers.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

// ErrUnknownRun is returned by Subscribe when the broker holds no events for
// the run, either because it never existed or its history has expired.
var ErrUnknownRun = errors.New("no progress stream for run")

// ErrStreamDropped is returned by Replay when the live channel closes before
// the terminal event, typically because the subscriber fell behind.
var ErrStreamDropped = errors.New("progress stream dropped before the run finished")

// EventType classifies a progress event.
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one entry of a run's stream. Seq is assigned by the broker and
// increases by one per event within a run.
type Event struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	At        time.Time       `json:"at"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Processed int             `json:"processed,omitempty"`
	Total     int             `json:"total,omitempty"`
	Stats     *model.RunStats `json:"stats,omitempty"`
	Report    *model.SyncRun  `json:"report,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Broker is the publish/subscribe channel keyed by run id.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, runID string) (*Subscription, error)
}

// Subscription hands a subscriber the buffered history and, if the run is
// still active, the live events that follow it. Events is closed after the
// terminal event, when the subscriber falls too far behind, or on Close.
// History never overlaps Events.
type Subscription struct {
	History []Event
	Events  <-chan Event

	once  sync.Once
	close func()
}

// Close detaches the subscriber. It never affects the run.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
}

// Done reports whether the history already contains the terminal event.
func (s *Subscription) Done() bool {
	return len(s.History) > 0 && s.History[len(s.History)-1].Terminal()
}

// Replay calls fn for every history event and then for each live event until
// the terminal event, ctx cancellation or an error from fn. A live channel
// that ends early yields ErrStreamDropped.
func (s *Subscription) Replay(ctx context.Context, fn func(Event) error) error {
	for _, ev := range s.History {
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.Events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrStreamDropped
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Terminal() {
				return nil
			}
		}
	}
}

// FromRun rebuilds a finished stream from a persisted run: one log event per
// stored log entry followed by the terminal event. It serves reconnections
// after the broker's history is gone.
func FromRun(run *model.SyncRun) []Event {
	events := make([]Event, 0, len(run.Logs)+1)
	for _, entry := range run.Logs {
		events = append(events, Event{
			Type:    EventLog,
			RunID:   run.ID,
			Seq:     len(events) + 1,
			At:      entry.At,
			Level:   entry.Level,
			Message: entry.Message,
		})
	}
	if run.Status.IsTerminal() {
		events = append(events, TerminalEvent(run))
		events[len(events)-1].Seq = len(events)
	}
	return events
}

// TerminalEvent builds the complete or error event for a finished run.
func TerminalEvent(run *model.SyncRun) Event {
	ev := Event{Type: EventComplete, RunID: run.ID, Report: run}
	stats := run.Stats
	ev.Stats = &stats
	if run.CompletedAt != nil {
		ev.At = *run.CompletedAt
	}
	if run.Status == model.RunFailed {
		ev.Type = EventError
		ev.Level = model.LogError
		if n := len(run.Logs); n > 0 {
			ev.Message = run.Logs[n-1].Message
		}
	}
	return ev
}

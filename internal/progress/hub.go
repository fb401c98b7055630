package progress

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSubscriberBuffer = 256
	defaultRetention        = 30 * time.Minute
)

// Hub is the in-process Broker. Every run keeps its full event history until
// retention after its terminal event.
type Hub struct {
	mu        sync.Mutex
	topics    map[string]*topic
	retention time.Duration
	buffer    int
	now       func() time.Time
}

type topic struct {
	history []Event
	subs    map[chan Event]struct{}
	doneAt  time.Time // zero while the run is active
}

// NewHub returns an in-memory broker. Finished runs are forgotten retention
// after completion; zero selects a default.
func NewHub(retention time.Duration) *Hub {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Hub{
		topics:    make(map[string]*topic),
		retention: retention,
		buffer:    defaultSubscriberBuffer,
		now:       time.Now,
	}
}

// Publish appends ev to its run's history and fans it out. A subscriber whose
// buffer is full is dropped rather than blocking the run. Events published
// after the terminal event are ignored.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked()

	t, ok := h.topics[ev.RunID]
	if !ok {
		t = &topic{subs: make(map[chan Event]struct{})}
		h.topics[ev.RunID] = t
	}
	if !t.doneAt.IsZero() {
		return nil
	}

	ev.Seq = len(t.history) + 1
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	t.history = append(t.history, ev)

	for ch := range t.subs {
		select {
		case ch <- ev:
		default:
			delete(t.subs, ch)
			close(ch)
		}
	}

	if ev.Terminal() {
		t.doneAt = h.now()
		for ch := range t.subs {
			close(ch)
		}
		t.subs = nil
	}
	return nil
}

// Subscribe returns the run's history so far and, while it is active, a live
// channel continuing after the last history event.
func (h *Hub) Subscribe(_ context.Context, runID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[runID]
	if !ok {
		return nil, ErrUnknownRun
	}

	sub := &Subscription{History: append([]Event(nil), t.history...)}
	ch := make(chan Event, h.buffer)
	sub.Events = ch

	if !t.doneAt.IsZero() {
		close(ch)
		return sub, nil
	}

	t.subs[ch] = struct{}{}
	sub.close = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return sub, nil
}

// Active reports whether the run has a stream without a terminal event.
func (h *Hub) Active(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[runID]
	return ok && t.doneAt.IsZero()
}

func (h *Hub) pruneLocked() {
	cutoff := h.now().Add(-h.retention)
	for id, t := range h.topics {
		if !t.doneAt.IsZero() && t.doneAt.Before(cutoff) {
			delete(h.topics, id)
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

// eventWriter streams progress events as newline-delimited JSON, one
// object per line, flushing after each.
type eventWriter struct {
	rc  *http.ResponseController
	enc *json.Encoder
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &eventWriter{rc: http.NewResponseController(w), enc: json.NewEncoder(w)}
}

func (e *eventWriter) write(ev progress.Event) error {
	if err := e.enc.Encode(ev); err != nil {
		return err
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// handleSyncStream starts a run and streams its events until the terminal
// one. Disconnecting stops the stream, not the run.
func (s *Server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	h, _, ok := s.start(w, r)
	if !ok {
		return
	}
	s.stream(r.Context(), w, h.Run.ID)
}

// handleRunStream attaches to an existing run: buffered history first, then
// live events. Once the broker has forgotten the run it is rebuilt from the
// store.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			s.errorResponse(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("loading run", "run_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	s.stream(r.Context(), w, id)
}

func (s *Server) stream(ctx context.Context, w http.ResponseWriter, runID string) {
	logger := s.logger.With("run_id", runID)

	var sub *progress.Subscription
	if s.broker != nil {
		var err error
		sub, err = s.broker.Subscribe(ctx, runID)
		if err != nil && !errors.Is(err, progress.ErrUnknownRun) {
			logger.Warn("subscribing to run stream; falling back to store", "error", err)
		}
	}

	ew := newEventWriter(w)
	if sub != nil {
		defer sub.Close()
		var lastSeq, logs int
		err := sub.Replay(ctx, func(ev progress.Event) error {
			lastSeq = ev.Seq
			if ev.Type == progress.EventLog {
				logs++
			}
			return ew.write(ev)
		})
		if errors.Is(err, progress.ErrStreamDropped) {
			logger.Warn("run stream dropped; continuing from store", "sent_logs", logs)
			err = s.pollRun(ctx, runID, logs, lastSeq, ew.write)
		}
		if err != nil && ctx.Err() == nil {
			logger.Warn("streaming run events", "error", err)
		}
		return
	}
	if err := s.pollRun(ctx, runID, 0, 0, ew.write); err != nil && ctx.Err() == nil {
		logger.Warn("streaming run from store", "error", err)
	}
}

// pollRun replays a run from the store, re-reading it until terminal.
// Stored logs are append-only, so the events rebuilt on each read extend
// the ones already sent. The first skip stored events are assumed delivered
// and the rest are numbered after seq.
func (s *Server) pollRun(ctx context.Context, runID string, skip, seq int, fn func(progress.Event) error) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	sent := skip
	for {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		events := progress.FromRun(run)
		for _, ev := range events[min(sent, len(events)):] {
			ev.Seq += seq - skip
			if err := fn(ev); err != nil {
				return err
			}
		}
		sent = max(sent, len(events))
		if run.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

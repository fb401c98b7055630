package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

// runState is the per-run accumulator. It is the only writer of its run's
// logs and stats, and serializes concurrent sources so the log order is the
// order units finished.
type runState struct {
	mu     sync.Mutex
	run    model.SyncRun
	store  model.RunStore
	broker progress.Broker
	logger *slog.Logger
	now    func() time.Time
}

// logf appends a run log entry, then publishes it.
func (s *runState) logf(ctx context.Context, level, format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, level, fmt.Sprintf(format, args...))
}

func (s *runState) appendLocked(ctx context.Context, level, msg string) error {
	entry := model.LogEntry{
		Seq:     len(s.run.Logs) + 1,
		At:      s.now().UTC(),
		Level:   level,
		Message: msg,
	}
	if err := s.store.AppendRunLog(ctx, s.run.ID, entry); err != nil {
		return fmt.Errorf("appending run log: %w", err)
	}
	s.run.Logs = append(s.run.Logs, entry)

	switch level {
	case model.LogError:
		s.logger.Error(msg)
	case model.LogWarn:
		s.logger.Warn(msg)
	default:
		s.logger.Info(msg)
	}
	s.publish(ctx, progress.Event{Type: progress.EventLog, Level: level, Message: msg, At: entry.At})
	return nil
}

// addTotal grows the number of expected units.
func (s *runState) addTotal(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.TotalUnits += n
	return s.persistLocked(ctx)
}

// unitDone records one processed unit: it applies delta, appends msg and
// bumps the processed count, in that order.
func (s *runState) unitDone(ctx context.Context, delta model.RunStats, level, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.run.Stats.Add(delta)
	s.run.ProcessedUnits++
	if s.run.ProcessedUnits > s.run.TotalUnits {
		s.run.TotalUnits = s.run.ProcessedUnits
	}
	if err := s.appendLocked(ctx, level, msg); err != nil {
		return err
	}
	return s.persistLocked(ctx)
}

// addStats applies counters that are not tied to a unit, such as retention
// pruning at the end of a run.
func (s *runState) addStats(ctx context.Context, delta model.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Stats.Add(delta)
	return s.persistLocked(ctx)
}

func (s *runState) persistLocked(ctx context.Context) error {
	if err := s.store.UpdateRunProgress(ctx, s.run.ID, s.run.Stats, s.run.TotalUnits, s.run.ProcessedUnits); err != nil {
		return fmt.Errorf("saving run progress: %w", err)
	}
	stats := s.run.Stats
	s.publish(ctx, progress.Event{
		Type:      progress.EventProgress,
		Processed: s.run.ProcessedUnits,
		Total:     s.run.TotalUnits,
		Stats:     &stats,
	})
	return nil
}

// finish makes the terminal transition. A nil cause completes the run.
// Store failures here are logged; the terminal event is still published so
// observers are released, and the sweep will eventually fail the row.
func (s *runState) finish(ctx context.Context, cause error) model.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := model.RunCompleted
	if cause != nil {
		status = model.RunFailed
		if err := s.appendLocked(ctx, model.LogError, "sync failed: "+cause.Error()); err != nil {
			s.logger.Error("recording run failure", "error", err)
			s.run.Logs = append(s.run.Logs, model.LogEntry{
				Seq: len(s.run.Logs) + 1, At: s.now().UTC(), Level: model.LogError, Message: "sync failed: " + cause.Error(),
			})
		}
	} else if err := s.appendLocked(ctx, model.LogInfo, summary(s.run)); err != nil {
		s.logger.Error("recording run summary", "error", err)
	}

	if !model.CanTransition(s.run.Status, status) {
		s.logger.Error("invalid run transition", "from", s.run.Status, "to", status)
		return s.run
	}
	completed := s.now().UTC()
	s.run.Status = status
	s.run.CompletedAt = &completed

	if err := s.store.FinishRun(ctx, &s.run); err != nil {
		s.logger.Error("finishing run", "status", status, "error", err)
	}
	s.publish(ctx, progress.TerminalEvent(&s.run))
	return s.snapshotLocked()
}

func (s *runState) snapshot() model.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *runState) snapshotLocked() model.SyncRun {
	run := s.run
	run.Logs = append([]model.LogEntry(nil), s.run.Logs...)
	return run
}

// publish relays ev to observers. Relay failures never affect the run.
func (s *runState) publish(ctx context.Context, ev progress.Event) {
	if s.broker == nil {
		return
	}
	ev.RunID = s.run.ID
	if err := s.broker.Publish(ctx, ev); err != nil {
		s.logger.Warn("publishing progress event", "type", ev.Type, "error", err)
	}
}

func summary(run model.SyncRun) string {
	st := run.Stats
	switch run.SyncType {
	case model.SyncTypeDiscovery:
		return fmt.Sprintf("discovery completed: %d companies added, %d companies removed", st.CompaniesAdded, st.CompaniesDeleted)
	default:
		return fmt.Sprintf("sync completed: %d added, %d updated, %d deleted, %d skipped",
			st.JobsAdded, st.JobsUpdated, st.JobsDeleted, st.JobsSkipped)
	}
}

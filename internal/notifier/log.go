package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

// Ensure LogNotifier implements model.RunNotifier.
var _ model.RunNotifier = (*LogNotifier)(nil)

// LogNotifier writes finished runs to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each finished run via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyRun logs the run's outcome and counters. Failed runs are logged at
// error level with their last log line. Returns nil (logging does not fail).
func (n *LogNotifier) NotifyRun(_ context.Context, run model.SyncRun) error {
	args := []any{
		"run_id", run.ID,
		"sync_type", run.SyncType,
		"status", run.Status,
		"jobs_added", run.Stats.JobsAdded,
		"jobs_updated", run.Stats.JobsUpdated,
		"jobs_deleted", run.Stats.JobsDeleted,
		"companies_added", run.Stats.CompaniesAdded,
		"companies_deleted", run.Stats.CompaniesDeleted,
	}
	if run.Source != "" {
		args = append(args, "source", run.Source)
	}
	if run.CompletedAt != nil {
		args = append(args, "duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	if run.Status == model.RunFailed {
		if last := lastLog(run); last != "" {
			args = append(args, "reason", last)
		}
		n.logger.Error("sync run failed", args...)
		return nil
	}
	n.logger.Info("sync run finished", args...)
	return nil
}

func lastLog(run model.SyncRun) string {
	if len(run.Logs) == 0 {
		return ""
	}
	return run.Logs[len(run.Logs)-1].Message
}

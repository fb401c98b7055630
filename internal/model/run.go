package model

import (
	"context"
	"fmt"
	"time"
)

// SyncType selects the orchestrator path.
type SyncType string

const (
	SyncTypeJobs      SyncType = "job_sync"
	SyncTypeDiscovery SyncType = "discovery"
)

// ParseSyncType converts a raw string, rejecting unknown values.
func ParseSyncType(s string) (SyncType, error) {
	st := SyncType(s)
	switch st {
	case SyncTypeJobs, SyncTypeDiscovery:
		return st, nil
	}
	return "", &unknownValueError{kind: "sync type", value: s}
}

// RunStatus is the SyncRun state.
//
//	(none) ──► running ──► completed
//	              │
//	              └──────► failed
//
// completed and failed are terminal.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransition reports whether a run may move from -> to.
func CanTransition(from, to RunStatus) bool {
	return from == RunRunning && to.IsTerminal()
}

// RunStats are monotonically increasing counters for one run.
type RunStats struct {
	JobsAdded        int `json:"jobs_added"`
	JobsUpdated      int `json:"jobs_updated"`
	JobsDeleted      int `json:"jobs_deleted"`
	JobsSkipped      int `json:"jobs_skipped"`
	CompaniesAdded   int `json:"companies_added"`
	CompaniesDeleted int `json:"companies_deleted"`
}

// Add accumulates d into s.
func (s *RunStats) Add(d RunStats) {
	s.JobsAdded += d.JobsAdded
	s.JobsUpdated += d.JobsUpdated
	s.JobsDeleted += d.JobsDeleted
	s.JobsSkipped += d.JobsSkipped
	s.CompaniesAdded += d.CompaniesAdded
	s.CompaniesDeleted += d.CompaniesDeleted
}

// Log levels used in run log entries.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// LogEntry is one line of a run's append-only audit trail.
type LogEntry struct {
	Seq     int       `json:"seq"`
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// SyncRun is one execution of the orchestrator.
type SyncRun struct {
	ID             string     `json:"id"`
	SyncType       SyncType   `json:"sync_type"`
	Source         string     `json:"source,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Stats          RunStats   `json:"stats"`
	Logs           []LogEntry `json:"logs"`
	TotalUnits     int        `json:"total_units"`
	ProcessedUnits int        `json:"processed_units"`
}

// RunStore persists SyncRun records. The creating orchestrator is the only
// writer until the run is terminal; SweepStuckRuns is the one exception.
type RunStore interface {
	// CreateRun atomically inserts run unless a running run with the same
	// (sync type, source) started after run.StartedAt-window. On conflict it
	// returns *ActiveRunError.
	CreateRun(ctx context.Context, run *SyncRun, window time.Duration) error
	AppendRunLog(ctx context.Context, runID string, entry LogEntry) error
	UpdateRunProgress(ctx context.Context, runID string, stats RunStats, total, processed int) error
	// FinishRun makes the single terminal transition. ErrRunFinished is
	// returned when the run is no longer running.
	FinishRun(ctx context.Context, run *SyncRun) error
	GetRun(ctx context.Context, runID string) (*SyncRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]SyncRun, error)
	// SweepStuckRuns fails every running run started before cutoff, appending
	// message as an error log entry. It returns the swept run ids.
	SweepStuckRuns(ctx context.Context, cutoff time.Time, message string) ([]string, error)
}

// RunNotifier is told about every run that reaches a terminal state.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run SyncRun) error
}

type unknownValueError struct {
	kind  string
	value string
}

func (e *unknownValueError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.kind, e.value)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/jobsync/internal/model"
)

// recentLogTail is how many log lines ListRecentRuns attaches per run.
const recentLogTail = 20

const runColumns = `id, sync_type, source, status, started_at, completed_at, jobs_added, jobs_updated,
	jobs_deleted, jobs_skipped, companies_added, companies_deleted, total_units, processed_units`

func scanRun(r rowScanner) (*model.SyncRun, error) {
	var (
		run         model.SyncRun
		syncType    string
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := r.Scan(&run.ID, &syncType, &run.Source, &status, &startedAt, &completedAt,
		&run.Stats.JobsAdded, &run.Stats.JobsUpdated, &run.Stats.JobsDeleted, &run.Stats.JobsSkipped,
		&run.Stats.CompaniesAdded, &run.Stats.CompaniesDeleted, &run.TotalUnits, &run.ProcessedUnits)
	if err != nil {
		return nil, err
	}
	run.SyncType = model.SyncType(syncType)
	run.Status = model.RunStatus(status)
	run.StartedAt = fromMillis(startedAt)
	run.CompletedAt = timeFromNull(completedAt)
	return &run, nil
}

// CreateRun inserts run as running unless another running run with the same
// sync type and source started within window. The check and the insert
// happen in one transaction under a per-key lock.
func (s *SQLStore) CreateRun(ctx context.Context, run *model.SyncRun, window time.Duration) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	run.Status = model.RunRunning
	key := fmt.Sprintf("sync_run:%s:%s", run.SyncType, run.Source)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lock(ctx, tx, key); err != nil {
			return err
		}

		var (
			activeID      string
			activeStarted int64
		)
		err := s.queryRow(ctx, tx, `SELECT id, started_at FROM sync_runs
			WHERE status = ? AND sync_type = ? AND source = ? AND started_at >= ?
			ORDER BY started_at DESC LIMIT 1`,
			string(model.RunRunning), string(run.SyncType), run.Source, toMillis(run.StartedAt.Add(-window)),
		).Scan(&activeID, &activeStarted)
		switch {
		case err == nil:
			return &model.ActiveRunError{RunID: activeID, StartedAt: fromMillis(activeStarted)}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		_, err = s.exec(ctx, tx, `INSERT INTO sync_runs (id, sync_type, source, status, started_at,
			total_units, processed_units) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(run.SyncType), run.Source, string(run.Status), toMillis(run.StartedAt),
			run.TotalUnits, run.ProcessedUnits)
		return err
	})
	if err != nil {
		var active *model.ActiveRunError
		if errors.As(err, &active) {
			return active
		}
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

// AppendRunLog appends one entry to the run's log.
func (s *SQLStore) AppendRunLog(ctx context.Context, runID string, entry model.LogEntry) error {
	_, err := s.exec(ctx, s.db, "INSERT INTO sync_run_logs (run_id, seq, at, level, message) VALUES (?, ?, ?, ?, ?)",
		runID, entry.Seq, toMillis(entry.At), entry.Level, entry.Message)
	if err != nil {
		return fmt.Errorf("appending log %d to run %s: %w", entry.Seq, runID, err)
	}
	return nil
}

// UpdateRunProgress records stats and unit counters of a running run.
func (s *SQLStore) UpdateRunProgress(ctx context.Context, runID string, stats model.RunStats, total, processed int) error {
	res, err := s.exec(ctx, s.db, `UPDATE sync_runs SET jobs_added = ?, jobs_updated = ?, jobs_deleted = ?,
		jobs_skipped = ?, companies_added = ?, companies_deleted = ?, total_units = ?, processed_units = ?
		WHERE id = ? AND status = ?`,
		stats.JobsAdded, stats.JobsUpdated, stats.JobsDeleted, stats.JobsSkipped,
		stats.CompaniesAdded, stats.CompaniesDeleted, total, processed, runID, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("updating progress of run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.notRunning(ctx, runID)
	}
	return nil
}

// FinishRun makes the single terminal transition of a running run.
func (s *SQLStore) FinishRun(ctx context.Context, run *model.SyncRun) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("finishing run %s: status %q is not terminal", run.ID, run.Status)
	}
	if run.CompletedAt == nil {
		now := s.now().UTC()
		run.CompletedAt = &now
	}
	res, err := s.exec(ctx, s.db, `UPDATE sync_runs SET status = ?, completed_at = ?, jobs_added = ?,
		jobs_updated = ?, jobs_deleted = ?, jobs_skipped = ?, companies_added = ?, companies_deleted = ?,
		total_units = ?, processed_units = ?
		WHERE id = ? AND status = ?`,
		string(run.Status), toMillis(*run.CompletedAt), run.Stats.JobsAdded, run.Stats.JobsUpdated,
		run.Stats.JobsDeleted, run.Stats.JobsSkipped, run.Stats.CompaniesAdded, run.Stats.CompaniesDeleted,
		run.TotalUnits, run.ProcessedUnits, run.ID, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.notRunning(ctx, run.ID)
	}
	return nil
}

// notRunning explains why a conditional update on a run matched nothing.
func (s *SQLStore) notRunning(ctx context.Context, runID string) error {
	var status string
	err := s.queryRow(ctx, s.db, "SELECT status FROM sync_runs WHERE id = ?", runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, model.ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return fmt.Errorf("run %s is %s: %w", runID, status, model.ErrRunFinished)
}

// GetRun returns a run with its full log.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*model.SyncRun, error) {
	run, err := scanRun(s.queryRow(ctx, s.db, "SELECT "+runColumns+" FROM sync_runs WHERE id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	run.Logs, err = s.runLogs(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRecentRuns returns up to limit runs newest first, each carrying the
// tail of its log.
func (s *SQLStore) ListRecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, s.db, "SELECT "+runColumns+" FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	for i := range runs {
		runs[i].Logs, err = s.runLogs(ctx, runs[i].ID, recentLogTail)
		if err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// runLogs returns the log of a run in seq order; tail > 0 keeps only the
// last tail entries.
func (s *SQLStore) runLogs(ctx context.Context, runID string, tail int) ([]model.LogEntry, error) {
	query := "SELECT seq, at, level, message FROM sync_run_logs WHERE run_id = ? ORDER BY seq"
	args := []any{runID}
	if tail > 0 {
		query = "SELECT seq, at, level, message FROM (SELECT seq, at, level, message FROM sync_run_logs WHERE run_id = ? ORDER BY seq DESC LIMIT ?) t ORDER BY seq"
		args = append(args, tail)
	}
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading logs of run %s: %w", runID, err)
	}
	defer rows.Close()

	logs := []model.LogEntry{}
	for rows.Next() {
		var (
			e  model.LogEntry
			at int64
		)
		if err := rows.Scan(&e.Seq, &at, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("scanning log of run %s: %w", runID, err)
		}
		e.At = fromMillis(at)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// SweepStuckRuns fails every run still running that started before cutoff,
// appending message as an error entry after its last log line.
func (s *SQLStore) SweepStuckRuns(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	var swept []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx, "SELECT id FROM sync_runs WHERE status = ? AND started_at < ? ORDER BY started_at",
			string(model.RunRunning), toMillis(cutoff))
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := toMillis(s.now())
		for _, id := range ids {
			var last int
			if err := s.queryRow(ctx, tx, "SELECT COALESCE(MAX(seq), 0) FROM sync_run_logs WHERE run_id = ?", id).Scan(&last); err != nil {
				return err
			}
			if _, err := s.exec(ctx, tx, "INSERT INTO sync_run_logs (run_id, seq, at, level, message) VALUES (?, ?, ?, ?, ?)",
				id, last+1, now, model.LogError, message); err != nil {
				return err
			}
			res, err := s.exec(ctx, tx, "UPDATE sync_runs SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
				string(model.RunFailed), now, id, string(model.RunRunning))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				swept = append(swept, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweeping stuck runs: %w", err)
	}
	return swept, nil
}

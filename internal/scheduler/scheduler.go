package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/jobsync/internal/trigger"
)

// Triggerer starts runs on the sync server.
type Triggerer interface {
	Sync(ctx context.Context, req trigger.Request) (trigger.Result, error)
	Sweep(ctx context.Context) ([]string, error)
}

// Job is one cron entry.
type Job struct {
	Spec    string
	Request trigger.Request
}

// Scheduler fires sync triggers on cron specs. A failed trigger is logged
// and the next tick tries again; nothing a job does can stop the loop.
type Scheduler struct {
	cron       *cron.Cron
	jobs       []Job
	sweepSpec  string
	trigger    Triggerer
	runOnStart bool
	logger     *slog.Logger
}

// New creates a scheduler. sweepSpec, when set, also schedules the stuck-run
// sweep. With runOnStart every job fires once immediately.
func New(jobs []Job, sweepSpec string, t Triggerer, runOnStart bool, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		jobs:       jobs,
		sweepSpec:  sweepSpec,
		trigger:    t,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run registers the jobs and blocks until ctx is cancelled. It returns nil on
// graceful shutdown after in-flight triggers have returned.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Spec, func() { s.fire(ctx, job) }); err != nil {
			return fmt.Errorf("scheduling %s %q: %w", job.Request.SyncType, job.Spec, err)
		}
	}
	if s.sweepSpec != "" {
		if _, err := s.cron.AddFunc(s.sweepSpec, func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("scheduling sweep %q: %w", s.sweepSpec, err)
		}
	}

	s.logger.Info("starting scheduler", "jobs", len(s.jobs), "sweep", s.sweepSpec)
	s.cron.Start()

	if s.runOnStart {
		for _, job := range s.jobs {
			if ctx.Err() != nil {
				break
			}
			s.fire(ctx, job)
		}
	}

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	start := time.Now()
	res, err := s.trigger.Sync(ctx, job.Request)
	if err != nil {
		s.logger.Error("trigger failed",
			"sync_type", job.Request.SyncType,
			"source", job.Request.Source,
			"error", err,
		)
		return
	}
	if res.Skipped() {
		s.logger.Info("sync skipped, already running",
			"sync_type", job.Request.SyncType,
			"source", job.Request.Source,
			"run_id", res.RunID,
		)
		return
	}
	s.logger.Info("sync triggered",
		"sync_type", job.Request.SyncType,
		"source", job.Request.Source,
		"run_id", res.RunID,
		"status", res.Status,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

func (s *Scheduler) sweep(ctx context.Context) {
	ids, err := s.trigger.Sweep(ctx)
	if err != nil {
		s.logger.Error("stuck-run sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Warn("swept stuck runs", "run_ids", ids)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

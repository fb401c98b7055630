package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/config"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/retry"
	"github.com/amishk599/jobsync/internal/scheduler"
	"github.com/amishk599/jobsync/internal/trigger"
)

var runOnStart bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Trigger syncs on the configured cron schedule",
	Long:  "Posts sync requests to server.base_url on each schedule tick; blocks until SIGINT/SIGTERM.",
	RunE:  runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "fire every job once at startup")
	rootCmd.AddCommand(scheduleCmd)
}

func newScheduler(cfg *config.Config, onStart bool, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if len(cfg.Schedule) == 0 && cfg.SweepSchedule == "" {
		return nil, fmt.Errorf("no schedule configured")
	}
	client := trigger.New(cfg.Server.BaseURL, nil, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, logger)

	jobs := make([]scheduler.Job, 0, len(cfg.Schedule))
	for _, s := range cfg.Schedule {
		jobs = append(jobs, scheduler.Job{
			Spec:    s.Spec,
			Request: trigger.Request{SyncType: model.SyncType(s.SyncType), Source: s.Source},
		})
	}
	return scheduler.New(jobs, cfg.SweepSchedule, client, onStart, logger), nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	sched, err := newScheduler(cfg, runOnStart, logger)
	if err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return err
	}
	logger.Info("scheduler started", "server", cfg.Server.BaseURL, "jobs", len(cfg.Schedule), "sweep", cfg.SweepSchedule)
	if err := sched.Run(cmd.Context()); err != nil {
		logger.Error("scheduler error", "error", err)
		return err
	}
	logger.Info("goodbye")
	return nil
}

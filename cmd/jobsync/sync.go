package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/orchestrator"
	"github.com/amishk599/jobsync/internal/progress"
	"github.com/amishk599/jobsync/internal/watch"
)

var (
	syncType   string
	syncSource string
	syncJSON   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync in this process",
	Long:  "Runs a job_sync or discovery run to completion, printing its progress events.",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncType, "type", "t", string(model.SyncTypeJobs), "sync type: job_sync or discovery")
	syncCmd.Flags().StringVarP(&syncSource, "source", "s", "", "limit the run to one source")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the final run as JSON instead of events")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	st, err := model.ParseSyncType(syncType)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	h, err := a.orch.Start(ctx, orchestrator.Request{SyncType: st, Source: syncSource})
	var active *model.ActiveRunError
	if errors.As(err, &active) {
		fmt.Printf("skipped: run %s is already active\n", active.RunID)
		return nil
	}
	if err != nil {
		return err
	}

	if !syncJSON {
		if sub, err := a.broker.Subscribe(ctx, h.Run.ID); err == nil {
			err = sub.Replay(ctx, func(ev progress.Event) error {
				fmt.Println(watch.Format(ev))
				return nil
			})
			sub.Close()
			if err != nil {
				logger.Warn("progress stream interrupted", "error", err)
			}
		}
	}

	// Interrupting stops the wait; the run itself carries on until this
	// process exits, and the sweep fails it if it never finishes.
	run, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if syncJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	}
	if run.Status == model.RunFailed {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return nil
}

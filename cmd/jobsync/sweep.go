package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/retry"
	"github.com/amishk599/jobsync/internal/trigger"
)

var sweepRemote bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail runs stuck past the threshold",
	Long:  "Marks every run still running after sync.stuck_threshold as failed.",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepRemote, "remote", false, "ask the server at server.base_url to sweep")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	var ids []string
	if sweepRemote {
		client := trigger.New(cfg.Server.BaseURL, nil, retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		}, logger)
		ids, err = client.Sweep(cmd.Context())
	} else {
		var a *app
		if a, err = newApp(cmd.Context(), cfg, logger); err != nil {
			return err
		}
		defer a.Close()
		ids, err = a.orch.Sweep(cmd.Context())
	}
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Printf("swept %s\n", id)
	}
	fmt.Printf("%d runs swept\n", len(ids))
	return nil
}

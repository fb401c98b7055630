package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/progress"
	"github.com/amishk599/jobsync/internal/watch"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a run's progress",
	Long:  "Attaches to a run on the server at server.base_url, replaying its history first.",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print events as lines instead of the interactive view")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client := watch.NewClient(cfg.Server.BaseURL, nil)

	var final *progress.Event
	if watchPlain {
		ev, err := watch.Print(os.Stdout, client.Stream(ctx, args[0]))
		if err != nil {
			return err
		}
		final = &ev
	} else {
		final, err = watch.Run(ctx, client, args[0])
		if err != nil {
			return err
		}
		if final != nil {
			fmt.Println(watch.Format(*final))
		}
	}

	if final != nil && final.Type == progress.EventError {
		return fmt.Errorf("run %s failed", args[0])
	}
	return nil
}

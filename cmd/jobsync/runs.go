package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/model"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs",
	Long:  "Prints the most recent runs, newest first, with their counters.",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	s, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRecentRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	if runsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	fmt.Printf("%-36s %-10s %-11s %-10s %-20s %-9s %s\n", "Run", "Type", "Source", "Status", "Started", "Duration", "Counters")
	fmt.Println(strings.Repeat("─", 120))
	for _, r := range runs {
		source := r.Source
		if source == "" {
			source = "all"
		}
		fmt.Printf("%-36s %-10s %-11s %-10s %-20s %-9s %s\n",
			r.ID, r.SyncType, source, r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(r), counters(r))
	}
	fmt.Printf("\nTotal: %d runs\n", len(runs))
	return nil
}

func runDuration(r model.SyncRun) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func counters(r model.SyncRun) string {
	if r.SyncType == model.SyncTypeDiscovery {
		return fmt.Sprintf("companies +%d -%d", r.Stats.CompaniesAdded, r.Stats.CompaniesDeleted)
	}
	return fmt.Sprintf("jobs +%d ~%d -%d (%d skipped)", r.Stats.JobsAdded, r.Stats.JobsUpdated, r.Stats.JobsDeleted, r.Stats.JobsSkipped)
}

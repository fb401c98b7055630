package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/dedup"
)

var (
	dedupBy     []string
	dedupDryRun bool
	dedupSource string
	dedupJSON   bool
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Remove duplicate listings",
	Long: "Groups listings whose chosen fields match after normalization and keeps the\n" +
		"earliest created listing of each group.",
	Example: "  jobsync dedup --by title,company --dry-run",
	RunE:    runDedup,
}

func init() {
	dedupCmd.Flags().StringSliceVar(&dedupBy, "by", []string{"title", "company"}, "fields to compare: title, company, salary, description")
	dedupCmd.Flags().BoolVar(&dedupDryRun, "dry-run", false, "report duplicates without deleting them")
	dedupCmd.Flags().StringVar(&dedupSource, "source", "", "only consider listings from this source")
	dedupCmd.Flags().BoolVar(&dedupJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(dedupCmd)
}

func runDedup(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	criteria, err := dedup.ParseCriteria(dedupBy)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	s, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := dedup.New(s, logger).Run(cmd.Context(), dedup.Options{
		Criteria: criteria,
		DryRun:   dedupDryRun,
		Source:   dedupSource,
	})
	if err != nil {
		return err
	}

	if dedupJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, g := range report.Groups {
		fmt.Printf("keep #%d %s @ %s\n", g.Keep.ID, g.Keep.Title, g.Keep.Company)
		for _, l := range g.Remove {
			fmt.Printf("  drop #%d %s\n", l.ID, l.SourceURL)
		}
	}
	verb := "removed"
	if report.DryRun {
		verb = "would remove"
	}
	fmt.Printf("\nScanned %d listings, %d duplicate groups, %s %d\n", report.Scanned, len(report.Groups), verb, report.Removed)
	return nil
}

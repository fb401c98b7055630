package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/config"
	"github.com/amishk599/jobsync/internal/model"
)

var (
	companiesStatus string
	companiesSource string
	addSource       string
	companyName     string
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Inspect and seed followed companies",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured and discovered companies",
	Long:  "Prints the companies from the config followed by the discovery candidates in the store.",
	RunE:  runCompaniesList,
}

var companiesAddCmd = &cobra.Command{
	Use:   "add <slug>...",
	Short: "Queue slugs for the next discovery run",
	Long:  "Adds each slug as a pending candidate; discovery probes it and adds it when it has remote jobs.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompaniesAdd,
}

func init() {
	companiesListCmd.Flags().StringVar(&companiesStatus, "status", "", "only candidates with this status: pending, added, not_found")
	companiesListCmd.Flags().StringVar(&companiesSource, "source", "", "only this source")
	companiesAddCmd.Flags().StringVar(&addSource, "source", config.SourceGreenhouse, "board source of the slugs")
	companiesAddCmd.Flags().StringVar(&companyName, "name", "", "display name (defaults to the slug)")

	companiesCmd.AddCommand(companiesListCmd, companiesAddCmd)
	rootCmd.AddCommand(companiesCmd)
}

func runCompaniesList(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	q := model.CandidateQuery{Source: companiesSource}
	if companiesStatus != "" {
		st, err := model.ParseCompanyStatus(companiesStatus)
		if err != nil {
			return err
		}
		q.Status = st
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	if companiesStatus == "" {
		fmt.Printf("%-25s %-12s %s\n", "Company", "Source", "Slug")
		fmt.Println(strings.Repeat("─", 60))
		n := 0
		for _, c := range cfg.Companies {
			if companiesSource != "" && c.Source != companiesSource {
				continue
			}
			fmt.Printf("%-25s %-12s %s\n", c.Name, c.Source, c.Slug)
			n++
		}
		fmt.Printf("\nConfigured: %d companies\n\n", n)
	}

	s, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	candidates, err := s.ListCandidates(cmd.Context(), q)
	if err != nil {
		return err
	}

	fmt.Printf("%-25s %-12s %-10s %-7s %s\n", "Candidate", "Source", "Status", "Remote", "Probed")
	fmt.Println(strings.Repeat("─", 80))
	counts := make(map[model.CompanyStatus]int)
	for _, c := range candidates {
		probed := "never"
		if c.ProbedAt != nil {
			probed = c.ProbedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%-25s %-12s %-10s %-7d %s\n", c.Slug, c.Source, c.Status, c.RemoteJobs, probed)
		counts[c.Status]++
	}
	fmt.Printf("\nTotal: %d candidates (%d added, %d pending, %d not found)\n",
		len(candidates), counts[model.CompanyAdded], counts[model.CompanyPending], counts[model.CompanyNotFound])
	return nil
}

func runCompaniesAdd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	if !slices.Contains(config.BoardSources, addSource) {
		return fmt.Errorf("%w: %q has no company boards", model.ErrUnknownSource, addSource)
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

	for _, slug := range args {
		slug = strings.ToLower(strings.TrimSpace(slug))
		name := companyName
		if name == "" {
			name = slug
		}
		added, err := s.AddCandidate(cmd.Context(), model.CandidateCompany{
			Source: addSource,
			Slug:   slug,
			Name:   name,
			Status: model.CompanyPending,
		})
		if err != nil {
			return err
		}
		if added {
			fmt.Printf("queued %s/%s\n", addSource, slug)
		} else {
			fmt.Printf("%s/%s is already known\n", addSource, slug)
		}
	}
	return nil
}

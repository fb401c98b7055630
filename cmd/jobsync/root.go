package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobsync/internal/config"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/notifier"
)

var (
	cfgPath string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobsync",
	Short: "Job listing ingestion engine",
	Long: "jobsync pulls listings from job board APIs and aggregator feeds, normalizes and\n" +
		"categorizes them, and discovers new companies to follow.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBSYNC_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBSYNC_CONFIG env var > "./config.yaml".
// A missing ./config.yaml yields the defaults; an explicit path must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("JOBSYNC_CONFIG")
	}
	if path == "" {
		cfg, err := config.Load("config.yaml")
		if errors.Is(err, fs.ErrNotExist) {
			return config.Parse(nil)
		}
		return cfg, err
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.RunNotifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier", "failures_only", cfg.Notification.FailuresOnly)
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, cfg.Notification.FailuresOnly, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/jobsync/internal/dedup"
	"github.com/amishk599/jobsync/internal/scheduler"
	"github.com/amishk599/jobsync/internal/server"
)

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: "Serves sync triggers, run history and progress streams; blocks until SIGINT/SIGTERM,\n" +
		"then waits for in-flight runs to finish.",
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also fire the configured schedule against this server")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

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

	jobs, discovery := a.orch.Sources()
	logger.Info("config loaded",
		"store", cfg.Store.Driver,
		"sources", jobs,
		"discovery", discovery,
		"companies", len(cfg.Companies),
	)

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Orchestrator: a.orch,
		Store:        a.store,
		Broker:       a.broker,
		Deduper:      dedup.New(a.store, logger),
		Logger:       logger,
	})

	var sched *scheduler.Scheduler
	if withScheduler {
		if sched, err = newScheduler(cfg, false, logger); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("goodbye")
	return nil
}

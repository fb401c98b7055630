package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amishk599/jobsync/internal/adapter"
	"github.com/amishk599/jobsync/internal/categorize"
	"github.com/amishk599/jobsync/internal/config"
	"github.com/amishk599/jobsync/internal/discovery"
	"github.com/amishk599/jobsync/internal/filter"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/orchestrator"
	"github.com/amishk599/jobsync/internal/progress"
	"github.com/amishk599/jobsync/internal/ratelimit"
	"github.com/amishk599/jobsync/internal/retry"
	"github.com/amishk599/jobsync/internal/store"
)

// app is the fully wired engine shared by the commands that run syncs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLStore
	broker progress.Broker
	orch   *orchestrator.Orchestrator

	closers []func() error
}

// openStore connects to the configured database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLStore, error) {
	s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	logger.Debug("store opened", "driver", cfg.Store.Driver)
	return s, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: s, closers: []func() error{s.Close}}

	taxonomy := categorize.DefaultTaxonomy()
	if cfg.TaxonomyPath != "" {
		taxonomy, err = categorize.LoadTaxonomy(cfg.TaxonomyPath)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := s.SeedCategories(ctx, taxonomy.Categories); err != nil {
		a.Close()
		return nil, fmt.Errorf("seeding categories: %w", err)
	}
	categorizer := categorize.New(taxonomy)
	classifier := filter.NewRemoteClassifier(cfg.Discovery.RemoteKeywords)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	opts := adapter.Options{
		Client:  httpClient,
		Limiter: ratelimit.NewSourceLimiter(cfg.RateLimit.MinDelay, cfg.RateLimit.SourceOverrides),
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Backoff:     retry.Exponential,
			Jitter:      true,
		},
		Timeout: cfg.Sync.RequestTimeout,
		Logger:  logger,
	}

	var sources []model.SourceAdapter
	for _, name := range cfg.EnabledSources() {
		sc := cfg.Sources[name]
		switch name {
		case config.SourceRemoteOK:
			sources = append(sources, adapter.NewRemoteOK(sc.BaseURL, opts))
		case config.SourceAdzuna:
			sources = append(sources, adapter.NewAdzuna(adapter.AdzunaConfig{
				BaseURL:        sc.BaseURL,
				AppID:          sc.AppID,
				AppKey:         sc.AppKey,
				Country:        sc.Country,
				What:           sc.What,
				ResultsPerPage: sc.ResultsPerPage,
				MaxPages:       cfg.Sync.PageCap,
			}, opts))
		default:
			sources = append(sources, adapter.NewBoardSource(boardFetcher(name, sc, httpClient), opts))
		}
		logger.Debug("registered source", "source", name)
	}

	var probers []orchestrator.Prober
	for _, name := range cfg.Discovery.Sources {
		fetcher := boardFetcher(name, cfg.Sources[name], httpClient)
		probers = append(probers, discovery.NewProber(fetcher, classifier, categorizer, discovery.ProberConfig{
			Delay:    cfg.Discovery.ProbeDelay,
			Attempts: cfg.Discovery.ProbeAttempts,
			Backoff:  cfg.Retry.BaseDelay,
			Timeout:  cfg.Discovery.ProbeTimeout,
		}, logger))
	}

	if cfg.Redis.URL != "" {
		rdb, err := progress.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.broker = progress.NewRedisBroker(rdb, cfg.Redis.Prefix, cfg.Redis.Retention, logger)
		logger.Info("progress relayed through redis", "prefix", cfg.Redis.Prefix)
	} else {
		a.broker = progress.NewHub(cfg.Redis.Retention)
	}

	a.orch = orchestrator.New(orchestrator.Config{
		StalenessWindow:    cfg.Sync.StalenessWindow,
		StuckThreshold:     cfg.Sync.StuckThreshold,
		Concurrency:        cfg.Sync.Concurrency,
		PageCap:            cfg.Sync.PageCap,
		Retention:          cfg.Sync.Retention,
		CandidateRetention: cfg.Discovery.CandidateRetention,
		Companies:          companyRefs(cfg),
		SeedNames:          cfg.Discovery.SeedNames,
	}, orchestrator.Deps{
		Store:       s,
		Sources:     adapter.NewRegistry(sources...),
		Probers:     probers,
		Categorizer: categorizer,
		Classifier:  classifier,
		Broker:      a.broker,
		Notifier:    setupNotifier(cfg, httpClient, logger),
		Logger:      logger,
	})
	return a, nil
}

// Close releases the store and the redis client, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
}

func boardFetcher(name string, sc config.SourceConfig, httpClient *http.Client) model.BoardFetcher {
	switch name {
	case config.SourceLever:
		return adapter.NewLever(httpClient, sc.BaseURL)
	case config.SourceAshby:
		return adapter.NewAshby(httpClient, sc.BaseURL)
	default:
		return adapter.NewGreenhouse(httpClient, sc.BaseURL)
	}
}

func companyRefs(cfg *config.Config) map[string][]model.BoardRef {
	refs := make(map[string][]model.BoardRef)
	for _, c := range cfg.Companies {
		refs[c.Source] = append(refs[c.Source], model.BoardRef{Slug: c.Slug, Name: c.Name})
	}
	return refs
}

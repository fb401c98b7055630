// Package orchestrator owns the SyncRun lifecycle: it enforces per-source
// mutual exclusion, drives source adapters and the company prober, persists
// results and reports progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/jobsync/internal/adapter"
	"github.com/amishk599/jobsync/internal/categorize"
	"github.com/amishk599/jobsync/internal/discovery"
	"github.com/amishk599/jobsync/internal/filter"
	"github.com/amishk599/jobsync/internal/model"
	"github.com/amishk599/jobsync/internal/progress"
)

// Store is everything the orchestrator persists.
type Store interface {
	model.ListingStore
	model.RunStore
	model.CompanyStore
}

// Prober checks one candidate slug on one provider.
type Prober interface {
	Source() string
	Probe(ctx context.Context, slug string) (discovery.Result, error)
}

// Config holds the run policy.
type Config struct {
	StalenessWindow    time.Duration // exclusion window for overlapping starts
	StuckThreshold     time.Duration // age after which the sweep fails a running run
	Concurrency        int           // sources synced in parallel
	PageCap            int           // aggregator page cap
	Retention          time.Duration // prune listings posted longer ago; zero disables
	CandidateRetention time.Duration // prune not_found candidates older than this
	NotifyTimeout      time.Duration

	// Companies are the configured boards per source, always synced.
	Companies map[string][]model.BoardRef
	// SeedNames feed discovery's slug generator.
	SeedNames []string
}

func (c Config) withDefaults() Config {
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = 2 * time.Minute
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = time.Hour
	}
	if c.Concurrency < 1 {
		c.Concurrency = 3
	}
	if c.PageCap < 1 {
		c.PageCap = 5
	}
	if c.CandidateRetention <= 0 {
		c.CandidateRetention = 30 * 24 * time.Hour
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Broker and Notifier are
// optional.
type Deps struct {
	Store       Store
	Sources     *adapter.Registry
	Probers     []Prober
	Categorizer *categorize.Categorizer
	Classifier  *filter.RemoteClassifier
	Broker      progress.Broker
	Notifier    model.RunNotifier
	Logger      *slog.Logger
}

// Request asks for one run. An empty Source means every enabled source.
type Request struct {
	SyncType model.SyncType `json:"sync_type"`
	Source   string         `json:"source,omitempty"`
}

// Orchestrator starts runs and tracks their background tasks.
type Orchestrator struct {
	cfg         Config
	store       Store
	sources     *adapter.Registry
	probers     map[string]Prober
	proberOrder []string
	categorizer *categorize.Categorizer
	classifier  *filter.RemoteClassifier
	broker      progress.Broker
	notifier    model.RunNotifier
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	wg sync.WaitGroup
}

// New wires an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = filter.NewRemoteClassifier(nil)
	}
	categorizer := deps.Categorizer
	if categorizer == nil {
		categorizer = categorize.New(categorize.DefaultTaxonomy())
	}
	sources := deps.Sources
	if sources == nil {
		sources = adapter.NewRegistry()
	}

	o := &Orchestrator{
		cfg:         cfg.withDefaults(),
		store:       deps.Store,
		sources:     sources,
		probers:     make(map[string]Prober),
		categorizer: categorizer,
		classifier:  classifier,
		broker:      deps.Broker,
		notifier:    deps.Notifier,
		logger:      logger.With("component", "orchestrator"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, p := range deps.Probers {
		if _, ok := o.probers[p.Source()]; !ok {
			o.proberOrder = append(o.proberOrder, p.Source())
		}
		o.probers[p.Source()] = p
	}
	return o
}

// Handle is the task handle of a started run.
type Handle struct {
	// Run is the snapshot taken when the run started.
	Run   model.SyncRun
	done  chan struct{}
	final model.SyncRun
}

// Done is closed once the run has reached its terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal run. It blocks until Done.
func (h *Handle) Result() model.SyncRun {
	<-h.done
	return h.final
}

// Wait blocks until the run ends or ctx is done. Giving up on the wait does
// not affect the run.
func (h *Handle) Wait(ctx context.Context) (model.SyncRun, error) {
	select {
	case <-h.done:
		return h.final, nil
	case <-ctx.Done():
		return h.Run, ctx.Err()
	}
}

// Start validates req, atomically creates the running SyncRun and launches
// it in the background. A conflicting run inside the staleness window yields
// *model.ActiveRunError and no new row. The run is detached from ctx: it
// ends only by completing, failing or being swept.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Handle, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	st := &runState{
		run: model.SyncRun{
			ID:        o.newID(),
			SyncType:  req.SyncType,
			Source:    req.Source,
			Status:    model.RunRunning,
			StartedAt: o.now().UTC(),
			Logs:      []model.LogEntry{},
		},
		store:  o.store,
		broker: o.broker,
		now:    o.now,
	}
	st.logger = o.logger.With("run_id", st.run.ID, "sync_type", req.SyncType, "source", req.Source)

	if err := o.store.CreateRun(ctx, &st.run, o.cfg.StalenessWindow); err != nil {
		var active *model.ActiveRunError
		if errors.As(err, &active) {
			o.logger.Info("sync skipped, already running",
				"sync_type", req.SyncType, "source", req.Source, "active_run_id", active.RunID)
			return nil, err
		}
		return nil, fmt.Errorf("creating %s run: %w", req.SyncType, err)
	}

	runCtx := context.WithoutCancel(ctx)
	if err := st.logf(runCtx, model.LogInfo, "%s started%s", req.SyncType, sourceSuffix(req.Source)); err != nil {
		// The row exists; fail it rather than leave it for the sweep.
		st.finish(runCtx, err)
		return nil, err
	}

	h := &Handle{Run: st.snapshot(), done: make(chan struct{})}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		h.final = o.execute(runCtx, st)
	}()
	return h, nil
}

// Run starts a run and waits for it to finish.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.SyncRun, error) {
	h, err := o.Start(ctx, req)
	if err != nil {
		return model.SyncRun{}, err
	}
	return h.Wait(ctx)
}

// Wait blocks until every started run has reached a terminal state.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Sweep fails every run still running after the stuck threshold.
func (o *Orchestrator) Sweep(ctx context.Context) ([]string, error) {
	msg := fmt.Sprintf("run exceeded stuck threshold of %s; marked failed by sweep", o.cfg.StuckThreshold)
	ids, err := o.store.SweepStuckRuns(ctx, o.now().Add(-o.cfg.StuckThreshold), msg)
	if err != nil {
		return nil, fmt.Errorf("sweeping stuck runs: %w", err)
	}
	for _, id := range ids {
		o.logger.Warn("swept stuck run", "run_id", id)
		run, err := o.store.GetRun(ctx, id)
		if err != nil {
			o.logger.Warn("loading swept run", "run_id", id, "error", err)
			continue
		}
		if o.broker != nil {
			if err := o.broker.Publish(ctx, progress.TerminalEvent(run)); err != nil {
				o.logger.Warn("publishing swept run", "run_id", id, "error", err)
			}
		}
		o.notify(ctx, *run)
	}
	return ids, nil
}

// Sources lists the job sources and discovery providers that accept runs.
func (o *Orchestrator) Sources() (jobs, discovery []string) {
	return o.sources.Names(), append([]string(nil), o.proberOrder...)
}

func (o *Orchestrator) validate(req Request) error {
	switch req.SyncType {
	case model.SyncTypeJobs:
		if req.Source != "" {
			if _, err := o.sources.Get(req.Source); err != nil {
				return err
			}
		}
	case model.SyncTypeDiscovery:
		if req.Source != "" {
			if _, ok := o.probers[req.Source]; !ok {
				return fmt.Errorf("%w: %q has no discovery prober", model.ErrUnknownSource, req.Source)
			}
		}
	default:
		_, err := model.ParseSyncType(string(req.SyncType))
		return err
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, st *runState) model.SyncRun {
	var err error
	switch st.run.SyncType {
	case model.SyncTypeDiscovery:
		err = o.discover(ctx, st)
	default:
		err = o.syncJobs(ctx, st)
	}
	final := st.finish(ctx, err)
	o.notify(ctx, final)
	return final
}

func (o *Orchestrator) notify(ctx context.Context, run model.SyncRun) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.NotifyTimeout)
	defer cancel()
	if err := o.notifier.NotifyRun(ctx, run); err != nil {
		o.logger.Warn("run notification failed", "run_id", run.ID, "error", err)
	}
}

func sourceSuffix(source string) string {
	if source == "" {
		return ""
	}
	return " for " + source
}

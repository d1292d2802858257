// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/retailscout/catalog-crawler/internal/api"
	"github.com/retailscout/catalog-crawler/internal/archive"
	archivegcs "github.com/retailscout/catalog-crawler/internal/archive/gcs"
	archivelocal "github.com/retailscout/catalog-crawler/internal/archive/local"
	archivemem "github.com/retailscout/catalog-crawler/internal/archive/memory"
	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	checkpointfile "github.com/retailscout/catalog-crawler/internal/checkpoint/file"
	checkpointmem "github.com/retailscout/catalog-crawler/internal/checkpoint/memory"
	checkpointpg "github.com/retailscout/catalog-crawler/internal/checkpoint/postgres"
	"github.com/retailscout/catalog-crawler/internal/clock/system"
	"github.com/retailscout/catalog-crawler/internal/config"
	"github.com/retailscout/catalog-crawler/internal/fetch"
	"github.com/retailscout/catalog-crawler/internal/hash/sha256"
	"github.com/retailscout/catalog-crawler/internal/id/uuid"
	"github.com/retailscout/catalog-crawler/internal/logging"
	"github.com/retailscout/catalog-crawler/internal/planner"
	"github.com/retailscout/catalog-crawler/internal/progress"
	"github.com/retailscout/catalog-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/retailscout/catalog-crawler/internal/publisher/pubsub"
	"github.com/retailscout/catalog-crawler/internal/scheduler"
	"github.com/retailscout/catalog-crawler/internal/sink"
	"github.com/retailscout/catalog-crawler/internal/state"
)

// App holds the shared, long-lived services: logger, metrics registry,
// progress hub, checkpoint store, and the optional archive and publisher
// clients. Initialized once at startup and shared by the commands.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	hub      *progress.Hub

	checkpoints checkpoint.Store
	archiver    *archive.Archiver
	publisher   catalog.Publisher

	clock  catalog.Clock
	hasher catalog.Hasher
	ids    catalog.IDGenerator

	pubsubClient *pubsub.Client
	gcsClient    *storage.Client

	mu        sync.RWMutex
	run       api.RunInfo
	liveState *state.CrawlState
}

// New builds the container, failing fast when a configured provider cannot
// be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, err
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hub:      hub,
		clock:    system.New(),
		hasher:   sha256.New(),
		ids:      uuid.New(),
		run:      api.RunInfo{State: api.RunIdle},
	}

	if a.checkpoints, err = a.newCheckpointStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchiver(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.String("checkpoint_provider", cfg.Checkpoint.Provider),
		zap.String("archive_provider", cfg.Archive.Provider),
		zap.String("fetch_mode", cfg.Fetch.Mode),
	)
	return a, nil
}

// Logger exposes the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) newCheckpointStore(ctx context.Context) (checkpoint.Store, error) {
	switch a.cfg.Checkpoint.Provider {
	case "memory":
		return checkpointmem.New(), nil
	case "file":
		return checkpointfile.New(checkpointfile.Config{
			BaseDir:      a.cfg.Checkpoint.Dir,
			CompactEvery: a.cfg.Checkpoint.CompactEvery,
		})
	case "postgres":
		store, err := checkpointpg.NewFromDSN(ctx, a.cfg.Checkpoint.DSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres checkpoints: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint provider: %s", a.cfg.Checkpoint.Provider)
	}
}

func (a *App) initArchiver(ctx context.Context) error {
	var store catalog.ArtifactStore
	switch a.cfg.Archive.Provider {
	case "":
		return nil
	case "memory":
		store = archivemem.New()
	case "local":
		s, err := archivelocal.New(archivelocal.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("initialize local archive: %w", err)
		}
		store = s
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		s, err := archivegcs.New(client, archivegcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("initialize gcs archive: %w", err)
		}
		store = s
	default:
		return fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
	a.archiver = archive.NewArchiver(store, a.hasher, a.logger)
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.pubsubClient = client
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return err
	}
	a.publisher = pub
	return nil
}

// BuildPlan resolves the configured category pool and runs the coverage
// sampling pass. Sampling always uses a cheap fetcher: static HTTP, or the
// synthetic generator when configured.
func (a *App) BuildPlan(ctx context.Context) (planner.Plan, error) {
	if len(a.cfg.CategoryURLs) == 0 {
		return planner.Plan{}, errors.New("no category urls configured")
	}
	a.setRun(func(info *api.RunInfo) {
		info.State = api.RunPlanning
	})

	sampler := a.newSampler()
	p := planner.New(planner.Config{
		SamplePages:       a.cfg.Planner.SamplePages,
		SampleParallelism: a.cfg.Planner.SampleParallelism,
		ProbeStore:        catalog.StoreID(a.cfg.Planner.ProbeStore),
		TargetCoverage:    a.cfg.Planner.TargetCoverage,
	}, sampler, a.logger)
	return p.BuildPlan(ctx, a.cfg.CategoryURLs)
}

// Crawl runs the full pipeline: restore any checkpoint for the run, plan if
// the run is fresh, then crawl every (store, selected category) lane. An
// empty runID starts a fresh run under a new id; passing a previous id
// resumes it from the checkpoint's own category selection.
func (a *App) Crawl(ctx context.Context, runID string) (catalog.RunReport, error) {
	stores := a.stores()
	if len(stores) == 0 {
		return catalog.RunReport{}, errors.New("no stores configured")
	}
	if runID == "" {
		var err error
		if runID, err = a.ids.NewID(); err != nil {
			return catalog.RunReport{}, fmt.Errorf("generate run id: %w", err)
		}
	}

	st := state.New(runID)
	products := sink.New()
	cp, restored, err := scheduler.Resume(ctx, a.checkpoints, runID, st, products)
	if err != nil {
		a.finishRun(nil)
		return catalog.RunReport{}, err
	}

	// A resumed run crawls the selection it was planned with: replanning
	// could drop a category whose lanes are still mid-flight in the
	// checkpoint, stranding them.
	var targets []catalog.CategoryTarget
	var plannedCoverage float64
	if restored && len(cp.Targets) > 0 {
		targets = cp.Targets
		plannedCoverage = cp.PlannedCoverage
		a.logger.Info("resuming from checkpoint",
			zap.String("run_id", runID),
			zap.Int("targets", len(targets)),
		)
	} else {
		plan, err := a.BuildPlan(ctx)
		if err != nil {
			a.finishRun(nil)
			return catalog.RunReport{}, err
		}
		targets = plan.Selected
		plannedCoverage = plan.Result.Achieved
		a.logger.Info("plan built",
			zap.String("run_id", runID),
			zap.Int("selected", len(targets)),
			zap.Float64("planned_coverage", plannedCoverage),
			zap.Bool("partial", plan.Result.Partial),
		)
	}

	fetcher, closeFetcher, err := a.newFetcher()
	if err != nil {
		a.finishRun(nil)
		return catalog.RunReport{}, err
	}
	defer closeFetcher()
	if a.archiver != nil {
		fetcher = archive.WrapFetcher(fetcher, a.archiver, runID, a.logger)
	}

	a.setRun(func(info *api.RunInfo) {
		info.RunID = runID
		info.State = api.RunCrawling
		info.StartedAt = a.clock.Now()
		info.Report = nil
	})
	a.setLiveState(st)

	sched := scheduler.New(runID, scheduler.Config{
		MaxParallelStores:  a.cfg.Crawl.MaxParallelStores,
		MaxRetries:         a.cfg.Crawl.MaxRetries,
		MinRequestInterval: a.cfg.Crawl.MinRequestInterval,
		FetchTimeout:       a.cfg.Crawl.FetchTimeout,
		CheckpointInterval: a.cfg.Crawl.CheckpointInterval,
		BackoffBase:        a.cfg.Crawl.BackoffBase,
		BackoffMax:         a.cfg.Crawl.BackoffMax,
		TargetCoverage:     a.cfg.Planner.TargetCoverage,
		PlannedCoverage:    plannedCoverage,
		Topic:              a.cfg.PubSub.Topic,
	}, stores, targets, fetcher, st, products, a.checkpoints,
		a.publisher, a.hub, nil, a.clock, a.logger)

	report, runErr := sched.Run(ctx)
	a.finishRun(&report)
	return report, runErr
}

// ServeAPI runs the operator HTTP server until the context is canceled.
func (a *App) ServeAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewServer(a, a.registry, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("operator api listening", zap.Int("port", a.cfg.Server.Port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

// RunInfo implements api.RunSource with live counters while a crawl is
// executing.
func (a *App) RunInfo() api.RunInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	info := a.run
	if a.liveState != nil {
		info.Counters = a.liveState.Counters()
		info.FailedUnits = a.liveState.FailedUnits()
	}
	return info
}

// Close gracefully shuts down every service; called by a cobra hook after
// the command finishes.
func (a *App) Close() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.hub.Close(closeCtx); err != nil {
		a.logger.Warn("close progress hub", zap.Error(err))
	}
	if dropped := a.hub.Dropped(); dropped > 0 {
		a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
	}
	if err := a.checkpoints.Close(); err != nil {
		a.logger.Warn("close checkpoint store", zap.Error(err))
	}
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("close gcs client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *App) stores() []catalog.Store {
	out := make([]catalog.Store, 0, len(a.cfg.Stores))
	for _, s := range a.cfg.Stores {
		out = append(out, catalog.Store{ID: catalog.StoreID(s.ID), Region: s.Region})
	}
	return out
}

func (a *App) fetchConfig() fetch.Config {
	return fetch.Config{
		UserAgent:         a.cfg.Fetch.UserAgent,
		StoreParam:        a.cfg.Fetch.StoreParam,
		PageParam:         a.cfg.Fetch.PageParam,
		TileSelector:      a.cfg.Fetch.TileSelector,
		ProductIDAttr:     a.cfg.Fetch.ProductIDAttr,
		TitleSelector:     a.cfg.Fetch.TitleSelector,
		PriceSelector:     a.cfg.Fetch.PriceSelector,
		LinkSelector:      a.cfg.Fetch.LinkSelector,
		NextPageSelector:  a.cfg.Fetch.NextPageSelector,
		NavigationTimeout: a.cfg.Fetch.NavigationTimeout,
	}
}

func (a *App) newSampler() catalog.FetchPort {
	if a.cfg.Fetch.Mode == "synthetic" {
		return fetch.NewSynthetic(0, 0)
	}
	return fetch.NewStatic(a.fetchConfig(), a.cfg.Crawl.FetchTimeout)
}

func (a *App) newFetcher() (catalog.FetchPort, func(), error) {
	switch a.cfg.Fetch.Mode {
	case "headless":
		f, err := fetch.NewHeadless(a.fetchConfig(), a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize headless fetcher: %w", err)
		}
		return f, func() {
			if err := f.Close(); err != nil {
				a.logger.Warn("close headless fetcher", zap.Error(err))
			}
		}, nil
	case "static":
		return fetch.NewStatic(a.fetchConfig(), a.cfg.Crawl.FetchTimeout), func() {}, nil
	case "synthetic":
		return fetch.NewSynthetic(0, 0), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown fetch mode: %s", a.cfg.Fetch.Mode)
	}
}

func (a *App) setRun(mutate func(*api.RunInfo)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mutate(&a.run)
}

func (a *App) setLiveState(st *state.CrawlState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liveState = st
}

func (a *App) finishRun(report *catalog.RunReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if report == nil {
		a.run.State = api.RunFailed
		a.liveState = nil
		return
	}
	a.run.State = api.RunDone
	a.run.Report = report
	a.run.Counters = report.Counters
	a.run.FailedUnits = report.FailedUnits
	a.liveState = nil
}

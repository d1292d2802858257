// Package scheduler drives the crawl: it crosses the selected categories with
// the store roster and executes the resulting units over per-store lanes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/progress"
	"github.com/retailscout/catalog-crawler/internal/sink"
	"github.com/retailscout/catalog-crawler/internal/state"
)

// Config controls scheduler behavior.
type Config struct {
	// MaxParallelStores bounds how many store lanes run at once. Units
	// sharing a store are always serialized on one lane; one browser
	// session per store at a time.
	MaxParallelStores int
	// MaxRetries is the per-unit retry budget before permanent failure.
	MaxRetries int
	// MinRequestInterval is the minimum delay between requests on one
	// store session, enforced here rather than in the fetch layer.
	MinRequestInterval time.Duration
	// FetchTimeout bounds a single page fetch.
	FetchTimeout time.Duration
	// CheckpointInterval batches checkpoint flushes; zero flushes after
	// every completed unit transition.
	CheckpointInterval time.Duration
	// BackoffBase and BackoffMax shape the retry backoff curve.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// TargetCoverage and PlannedCoverage are carried into the run report.
	TargetCoverage  float64
	PlannedCoverage float64
	// Topic, when set with a publisher, receives unit completion events.
	Topic string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Scheduler owns the crawl loop. The state store and sink are the only shared
// mutable state; each lane is the single writer for its own units.
type Scheduler struct {
	cfg         Config
	runID       string
	stores      []catalog.Store
	targets     []catalog.CategoryTarget
	fetcher     catalog.FetchPort
	st          *state.CrawlState
	products    *sink.Sink
	checkpoints checkpoint.Store
	publisher   catalog.Publisher
	emitter     progress.Emitter
	retry       RetryPolicy
	clock       catalog.Clock
	logger      *zap.Logger

	flushMu   sync.Mutex
	lastFlush time.Time
}

// New constructs a Scheduler. Publisher and emitter are optional; a nil retry
// policy gets the exponential default shaped by cfg.
func New(
	runID string,
	cfg Config,
	stores []catalog.Store,
	targets []catalog.CategoryTarget,
	fetcher catalog.FetchPort,
	st *state.CrawlState,
	products *sink.Sink,
	checkpoints checkpoint.Store,
	publisher catalog.Publisher,
	emitter progress.Emitter,
	retry RetryPolicy,
	clock catalog.Clock,
	logger *zap.Logger,
) *Scheduler {
	if retry == nil {
		retry = NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax)
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:         cfg,
		runID:       runID,
		stores:      stores,
		targets:     targets,
		fetcher:     fetcher,
		st:          st,
		products:    products,
		checkpoints: checkpoints,
		publisher:   publisher,
		emitter:     emitter,
		retry:       retry,
		clock:       clock,
		logger:      logger,
	}
}

// Resume loads the run's checkpoint, if any, into the state store and sink,
// and returns it so the caller can drive the crawl from the persisted
// category selection instead of replanning. Returns false when the run
// starts fresh.
func Resume(
	ctx context.Context,
	store checkpoint.Store,
	runID string,
	st *state.CrawlState,
	products *sink.Sink,
) (state.Checkpoint, bool, error) {
	cp, err := store.Load(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return state.Checkpoint{}, false, nil
	}
	if err != nil {
		return state.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	st.Restore(cp)
	products.Restore(cp.Products, cp.CategoryProducts, cp.Origins, cp.Counters.ProductsSeen)
	return cp, true, nil
}

// Run executes the crawl until every lane drains, the context is canceled, or
// checkpoint persistence fails. The returned report is valid in all cases; a
// canceled run resumes cleanly from the last flushed checkpoint.
func (s *Scheduler) Run(ctx context.Context) (catalog.RunReport, error) {
	started := s.clock.Now()
	for _, store := range s.stores {
		for _, target := range s.targets {
			s.st.AddLane(store.ID, target.CanonicalID)
		}
	}
	s.emit(progress.Event{RunID: s.runID, TS: started, Stage: progress.StageRunStart})

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MaxParallelStores > 0 {
		g.SetLimit(s.cfg.MaxParallelStores)
	}
	for _, store := range s.stores {
		g.Go(func() error {
			return s.runLane(gctx, store)
		})
	}
	runErr := g.Wait()

	// Final flush with a fresh context so a canceled run still checkpoints.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.flush(flushCtx); err != nil {
		s.logger.Error("final checkpoint flush failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	report := s.buildReport(started)
	s.emit(progress.Event{
		RunID: s.runID,
		TS:    report.FinishedAt,
		Stage: progress.StageRunDone,
		Dur:   report.FinishedAt.Sub(started),
		Note:  fmt.Sprintf("unique=%d failed=%d", report.Counters.UniqueProducts, report.Counters.UnitsFailed),
	})
	s.publishReport(report)
	return report, runErr
}

// runLane serializes every category of one store onto a single session lane.
func (s *Scheduler) runLane(ctx context.Context, store catalog.Store) error {
	if sessions, ok := s.fetcher.(catalog.SessionFetchPort); ok {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sessions.CloseStore(closeCtx, store.ID); err != nil {
				s.logger.Warn("close store session", zap.String("store", string(store.ID)), zap.Error(err))
			}
		}()
	}

	limit := rate.Inf
	if s.cfg.MinRequestInterval > 0 {
		limit = rate.Every(s.cfg.MinRequestInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, target := range s.targets {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.crawlCategory(ctx, store, target, limiter); err != nil {
			return err
		}
	}
	return nil
}

// crawlCategory paginates one (store, category) lane. Page N+1 is only
// scheduled after page N succeeded with hasMore=true. The returned error is
// fatal to the run; per-unit fetch failures are absorbed here.
func (s *Scheduler) crawlCategory(
	ctx context.Context,
	store catalog.Store,
	target catalog.CategoryTarget,
	limiter *rate.Limiter,
) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		page, ok := s.st.NextPending(store.ID, target.CanonicalID)
		if !ok {
			return nil
		}
		unit := catalog.CrawlUnit{StoreID: store.ID, CanonicalID: target.CanonicalID, Page: page}

		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := s.st.MarkInFlight(unit); err != nil {
			return fmt.Errorf("mark in-flight: %w", err)
		}
		s.emitUnit(progress.StageUnitStart, unit, 0, 0, "")

		start := s.clock.Now()
		res, err := s.fetchUnit(ctx, unit, target)
		if err != nil {
			if fatalErr := s.handleFailure(ctx, unit, err); fatalErr != nil {
				return fatalErr
			}
			continue
		}

		seen, newUnique := s.products.Ingest(res.Products, unit)
		s.st.RecordIngest(seen, newUnique)
		if err := s.st.MarkDone(unit, res.HasMore); err != nil {
			return fmt.Errorf("mark done: %w", err)
		}
		s.emitUnit(progress.StageUnitDone, unit, seen, s.clock.Now().Sub(start), "")
		s.publishUnit(ctx, unit, seen, res.HasMore)

		if err := s.maybeFlush(ctx); err != nil {
			return err
		}
	}
}

func (s *Scheduler) fetchUnit(
	ctx context.Context,
	unit catalog.CrawlUnit,
	target catalog.CategoryTarget,
) (catalog.FetchResult, error) {
	fetchCtx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}
	res, err := s.fetcher.FetchPage(fetchCtx, unit, target)
	if err != nil {
		var fe *catalog.FetchError
		if !errors.As(err, &fe) && errors.Is(err, context.DeadlineExceeded) {
			err = catalog.NewFetchError(catalog.FetchTimeout, unit, err)
		}
		return catalog.FetchResult{}, err
	}
	return res, nil
}

// handleFailure requeues or permanently fails the unit. Each FetchError kind
// is logged distinctly for operator diagnosis but retried identically.
func (s *Scheduler) handleFailure(ctx context.Context, unit catalog.CrawlUnit, err error) error {
	kind := catalog.FetchErrorKind("unknown")
	var fe *catalog.FetchError
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	s.logger.Warn("unit fetch failed",
		zap.String("store", string(unit.StoreID)),
		zap.String("category", string(unit.CanonicalID)),
		zap.Int("page", unit.Page),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	retries, markErr := s.st.MarkFailed(unit, err.Error())
	if markErr != nil {
		s.logger.Warn("mark failed rejected", zap.Error(markErr))
		return nil
	}

	if ctx.Err() != nil {
		// Cancellation: the unit stays Pending so a later restore retries it.
		return nil
	}

	if s.retry.ShouldRetry(err, retries) {
		s.emitUnit(progress.StageUnitRetry, unit, 0, 0, err.Error())
		s.pause(ctx, s.retry.Backoff(retries))
		return nil
	}

	if permErr := s.st.MarkFailedPermanent(unit, err.Error()); permErr != nil {
		return fmt.Errorf("mark failed permanent: %w", permErr)
	}
	s.emitUnit(progress.StageUnitFailed, unit, 0, 0, err.Error())
	return s.maybeFlush(ctx)
}

func (s *Scheduler) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *Scheduler) maybeFlush(ctx context.Context) error {
	if s.cfg.CheckpointInterval > 0 {
		s.flushMu.Lock()
		due := s.clock.Now().Sub(s.lastFlush) >= s.cfg.CheckpointInterval
		s.flushMu.Unlock()
		if !due {
			return nil
		}
	}
	return s.flush(ctx)
}

// flush persists the full checkpoint: lane states, counters, and the dedup
// sink's product set. A flush failure is fatal to the run; prior checkpoints
// stay intact.
func (s *Scheduler) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	cp := s.st.Snapshot()
	cp.Targets = s.targets
	cp.PlannedCoverage = s.cfg.PlannedCoverage
	cp.Products = s.products.Products()
	cp.CategoryProducts = s.products.CoverageByCategory()
	cp.Origins = s.products.Origins()
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.lastFlush = s.clock.Now()
	return nil
}

func (s *Scheduler) buildReport(started time.Time) catalog.RunReport {
	restored, added := s.st.RestoredLanes()
	return catalog.RunReport{
		RunID:            s.runID,
		StartedAt:        started,
		FinishedAt:       s.clock.Now(),
		Counters:         s.st.Counters(),
		FailedUnits:      s.st.FailedUnits(),
		TargetCoverage:   s.cfg.TargetCoverage,
		AchievedCoverage: s.cfg.PlannedCoverage,
		RestoredLanes:    restored,
		NewLanes:         added,
	}
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(evt)
}

func (s *Scheduler) emitUnit(stage progress.Stage, unit catalog.CrawlUnit, products int64, dur time.Duration, note string) {
	s.emit(progress.Event{
		RunID:       s.runID,
		TS:          s.clock.Now(),
		Stage:       stage,
		StoreID:     string(unit.StoreID),
		CanonicalID: string(unit.CanonicalID),
		Page:        unit.Page,
		Products:    products,
		Dur:         dur,
		Note:        note,
	})
}

func (s *Scheduler) publishUnit(ctx context.Context, unit catalog.CrawlUnit, products int64, hasMore bool) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    s.runID,
		"store_id":  unit.StoreID,
		"category":  unit.CanonicalID,
		"page":      unit.Page,
		"products":  products,
		"has_more":  hasMore,
		"timestamp": s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.logger.Warn("publish unit event", zap.Error(err))
	}
}

func (s *Scheduler) publishReport(report catalog.RunReport) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, report); err != nil {
		s.logger.Warn("publish run report", zap.Error(err))
	}
}

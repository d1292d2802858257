// Package planner turns a raw category URL pool into a crawl plan: resolve
// canonical ids, sample each representative category cheaply, then select the
// subset that reaches the target product coverage.
package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Config controls the sampling pass.
type Config struct {
	// SamplePages is how many listing pages are probed per category.
	SamplePages int
	// SampleParallelism bounds concurrent category probes.
	SampleParallelism int
	// ProbeStore is the store context used for sampling. Assortments differ
	// per store, but one probe store approximates relative category overlap
	// well enough for planning.
	ProbeStore catalog.StoreID
	// TargetCoverage is the fraction of sampled products the selected
	// categories must cover.
	TargetCoverage float64
}

func (c Config) withDefaults() Config {
	if c.SamplePages <= 0 {
		c.SamplePages = 2
	}
	if c.SampleParallelism <= 0 {
		c.SampleParallelism = 4
	}
	if c.TargetCoverage <= 0 {
		c.TargetCoverage = 0.95
	}
	return c
}

// Plan is the planner output: the categories to crawl, in selection order,
// plus the cover computation detail.
type Plan struct {
	Selected []catalog.CategoryTarget
	Result   catalog.PlanResult
	Samples  []catalog.CoverageSample
}

// Planner runs the sampling pass with any FetchPort; production wiring uses
// the cheap static fetcher since sampling tolerates missing JS-only tiles.
type Planner struct {
	cfg     Config
	fetcher catalog.FetchPort
	logger  *zap.Logger
}

// New builds a Planner.
func New(cfg Config, fetcher catalog.FetchPort, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg.withDefaults(), fetcher: fetcher, logger: logger}
}

// BuildPlan resolves the URL pool, samples every representative category, and
// returns the greedy cover selection. A category whose probe fails yields an
// empty sample: it stays in the pool but can never be selected, and the
// planner logs the gap instead of aborting the whole plan.
func (p *Planner) BuildPlan(ctx context.Context, rawURLs []string) (Plan, error) {
	groups, err := catalog.GroupByCanonicalID(rawURLs)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve category pool: %w", err)
	}
	reps, err := catalog.SelectRepresentatives(groups)
	if err != nil {
		return Plan{}, fmt.Errorf("select representatives: %w", err)
	}
	byID := make(map[catalog.CanonicalID]catalog.CategoryTarget, len(reps))
	for _, target := range reps {
		byID[target.CanonicalID] = target
	}

	samples := make([]catalog.CoverageSample, len(reps))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SampleParallelism)
	for i, target := range reps {
		g.Go(func() error {
			sample := p.sample(gctx, target)
			mu.Lock()
			samples[i] = sample
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, fmt.Errorf("sampling pass: %w", err)
	}

	result, err := catalog.Plan(samples, p.cfg.TargetCoverage)
	if err != nil {
		return Plan{}, err
	}

	selected := make([]catalog.CategoryTarget, 0, len(result.Selected))
	for _, id := range result.Selected {
		selected = append(selected, byID[id])
	}
	return Plan{Selected: selected, Result: result, Samples: samples}, nil
}

// sample probes the first pages of one category and collects product ids.
// Pages after the first failure are skipped; partial samples still inform
// the cover computation.
func (p *Planner) sample(ctx context.Context, target catalog.CategoryTarget) catalog.CoverageSample {
	sample := catalog.CoverageSample{
		CanonicalID: target.CanonicalID,
		ProductIDs:  make(map[string]struct{}),
	}
	for page := catalog.FirstPage; page < catalog.FirstPage+p.cfg.SamplePages; page++ {
		unit := catalog.CrawlUnit{StoreID: p.cfg.ProbeStore, CanonicalID: target.CanonicalID, Page: page}
		res, err := p.fetcher.FetchPage(ctx, unit, target)
		if err != nil {
			p.logger.Warn("category probe failed",
				zap.String("category", string(target.CanonicalID)),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		for _, product := range res.Products {
			if product.ProductID == "" {
				continue
			}
			sample.ProductIDs[product.ProductID] = struct{}{}
		}
		if !res.HasMore {
			break
		}
	}
	return sample
}

// SortedSampleSizes summarizes sample cardinality per category for reporting.
func SortedSampleSizes(samples []catalog.CoverageSample) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, fmt.Sprintf("%s:%d", s.CanonicalID, len(s.ProductIDs)))
	}
	sort.Strings(out)
	return out
}

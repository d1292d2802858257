package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/api"
	"github.com/retailscout/catalog-crawler/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 0},
		Logging: config.LoggingConfig{Development: true, Level: "error"},
		Crawl: config.CrawlConfig{
			MaxParallelStores: 2,
			MaxRetries:        2,
			FetchTimeout:      5 * time.Second,
			BackoffBase:       time.Millisecond,
			BackoffMax:        2 * time.Millisecond,
		},
		Planner: config.PlannerConfig{
			SamplePages:    1,
			ProbeStore:     "probe",
			TargetCoverage: 1,
		},
		Fetch:      config.FetchConfig{Mode: "synthetic"},
		Checkpoint: config.CheckpointConfig{Provider: "memory"},
		Archive:    config.ArchiveConfig{Provider: "memory"},
		Stores: []config.StoreConfig{
			{ID: "s100", Region: "northeast"},
			{ID: "s200", Region: "southwest"},
		},
		CategoryURLs: []string{
			"https://shop.example.com/c/bathtubs/N-5024",
			"https://shop.example.com/c/bathtubs/clawfoot/N-5024",
			"https://shop.example.com/c/faucets/N-6100",
		},
	}
}

func TestNewInitializesServices(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Logger())
	info := a.RunInfo()
	assert.Equal(t, api.RunIdle, info.State)
}

func TestNewRejectsUnknownCheckpointProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Checkpoint.Provider = "redis"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildPlanCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	plan, err := a.BuildPlan(context.Background())
	require.NoError(t, err)

	// Three urls but only two canonical categories.
	assert.Len(t, plan.Samples, 2)
	assert.Len(t, plan.Selected, 2)
}

func TestCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	report, err := a.Crawl(context.Background(), "")
	require.NoError(t, err)

	// Synthetic fetch: 2 stores x 2 categories x 3 pages of 24 products,
	// with product ids shared across stores.
	assert.Equal(t, int64(12), report.Counters.PagesFetched)
	assert.Equal(t, int64(4), report.Counters.UnitsDone)
	assert.Equal(t, int64(144), report.Counters.UniqueProducts)
	assert.Equal(t, int64(288), report.Counters.ProductsSeen)
	assert.Empty(t, report.FailedUnits)
	assert.NotEmpty(t, report.RunID)

	info := a.RunInfo()
	assert.Equal(t, api.RunDone, info.State)
	require.NotNil(t, info.Report)
	assert.Equal(t, report.RunID, info.Report.RunID)
}

func TestCrawlRequiresStores(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Stores = nil
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Crawl(context.Background(), "")
	require.Error(t, err)
}

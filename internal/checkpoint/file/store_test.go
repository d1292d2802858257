package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/state"
)

func testCheckpoint(runID string, pages int64) state.Checkpoint {
	return state.Checkpoint{
		RunID:   runID,
		SavedAt: time.Now().UTC().Truncate(time.Second),
		Lanes: []state.LaneCheckpoint{
			{StoreID: "s1", CanonicalID: "c1", Status: catalog.UnitPending, NextPage: 3},
		},
		Counters: catalog.Counters{PagesFetched: pages},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	cp := testCheckpoint("run-a", 7)
	require.NoError(t, store.Save(context.Background(), cp))

	loaded, err := store.Load(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, cp.Counters, loaded.Counters)
	require.Equal(t, cp.Lanes, loaded.Lanes)
}

func TestLoadReturnsLatestEntry(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Save(context.Background(), testCheckpoint("run-a", i)))
	}
	loaded, err := store.Load(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, int64(5), loaded.Counters.PagesFetched)
}

func TestLoadMissingRun(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "absent")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestCompactionKeepsLatest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir, CompactEvery: 3})
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, store.Save(context.Background(), testCheckpoint("run-a", i)))
	}

	data, err := os.ReadFile(filepath.Join(dir, "run-a.jsonl"))
	require.NoError(t, err)
	require.Equal(t, 1, countLines(data), "journal should hold only the compacted entry")

	loaded, err := store.Load(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, int64(3), loaded.Counters.PagesFetched)
}

func TestLoadSkipsTruncatedTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), testCheckpoint("run-a", 9)))

	// Simulate a crash mid-append: garbage after the last good entry.
	f, err := os.OpenFile(filepath.Join(dir, "run-a.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"run_id":"run-a","counters":{"pages_fe`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := store.Load(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, int64(9), loaded.Counters.PagesFetched)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

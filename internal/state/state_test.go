package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

func unit(store, id string, page int) catalog.CrawlUnit {
	return catalog.CrawlUnit{
		StoreID:     catalog.StoreID(store),
		CanonicalID: catalog.CanonicalID(id),
		Page:        page,
	}
}

func TestLaneLifecycle(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")

	page, ok := s.NextPending("s1", "c1")
	require.True(t, ok)
	require.Equal(t, catalog.FirstPage, page)

	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))
	_, ok = s.NextPending("s1", "c1")
	require.False(t, ok, "in-flight lane must not be offered again")

	require.NoError(t, s.MarkDone(unit("s1", "c1", 1), true))
	page, ok = s.NextPending("s1", "c1")
	require.True(t, ok)
	require.Equal(t, 2, page, "cursor advances without gaps")

	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 2)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 2), false))
	_, ok = s.NextPending("s1", "c1")
	require.False(t, ok, "lane closed by hasMore=false")
	require.Equal(t, int64(1), s.Counters().UnitsDone)
}

func TestDoneNeverRegresses(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 1), false))

	require.Error(t, s.MarkInFlight(unit("s1", "c1", 1)))
	_, err := s.MarkFailed(unit("s1", "c1", 1), "late failure")
	require.Error(t, err)
	require.Error(t, s.MarkFailedPermanent(unit("s1", "c1", 1), "late failure"))
}

func TestMarkFailedRequeuesAndCounts(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))

	retries, err := s.MarkFailed(unit("s1", "c1", 1), "timeout")
	require.NoError(t, err)
	require.Equal(t, 1, retries)

	page, ok := s.NextPending("s1", "c1")
	require.True(t, ok)
	require.Equal(t, 1, page, "failed page is retried, not skipped")

	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))
	retries, err = s.MarkFailed(unit("s1", "c1", 1), "timeout")
	require.NoError(t, err)
	require.Equal(t, 2, retries)

	require.NoError(t, s.MarkFailedPermanent(unit("s1", "c1", 1), "retries exhausted"))
	failed := s.FailedUnits()
	require.Len(t, failed, 1)
	require.Equal(t, "retries exhausted", failed[0].Reason)
	require.Equal(t, int64(1), s.Counters().UnitsFailed)

	_, ok = s.NextPending("s1", "c1")
	require.False(t, ok)
}

func TestPageCursorMismatchRejected(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")
	require.Error(t, s.MarkInFlight(unit("s1", "c1", 3)))
}

func TestSnapshotRestoreRequeuesInFlight(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")
	s.AddLane("s1", "c2")
	s.AddLane("s2", "c1")

	// c1 progresses to page 3 then crashes mid-flight; c2 completes.
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 1), true))
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 2)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 2), true))
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 3)))

	require.NoError(t, s.MarkInFlight(unit("s1", "c2", 1)))
	require.NoError(t, s.MarkDone(unit("s1", "c2", 1), false))

	cp := s.Snapshot()
	require.Len(t, cp.Lanes, 3)

	restoredState := New("run-1")
	restoredState.Restore(cp)

	// The in-flight page is offered again after restore.
	page, ok := restoredState.NextPending("s1", "c1")
	require.True(t, ok)
	require.Equal(t, 3, page)

	// The closed lane stays closed.
	_, ok = restoredState.NextPending("s1", "c2")
	require.False(t, ok)

	// The untouched lane resumes from the first page.
	page, ok = restoredState.NextPending("s2", "c1")
	require.True(t, ok)
	require.Equal(t, catalog.FirstPage, page)

	restored, added := restoredState.RestoredLanes()
	require.Equal(t, 3, restored)
	require.Equal(t, 0, added)
	require.Equal(t, cp.Counters, restoredState.Counters())
}

func TestIsReplayFence(t *testing.T) {
	t.Parallel()

	s := New("run-1")
	s.AddLane("s1", "c1")
	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 1)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 1), true))

	require.True(t, s.IsReplay(unit("s1", "c1", 1)), "recorded page is a replay")
	require.False(t, s.IsReplay(unit("s1", "c1", 2)), "current cursor is not a replay")

	require.NoError(t, s.MarkInFlight(unit("s1", "c1", 2)))
	require.NoError(t, s.MarkDone(unit("s1", "c1", 2), false))
	require.True(t, s.IsReplay(unit("s1", "c1", 99)), "closed lane rejects everything")
}

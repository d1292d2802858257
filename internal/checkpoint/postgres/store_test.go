package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/state"
)

func TestSaveAppendsAndPrunes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cp := state.Checkpoint{
		RunID:    "run-a",
		SavedAt:  time.Now().UTC(),
		Counters: catalog.Counters{PagesFetched: 4},
	}

	mock.ExpectExec("INSERT INTO crawl_checkpoints").
		WithArgs("run-a", cp.SavedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM crawl_checkpoints").
		WithArgs("run-a", keepVersions).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	store := New(mock)
	require.NoError(t, store.Save(context.Background(), cp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadLatestVersion(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := state.Checkpoint{
		RunID: "run-a",
		Lanes: []state.LaneCheckpoint{
			{StoreID: "s1", CanonicalID: "c1", Status: catalog.UnitDone, NextPage: 8},
		},
		Counters: catalog.Counters{UnitsDone: 1},
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM crawl_checkpoints").
		WithArgs("run-a").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	store := New(mock)
	got, err := store.Load(context.Background(), "run-a")
	require.NoError(t, err)
	require.Equal(t, want.Lanes, got.Lanes)
	require.Equal(t, want.Counters, got.Counters)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMissingRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT payload FROM crawl_checkpoints").
		WithArgs("absent").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	store := New(mock)
	_, err = store.Load(context.Background(), "absent")
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSaveSurfacesPersistenceError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO crawl_checkpoints").
		WithArgs("run-a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(context.DeadlineExceeded)

	store := New(mock)
	saveErr := store.Save(context.Background(), state.Checkpoint{RunID: "run-a"})
	var perr *catalog.PersistenceError
	require.ErrorAs(t, saveErr, &perr)
	require.Equal(t, "insert", perr.Op)
}

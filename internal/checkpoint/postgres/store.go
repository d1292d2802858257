// Package postgres provides a Postgres-backed checkpoint store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/state"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// keepVersions bounds the checkpoint history retained per run. Saves append
// a new version, then prune beyond this depth; the latest row is never
// rewritten in place.
const keepVersions = 3

const (
	insertSQL = `
		INSERT INTO crawl_checkpoints (run_id, saved_at, payload)
		VALUES ($1, $2, $3);
	`
	pruneSQL = `
		DELETE FROM crawl_checkpoints
		WHERE run_id = $1 AND seq < (
			SELECT COALESCE(MAX(seq), 0) - $2 FROM crawl_checkpoints WHERE run_id = $1
		);
	`
	loadSQL = `
		SELECT payload FROM crawl_checkpoints
		WHERE run_id = $1 ORDER BY seq DESC LIMIT 1;
	`
)

// Store persists checkpoints as versioned JSONB rows.
type Store struct {
	db DB
}

// New creates a Store over an existing pool or mock.
func New(db DB) *Store {
	return &Store{db: db}
}

// NewFromDSN dials a pgx pool and wraps it in a Store.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: pool}, nil
}

// Save appends a new checkpoint version and prunes stale ones.
func (s *Store) Save(ctx context.Context, cp state.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return &catalog.PersistenceError{Op: "encode", Err: err}
	}
	if _, err := s.db.Exec(ctx, insertSQL, cp.RunID, cp.SavedAt, payload); err != nil {
		return &catalog.PersistenceError{Op: "insert", Err: err}
	}
	if _, err := s.db.Exec(ctx, pruneSQL, cp.RunID, keepVersions); err != nil {
		return &catalog.PersistenceError{Op: "prune", Err: err}
	}
	return nil
}

// Load returns the newest checkpoint version for the run.
func (s *Store) Load(ctx context.Context, runID string) (state.Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, loadSQL, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return state.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return state.Checkpoint{}, &catalog.PersistenceError{Op: "select", Err: err}
	}
	var cp state.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return state.Checkpoint{}, &catalog.PersistenceError{Op: "decode", Err: err}
	}
	return cp, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

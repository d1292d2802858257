// Package memory provides an in-memory checkpoint store for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/state"
)

// Store keeps checkpoints in a map. Progress does not survive the process;
// use the file or postgres store for real runs.
type Store struct {
	mu    sync.RWMutex
	byRun map[string]state.Checkpoint
	saves int
}

// New constructs a Store.
func New() *Store {
	return &Store{byRun: make(map[string]state.Checkpoint)}
}

// Save replaces the checkpoint for the run.
func (s *Store) Save(_ context.Context, cp state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRun[cp.RunID] = cp
	s.saves++
	return nil
}

// Load returns the latest checkpoint for the run.
func (s *Store) Load(_ context.Context, runID string) (state.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byRun[runID]
	if !ok {
		return state.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

// Saves reports how many saves were applied, for test assertions.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

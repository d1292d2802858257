// Package file implements a local filesystem checkpoint store.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/checkpoint"
	"github.com/retailscout/catalog-crawler/internal/state"
)

// Config captures the parameters for the file checkpoint store.
type Config struct {
	// BaseDir is the directory holding one journal per run.
	BaseDir string `mapstructure:"base_dir"`
	// CompactEvery bounds journal growth: after this many appended entries
	// the journal is rewritten with only the latest checkpoint.
	CompactEvery int `mapstructure:"compact_every"`
}

const defaultCompactEvery = 64

// Store journals checkpoints as JSON lines. Saves append; compaction writes a
// fresh file and renames it into place, so a crash mid-write never corrupts
// the prior checkpoint.
type Store struct {
	mu       sync.Mutex
	baseDir  string
	every    int
	appended map[string]int
}

// New validates the base directory and constructs a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	return &Store{
		baseDir:  cfg.BaseDir,
		every:    every,
		appended: make(map[string]int),
	}, nil
}

// Save appends the checkpoint to the run's journal, compacting when due.
func (s *Store) Save(_ context.Context, cp state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		return &catalog.PersistenceError{Op: "encode", Err: err}
	}
	path := s.journalPath(cp.RunID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return &catalog.PersistenceError{Op: "open journal", Err: err}
	}
	_, writeErr := f.Write(append(data, '\n'))
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil {
		return &catalog.PersistenceError{Op: "append", Err: writeErr}
	}
	if syncErr != nil {
		return &catalog.PersistenceError{Op: "sync", Err: syncErr}
	}
	if closeErr != nil {
		return &catalog.PersistenceError{Op: "close", Err: closeErr}
	}

	s.appended[cp.RunID]++
	if s.appended[cp.RunID] >= s.every {
		if err := s.compact(cp.RunID, data); err != nil {
			return err
		}
		s.appended[cp.RunID] = 0
	}
	return nil
}

// compact rewrites the journal with only the latest entry via rename, never
// truncating the live file in place.
func (s *Store) compact(runID string, latest []byte) error {
	path := s.journalPath(runID)
	tmp := path + ".compact"
	if err := os.WriteFile(tmp, append(latest, '\n'), 0o600); err != nil {
		return &catalog.PersistenceError{Op: "compact write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &catalog.PersistenceError{Op: "compact rename", Err: err}
	}
	return nil
}

// Load returns the last decodable journal entry for the run. A trailing
// partial line from an interrupted append is skipped.
func (s *Store) Load(_ context.Context, runID string) (state.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.journalPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return state.Checkpoint{}, checkpoint.ErrNotFound
		}
		return state.Checkpoint{}, &catalog.PersistenceError{Op: "open journal", Err: err}
	}
	defer f.Close()

	var latest state.Checkpoint
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp state.Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			continue
		}
		latest = cp
		found = true
	}
	if err := scanner.Err(); err != nil {
		return state.Checkpoint{}, &catalog.PersistenceError{Op: "scan journal", Err: err}
	}
	if !found {
		return state.Checkpoint{}, checkpoint.ErrNotFound
	}
	return latest, nil
}

// Close is a no-op; every Save syncs before returning.
func (s *Store) Close() error {
	return nil
}

func (s *Store) journalPath(runID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, runID)
	return filepath.Join(s.baseDir, safe+".jsonl")
}

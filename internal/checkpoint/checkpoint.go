// Package checkpoint persists crawl checkpoints so a supervisor can kill and
// restart the crawler without losing more than one in-flight batch.
package checkpoint

import (
	"context"
	"errors"

	"github.com/retailscout/catalog-crawler/internal/state"
)

// ErrNotFound indicates no checkpoint exists for the run.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the key-value contract over crawl checkpoints. Writes are
// append-then-compact: a failed Save must never corrupt a prior checkpoint.
type Store interface {
	Save(ctx context.Context, cp state.Checkpoint) error
	Load(ctx context.Context, runID string) (state.Checkpoint, error)
	Close() error
}

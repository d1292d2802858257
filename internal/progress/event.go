// Package progress defines the event stream emitted by the crawl scheduler.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageUnitStart  Stage = "UNIT_START"
	StageUnitDone   Stage = "UNIT_DONE"
	StageUnitRetry  Stage = "UNIT_RETRY"
	StageUnitFailed Stage = "UNIT_FAILED"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies the crawl run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or unit milestone occurred.
	Stage Stage
	// StoreID and CanonicalID scope unit events to one lane.
	StoreID     string
	CanonicalID string
	// Page is the pagination cursor for unit events.
	Page int
	// Products counts listings extracted by the fetch.
	Products int64
	// Dur captures fetch latency or total run wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageUnitStart, StageUnitDone, StageUnitRetry, StageUnitFailed:
		if e.StoreID == "" || e.CanonicalID == "" {
			return fmt.Errorf("%s requires store and canonical id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

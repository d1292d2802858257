// Package state tracks resumable crawl progress per (store, category) lane.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// LaneKey addresses one (store, category) pagination lane. Progress is kept
// as "next cursor to fetch", not one row per page.
type LaneKey struct {
	StoreID     catalog.StoreID
	CanonicalID catalog.CanonicalID
}

func (k LaneKey) String() string {
	return string(k.StoreID) + "/" + string(k.CanonicalID)
}

// LaneCheckpoint is the durable projection of one lane.
type LaneCheckpoint struct {
	StoreID     catalog.StoreID     `json:"store_id"`
	CanonicalID catalog.CanonicalID `json:"canonical_id"`
	Status      catalog.UnitStatus  `json:"status"`
	NextPage    int                 `json:"next_page"`
	Retries     int                 `json:"retries"`
	Reason      string              `json:"reason,omitempty"`
}

// Checkpoint is the full durable projection of a run: every lane, the
// aggregate counters, the deduplicated product set accumulated so far, and
// the category selection the run was planned with. Persisting the selection
// lets a resumed run drive the exact same lanes without replanning.
type Checkpoint struct {
	RunID            string                        `json:"run_id"`
	SavedAt          time.Time                     `json:"saved_at"`
	Lanes            []LaneCheckpoint              `json:"lanes"`
	Counters         catalog.Counters              `json:"counters"`
	Targets          []catalog.CategoryTarget      `json:"targets,omitempty"`
	PlannedCoverage  float64                       `json:"planned_coverage,omitempty"`
	Products         []catalog.Product             `json:"products,omitempty"`
	CategoryProducts map[catalog.CanonicalID]int64 `json:"category_products,omitempty"`
	Origins          []catalog.CrawlUnit           `json:"origins,omitempty"`
}

type laneState struct {
	status   catalog.UnitStatus
	nextPage int
	retries  int
	reason   string
}

// CrawlState is the in-memory authority over lane transitions. All writes are
// applied atomically per transition; the scheduler guarantees single-writer
// discipline per lane, the mutex guards cross-lane reads and snapshots.
type CrawlState struct {
	mu       sync.RWMutex
	runID    string
	lanes    map[LaneKey]*laneState
	counters catalog.Counters
	restored int
	added    int
}

// New creates an empty CrawlState for the given run.
func New(runID string) *CrawlState {
	return &CrawlState{
		runID: runID,
		lanes: make(map[LaneKey]*laneState),
	}
}

// AddLane registers a (store, category) lane as Pending at the first page.
// Lanes already present (e.g. restored from a checkpoint) are left untouched.
func (s *CrawlState) AddLane(store catalog.StoreID, id catalog.CanonicalID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := LaneKey{StoreID: store, CanonicalID: id}
	if _, ok := s.lanes[key]; ok {
		return
	}
	s.lanes[key] = &laneState{status: catalog.UnitPending, nextPage: catalog.FirstPage}
	s.added++
}

// NextPending returns the next page cursor to fetch for the lane, or false
// when the lane is closed, failed, or mid-flight.
func (s *CrawlState) NextPending(store catalog.StoreID, id catalog.CanonicalID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lane, ok := s.lanes[LaneKey{StoreID: store, CanonicalID: id}]
	if !ok || lane.status != catalog.UnitPending {
		return 0, false
	}
	return lane.nextPage, true
}

// MarkInFlight transitions the unit's lane Pending -> InFlight.
func (s *CrawlState) MarkInFlight(unit catalog.CrawlUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, err := s.laneForUnit(unit)
	if err != nil {
		return err
	}
	if lane.status != catalog.UnitPending {
		return fmt.Errorf("lane %s/%s: mark in-flight from %s", unit.StoreID, unit.CanonicalID, lane.status)
	}
	lane.status = catalog.UnitInFlight
	return nil
}

// MarkDone records a successful page fetch. With hasMore the cursor advances
// and the lane returns to Pending; otherwise the lane closes permanently.
// A closed lane never regresses.
func (s *CrawlState) MarkDone(unit catalog.CrawlUnit, hasMore bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, err := s.laneForUnit(unit)
	if err != nil {
		return err
	}
	if lane.status != catalog.UnitInFlight {
		return fmt.Errorf("lane %s/%s: mark done from %s", unit.StoreID, unit.CanonicalID, lane.status)
	}
	s.counters.PagesFetched++
	lane.retries = 0
	if hasMore {
		lane.nextPage++
		lane.status = catalog.UnitPending
		return nil
	}
	lane.status = catalog.UnitDone
	s.counters.UnitsDone++
	return nil
}

// MarkFailed records a failed attempt and requeues the lane for retry. It
// returns the accumulated retry count so the scheduler can apply its budget.
func (s *CrawlState) MarkFailed(unit catalog.CrawlUnit, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, err := s.laneForUnit(unit)
	if err != nil {
		return 0, err
	}
	if lane.status == catalog.UnitDone {
		return 0, fmt.Errorf("lane %s/%s: mark failed after done", unit.StoreID, unit.CanonicalID)
	}
	lane.retries++
	lane.reason = reason
	lane.status = catalog.UnitPending
	return lane.retries, nil
}

// MarkFailedPermanent degrades the lane to Failed after the retry budget is
// exhausted. The rest of the run continues; the unit lands in the report.
func (s *CrawlState) MarkFailedPermanent(unit catalog.CrawlUnit, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, err := s.laneForUnit(unit)
	if err != nil {
		return err
	}
	if lane.status == catalog.UnitDone {
		return fmt.Errorf("lane %s/%s: mark failed after done", unit.StoreID, unit.CanonicalID)
	}
	lane.reason = reason
	lane.status = catalog.UnitFailed
	s.counters.UnitsFailed++
	return nil
}

// IsReplay reports whether a fetch result for the unit has already been
// recorded: the lane is past the page or permanently closed. Used as the
// idempotency fence for at-least-once fetches.
func (s *CrawlState) IsReplay(unit catalog.CrawlUnit) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lane, ok := s.lanes[LaneKey{StoreID: unit.StoreID, CanonicalID: unit.CanonicalID}]
	if !ok {
		return false
	}
	return unit.Page < lane.nextPage || lane.status == catalog.UnitDone
}

// RecordIngest folds the sink's per-fetch results into the run counters.
func (s *CrawlState) RecordIngest(seen, newUnique int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ProductsSeen += seen
	s.counters.UniqueProducts += newUnique
}

// Counters returns a copy of the aggregate counters.
func (s *CrawlState) Counters() catalog.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// FailedUnits enumerates lanes that exhausted their retries.
func (s *CrawlState) FailedUnits() []catalog.FailedUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.FailedUnit
	for key, lane := range s.lanes {
		if lane.status != catalog.UnitFailed {
			continue
		}
		out = append(out, catalog.FailedUnit{
			Unit: catalog.CrawlUnit{
				StoreID:     key.StoreID,
				CanonicalID: key.CanonicalID,
				Page:        lane.nextPage,
			},
			Retries: lane.retries,
			Reason:  lane.reason,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Unit, out[j].Unit
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		return a.CanonicalID < b.CanonicalID
	})
	return out
}

// RestoredLanes reports how many lanes came from a checkpoint versus were
// newly discovered this run.
func (s *CrawlState) RestoredLanes() (restored, added int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restored, s.added
}

// Snapshot produces the durable projection of every lane plus counters.
// The caller merges in the sink's product set before persisting.
func (s *CrawlState) Snapshot() Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lanes := make([]LaneCheckpoint, 0, len(s.lanes))
	for key, lane := range s.lanes {
		lanes = append(lanes, LaneCheckpoint{
			StoreID:     key.StoreID,
			CanonicalID: key.CanonicalID,
			Status:      lane.status,
			NextPage:    lane.nextPage,
			Retries:     lane.retries,
			Reason:      lane.reason,
		})
	}
	sort.Slice(lanes, func(i, j int) bool {
		if lanes[i].StoreID != lanes[j].StoreID {
			return lanes[i].StoreID < lanes[j].StoreID
		}
		return lanes[i].CanonicalID < lanes[j].CanonicalID
	})
	return Checkpoint{
		RunID:    s.runID,
		SavedAt:  time.Now().UTC(),
		Lanes:    lanes,
		Counters: s.counters,
	}
}

// Restore rebuilds lane state from a checkpoint. Lanes persisted mid-flight
// are requeued as Pending so the fetch is repeated (at-least-once); the sink's
// idempotent ingestion absorbs the possible duplicate.
func (s *CrawlState) Restore(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lane := range cp.Lanes {
		status := lane.Status
		if status == catalog.UnitInFlight {
			status = catalog.UnitPending
		}
		key := LaneKey{StoreID: lane.StoreID, CanonicalID: lane.CanonicalID}
		s.lanes[key] = &laneState{
			status:   status,
			nextPage: lane.NextPage,
			retries:  lane.Retries,
			reason:   lane.Reason,
		}
	}
	s.counters = cp.Counters
	s.restored = len(cp.Lanes)
}

func (s *CrawlState) laneForUnit(unit catalog.CrawlUnit) (*laneState, error) {
	lane, ok := s.lanes[LaneKey{StoreID: unit.StoreID, CanonicalID: unit.CanonicalID}]
	if !ok {
		return nil, fmt.Errorf("unknown lane %s/%s", unit.StoreID, unit.CanonicalID)
	}
	if unit.Page != lane.nextPage {
		return nil, fmt.Errorf("lane %s/%s: page %d does not match cursor %d",
			unit.StoreID, unit.CanonicalID, unit.Page, lane.nextPage)
	}
	return lane, nil
}

// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// CanonicalID is the backing-store identifier shared by every filter-variant
// URL of the same product pool.
type CanonicalID string

// StoreID identifies one physical store in the roster.
type StoreID string

// Store is immutable roster reference data, loaded externally.
type Store struct {
	ID     StoreID `json:"id" mapstructure:"id"`
	Region string  `json:"region" mapstructure:"region"`
}

// CategoryTarget is an immutable resolved category URL. Two targets with the
// same CanonicalID are backed by the same product pool.
type CategoryTarget struct {
	RawURL      string      `json:"raw_url"`
	CanonicalID CanonicalID `json:"canonical_id"`
	FilterTags  []string    `json:"filter_tags,omitempty"`
}

// FirstPage is the cursor value for the first listing page of a category.
const FirstPage = 1

// CrawlUnit is the atomic schedulable item: one listing page of one category
// at one store.
type CrawlUnit struct {
	StoreID     StoreID     `json:"store_id"`
	CanonicalID CanonicalID `json:"canonical_id"`
	Page        int         `json:"page"`
}

// UnitStatus is the lifecycle state of a (store, category) lane. Transitions
// are forward-only except InFlight -> Pending on crash-recovery requeue.
type UnitStatus string

// Unit status values persisted in checkpoints.
const (
	UnitPending  UnitStatus = "pending"
	UnitInFlight UnitStatus = "in_flight"
	UnitDone     UnitStatus = "done"
	UnitFailed   UnitStatus = "failed"
	UnitSkipped  UnitStatus = "skipped"
)

// RawProduct is one listing tile as extracted by a fetch adapter.
type RawProduct struct {
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	URL        string `json:"url"`
}

// Sighting records one (store, category) path under which a product was seen.
type Sighting struct {
	StoreID     StoreID     `json:"store_id"`
	CanonicalID CanonicalID `json:"canonical_id"`
}

// Product is the canonical deduplicated record. ProductID is the dedup key;
// the same product seen via multiple categories or stores accumulates
// sightings instead of duplicating rows.
type Product struct {
	ProductID  string     `json:"product_id"`
	Title      string     `json:"title"`
	PriceCents int64      `json:"price_cents"`
	URL        string     `json:"url"`
	Sightings  []Sighting `json:"sightings"`
}

// CoverageSample is the planner input: the product ids observed during the
// bounded sampling pass over one category.
type CoverageSample struct {
	CanonicalID CanonicalID         `json:"canonical_id"`
	ProductIDs  map[string]struct{} `json:"-"`
}

// FetchResult is the successful outcome of one page fetch.
type FetchResult struct {
	Products []RawProduct
	HasMore  bool
	RawBody  []byte
}

// FailedUnit is reported to the operator when a lane exhausts its retries.
type FailedUnit struct {
	Unit    CrawlUnit `json:"unit"`
	Retries int       `json:"retries"`
	Reason  string    `json:"reason"`
}

// Counters aggregates run-level progress totals.
type Counters struct {
	PagesFetched   int64 `json:"pages_fetched"`
	ProductsSeen   int64 `json:"products_seen"`
	UniqueProducts int64 `json:"unique_products"`
	UnitsDone      int64 `json:"units_done"`
	UnitsFailed    int64 `json:"units_failed"`
}

// RunReport is the user-visible summary of a completed or resumed run.
type RunReport struct {
	RunID            string       `json:"run_id"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	Counters         Counters     `json:"counters"`
	FailedUnits      []FailedUnit `json:"failed_units,omitempty"`
	TargetCoverage   float64      `json:"target_coverage"`
	AchievedCoverage float64      `json:"achieved_coverage"`
	RestoredLanes    int          `json:"restored_lanes"`
	NewLanes         int          `json:"new_lanes"`
}

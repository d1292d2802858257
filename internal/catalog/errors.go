package catalog

import (
	"errors"
	"fmt"
)

// Planning-phase errors. Both are fatal before any crawling starts.
var (
	// ErrEmptySampleSet indicates the planner received no coverage samples.
	ErrEmptySampleSet = errors.New("empty sample set")
	// ErrUnparseableURL indicates a category URL carries no trailing numeric id.
	ErrUnparseableURL = errors.New("unparseable category url")
)

// FetchErrorKind distinguishes fetch failures for operator diagnosis. All
// kinds are treated identically by the retry policy.
type FetchErrorKind string

// Fetch failure kinds surfaced by fetch adapters.
const (
	FetchBlocked      FetchErrorKind = "blocked"
	FetchTimeout      FetchErrorKind = "timeout"
	FetchBrowserCrash FetchErrorKind = "browser_crash"
	FetchParseError   FetchErrorKind = "parse_error"
)

// FetchError is a recoverable per-unit fetch failure.
type FetchError struct {
	Kind FetchErrorKind
	Unit CrawlUnit
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s page %d: %s: %v",
		e.Unit.StoreID, e.Unit.CanonicalID, e.Unit.Page, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with its failure kind and origin unit.
func NewFetchError(kind FetchErrorKind, unit CrawlUnit, err error) *FetchError {
	return &FetchError{Kind: kind, Unit: unit, Err: err}
}

// PersistenceError marks a checkpoint read/write failure. Progress can no
// longer be trusted, so callers treat it as fatal for the current process.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

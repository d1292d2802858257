package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Scripted serves canned pages from memory. Used in tests and as the fixture
// backend for dry runs.
type Scripted struct {
	mu    sync.Mutex
	pages map[catalog.CrawlUnit]catalog.FetchResult
	calls []catalog.CrawlUnit
}

var _ catalog.FetchPort = (*Scripted)(nil)

// NewScripted returns an empty Scripted fetcher.
func NewScripted() *Scripted {
	return &Scripted{pages: make(map[catalog.CrawlUnit]catalog.FetchResult)}
}

// Add registers the result served for one unit.
func (f *Scripted) Add(unit catalog.CrawlUnit, result catalog.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[unit] = result
}

// FetchPage returns the scripted result; an unscripted unit is a parse error.
func (f *Scripted) FetchPage(ctx context.Context, unit catalog.CrawlUnit, _ catalog.CategoryTarget) (catalog.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return catalog.FetchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, unit)
	result, ok := f.pages[unit]
	if !ok {
		return catalog.FetchResult{}, catalog.NewFetchError(catalog.FetchParseError, unit,
			fmt.Errorf("no scripted page for %s/%s page %d", unit.StoreID, unit.CanonicalID, unit.Page))
	}
	return result, nil
}

// Calls returns the fetch log in order.
func (f *Scripted) Calls() []catalog.CrawlUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.CrawlUnit(nil), f.calls...)
}

// Synthetic generates deterministic listing pages without touching the
// network. Product ids depend on category and page but not on store, so a
// multi-store dry run exercises cross-store deduplication the same way a
// real crawl does.
type Synthetic struct {
	pagesPerCategory int
	productsPerPage  int
}

var _ catalog.FetchPort = (*Synthetic)(nil)

// NewSynthetic builds the generator; non-positive arguments get small
// defaults suitable for a dry run.
func NewSynthetic(pagesPerCategory, productsPerPage int) *Synthetic {
	if pagesPerCategory <= 0 {
		pagesPerCategory = 3
	}
	if productsPerPage <= 0 {
		productsPerPage = 24
	}
	return &Synthetic{pagesPerCategory: pagesPerCategory, productsPerPage: productsPerPage}
}

// FetchPage fabricates one listing page.
func (f *Synthetic) FetchPage(ctx context.Context, unit catalog.CrawlUnit, target catalog.CategoryTarget) (catalog.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return catalog.FetchResult{}, err
	}
	products := make([]catalog.RawProduct, 0, f.productsPerPage)
	offset := (unit.Page - catalog.FirstPage) * f.productsPerPage
	for i := range f.productsPerPage {
		n := offset + i
		products = append(products, catalog.RawProduct{
			ProductID:  fmt.Sprintf("%s-%05d", unit.CanonicalID, n),
			Title:      fmt.Sprintf("Sample product %d in %s", n, unit.CanonicalID),
			PriceCents: int64(499 + n*100),
			URL:        fmt.Sprintf("%s/p/%s-%05d", target.RawURL, unit.CanonicalID, n),
		})
	}
	return catalog.FetchResult{
		Products: products,
		HasMore:  unit.Page < f.pagesPerCategory,
	}, nil
}

// Package sink collapses duplicate products into canonical records and
// accumulates crawl statistics.
package sink

import (
	"sort"
	"sync"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

type record struct {
	product   catalog.Product
	sightings map[catalog.Sighting]struct{}
}

// Sink deduplicates products by product id across every (store, category)
// path. Ingestion is idempotent per origin unit, so replayed fetches after a
// crash-recovery requeue never inflate the totals.
type Sink struct {
	mu          sync.Mutex
	records     map[string]*record
	perCategory map[catalog.CanonicalID]int64
	origins     map[catalog.CrawlUnit]struct{}
	seenTotal   int64
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{
		records:     make(map[string]*record),
		perCategory: make(map[catalog.CanonicalID]int64),
		origins:     make(map[catalog.CrawlUnit]struct{}),
	}
}

// Ingest upserts every product from one fetch. The first sighting creates the
// record; later sightings append to the sighting set without duplicating the
// row. A repeated origin is discarded wholesale. Returns how many products
// the fetch carried and how many were new to the run.
func (s *Sink) Ingest(items []catalog.RawProduct, origin catalog.CrawlUnit) (seen, newUnique int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, replayed := s.origins[origin]; replayed {
		return 0, 0
	}
	s.origins[origin] = struct{}{}

	sighting := catalog.Sighting{StoreID: origin.StoreID, CanonicalID: origin.CanonicalID}
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		seen++
		rec, ok := s.records[item.ProductID]
		if !ok {
			rec = &record{
				product: catalog.Product{
					ProductID:  item.ProductID,
					Title:      item.Title,
					PriceCents: item.PriceCents,
					URL:        item.URL,
				},
				sightings: make(map[catalog.Sighting]struct{}, 1),
			}
			s.records[item.ProductID] = rec
			newUnique++
		}
		if _, dup := rec.sightings[sighting]; !dup {
			rec.sightings[sighting] = struct{}{}
			s.perCategory[origin.CanonicalID]++
		}
	}
	s.seenTotal += seen
	return seen, newUnique
}

// UniqueProducts returns the deduplicated product count.
func (s *Sink) UniqueProducts() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records))
}

// TotalFetched returns every product occurrence ingested, duplicates included.
func (s *Sink) TotalFetched() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenTotal
}

// Products returns the canonical records sorted by product id, sightings
// sorted for determinism.
func (s *Sink) Products() []catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Product, 0, len(s.records))
	for _, rec := range s.records {
		p := rec.product
		p.Sightings = make([]catalog.Sighting, 0, len(rec.sightings))
		for sighting := range rec.sightings {
			p.Sightings = append(p.Sightings, sighting)
		}
		sort.Slice(p.Sightings, func(i, j int) bool {
			a, b := p.Sightings[i], p.Sightings[j]
			if a.StoreID != b.StoreID {
				return a.StoreID < b.StoreID
			}
			return a.CanonicalID < b.CanonicalID
		})
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Origins returns every ingested origin unit, sorted for determinism. The
// set is persisted in checkpoints so the replay fence survives restarts.
func (s *Sink) Origins() []catalog.CrawlUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.CrawlUnit, 0, len(s.origins))
	for origin := range s.origins {
		out = append(out, origin)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		if a.CanonicalID != b.CanonicalID {
			return a.CanonicalID < b.CanonicalID
		}
		return a.Page < b.Page
	})
	return out
}

// CoverageByCategory returns sighting counts per canonical category.
func (s *Sink) CoverageByCategory() map[catalog.CanonicalID]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[catalog.CanonicalID]int64, len(s.perCategory))
	for id, n := range s.perCategory {
		out[id] = n
	}
	return out
}

// Restore rebuilds the dedup state from checkpointed products so a resumed
// run reports the same unique set as an uninterrupted one. The origin set is
// restored too: a fetch replayed for a requeued in-flight unit whose ingest
// already made it into the checkpoint must not inflate the totals again.
func (s *Sink) Restore(products []catalog.Product, perCategory map[catalog.CanonicalID]int64, origins []catalog.CrawlUnit, seenTotal int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		rec := &record{
			product: catalog.Product{
				ProductID:  p.ProductID,
				Title:      p.Title,
				PriceCents: p.PriceCents,
				URL:        p.URL,
			},
			sightings: make(map[catalog.Sighting]struct{}, len(p.Sightings)),
		}
		for _, sighting := range p.Sightings {
			rec.sightings[sighting] = struct{}{}
		}
		s.records[p.ProductID] = rec
	}
	for id, n := range perCategory {
		s.perCategory[id] = n
	}
	for _, origin := range origins {
		s.origins[origin] = struct{}{}
	}
	s.seenTotal = seenTotal
}

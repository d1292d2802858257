// Package archive persists raw listing payloads for offline reprocessing.
// Objects are content-addressed by digest so re-fetches of identical pages
// collapse into one artifact.
package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Archiver writes one artifact per fetched page under
// <runID>/<store>/<category>/page-<page>-<digest>.html.
type Archiver struct {
	store  catalog.ArtifactStore
	hasher catalog.Hasher
	logger *zap.Logger
}

// NewArchiver wires the blob store and hasher.
func NewArchiver(store catalog.ArtifactStore, hasher catalog.Hasher, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, hasher: hasher, logger: logger}
}

// ArchivePage stores the payload and returns its URI. Empty payloads are
// skipped.
func (a *Archiver) ArchivePage(ctx context.Context, runID string, unit catalog.CrawlUnit, body []byte) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	path := fmt.Sprintf("%s/%s/%s/page-%03d-%s.html", runID, unit.StoreID, unit.CanonicalID, unit.Page, digest)
	uri, err := a.store.PutObject(ctx, path, "text/html", body)
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	return uri, nil
}

// archivingFetcher decorates a FetchPort so every successful page is archived
// before the result reaches the scheduler. Archive failures are logged, not
// fatal: losing a raw payload never fails the crawl.
type archivingFetcher struct {
	inner    catalog.FetchPort
	archiver *Archiver
	runID    string
	logger   *zap.Logger
}

// WrapFetcher returns the archiving decorator. The decorator forwards
// session lifecycle calls when the inner fetcher supports them.
func WrapFetcher(inner catalog.FetchPort, archiver *Archiver, runID string, logger *zap.Logger) catalog.FetchPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	wrapped := &archivingFetcher{inner: inner, archiver: archiver, runID: runID, logger: logger}
	if sessions, ok := inner.(catalog.SessionFetchPort); ok {
		return &archivingSessionFetcher{archivingFetcher: wrapped, sessions: sessions}
	}
	return wrapped
}

func (f *archivingFetcher) FetchPage(ctx context.Context, unit catalog.CrawlUnit, target catalog.CategoryTarget) (catalog.FetchResult, error) {
	res, err := f.inner.FetchPage(ctx, unit, target)
	if err != nil {
		return res, err
	}
	if _, archiveErr := f.archiver.ArchivePage(ctx, f.runID, unit, res.RawBody); archiveErr != nil {
		f.logger.Warn("archive page payload",
			zap.String("store", string(unit.StoreID)),
			zap.String("category", string(unit.CanonicalID)),
			zap.Int("page", unit.Page),
			zap.Error(archiveErr),
		)
	}
	return res, nil
}

type archivingSessionFetcher struct {
	*archivingFetcher
	sessions catalog.SessionFetchPort
}

func (f *archivingSessionFetcher) CloseStore(ctx context.Context, store catalog.StoreID) error {
	return f.sessions.CloseStore(ctx, store)
}

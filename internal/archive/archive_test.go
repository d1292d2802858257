package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/archive/memory"
	"github.com/retailscout/catalog-crawler/internal/catalog"
	"github.com/retailscout/catalog-crawler/internal/fetch"
)

type fixedHasher struct{ digest string }

func (h fixedHasher) Hash([]byte) (string, error) { return h.digest, nil }

func TestArchivePage(t *testing.T) {
	t.Parallel()

	store := memory.New()
	archiver := NewArchiver(store, fixedHasher{digest: "abcdef0123456789ffff"}, nil)

	unit := catalog.CrawlUnit{StoreID: "s1", CanonicalID: "5024", Page: 3}
	uri, err := archiver.ArchivePage(context.Background(), "run-1", unit, []byte("<html>tubs</html>"))
	require.NoError(t, err)

	const path = "run-1/s1/5024/page-003-abcdef0123456789.html"
	assert.Equal(t, "memory://"+path, uri)
	data, ok := store.Get(path)
	require.True(t, ok)
	assert.Equal(t, "<html>tubs</html>", string(data))
}

func TestArchivePageSkipsEmptyPayload(t *testing.T) {
	t.Parallel()

	store := memory.New()
	archiver := NewArchiver(store, fixedHasher{digest: "aa"}, nil)

	uri, err := archiver.ArchivePage(context.Background(), "run-1", catalog.CrawlUnit{}, nil)
	require.NoError(t, err)
	assert.Empty(t, uri)
	assert.Zero(t, store.Len())
}

func TestWrapFetcherArchivesSuccessfulPages(t *testing.T) {
	t.Parallel()

	unit := catalog.CrawlUnit{StoreID: "s1", CanonicalID: "5024", Page: 1}
	inner := fetch.NewScripted()
	inner.Add(unit, catalog.FetchResult{
		Products: []catalog.RawProduct{{ProductID: "p1"}},
		RawBody:  []byte("<html/>"),
	})

	store := memory.New()
	wrapped := WrapFetcher(inner, NewArchiver(store, fixedHasher{digest: "feedbeef"}, nil), "run-1", nil)

	res, err := wrapped.FetchPage(context.Background(), unit, catalog.CategoryTarget{})
	require.NoError(t, err)
	assert.Len(t, res.Products, 1)
	assert.Equal(t, 1, store.Len())

	// Failed fetches leave no artifact.
	_, err = wrapped.FetchPage(context.Background(), catalog.CrawlUnit{StoreID: "s1", CanonicalID: "9999", Page: 1}, catalog.CategoryTarget{})
	require.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

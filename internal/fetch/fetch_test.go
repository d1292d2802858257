package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

func TestPageURL(t *testing.T) {
	t.Parallel()

	target := catalog.CategoryTarget{RawURL: "https://shop.example.com/c/bathtubs/N-5024"}

	first, err := PageURL(Config{}, target, catalog.CrawlUnit{StoreID: "s42", Page: 1})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/c/bathtubs/N-5024?store=s42", first)

	third, err := PageURL(Config{}, target, catalog.CrawlUnit{StoreID: "s42", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/c/bathtubs/N-5024?page=3&store=s42", third)
}

func TestPageURLCustomParams(t *testing.T) {
	t.Parallel()

	cfg := Config{StoreParam: "storeId", PageParam: "pg"}
	target := catalog.CategoryTarget{RawURL: "https://shop.example.com/c/decking/N-77?sort=price"}

	got, err := PageURL(cfg, target, catalog.CrawlUnit{StoreID: "s1", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/c/decking/N-77?pg=2&sort=price&storeId=s1", got)
}

func TestParsePriceCents(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"$1,299.99":  129999,
		"$5":         500,
		"12.50":      1250,
		"  $0.99  ":  99,
		"1.5":        150,
		"":           0,
		"Call us":    0,
		"$3.999":     399,
		"USD 249.00": 24900,
	}
	for text, want := range cases {
		assert.Equal(t, want, parsePriceCents(text), "price %q", text)
	}
}

func TestTilesToProductsResolvesRelativeLinks(t *testing.T) {
	t.Parallel()

	tiles := []tile{
		{ID: " p1 ", Title: " Clawfoot Tub ", Price: "$899.00", Href: "/p/p1"},
		{ID: "p2", Title: "Walk-in Tub", Price: "$2,499.99", Href: "https://cdn.example.com/p2"},
	}
	products := tilesToProducts(tiles, "https://shop.example.com/c/bathtubs/N-5024?store=s1")

	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ProductID)
	assert.Equal(t, "Clawfoot Tub", products[0].Title)
	assert.Equal(t, int64(89900), products[0].PriceCents)
	assert.Equal(t, "https://shop.example.com/p/p1", products[0].URL)
	assert.Equal(t, "https://cdn.example.com/p2", products[1].URL)
}

func TestScriptedFetcher(t *testing.T) {
	t.Parallel()

	unit := catalog.CrawlUnit{StoreID: "s1", CanonicalID: "100", Page: 1}
	f := NewScripted()
	f.Add(unit, catalog.FetchResult{Products: []catalog.RawProduct{{ProductID: "p1"}}})

	res, err := f.FetchPage(context.Background(), unit, catalog.CategoryTarget{})
	require.NoError(t, err)
	assert.Len(t, res.Products, 1)

	_, err = f.FetchPage(context.Background(), catalog.CrawlUnit{StoreID: "s1", CanonicalID: "200", Page: 1}, catalog.CategoryTarget{})
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, catalog.FetchParseError, fe.Kind)
	assert.Len(t, f.Calls(), 2)
}

func TestSyntheticFetcherIsDeterministic(t *testing.T) {
	t.Parallel()

	f := NewSynthetic(2, 3)
	target := catalog.CategoryTarget{RawURL: "https://shop.example.com/c/bathtubs/N-5024"}

	s1, err := f.FetchPage(context.Background(), catalog.CrawlUnit{StoreID: "s1", CanonicalID: "5024", Page: 1}, target)
	require.NoError(t, err)
	s2, err := f.FetchPage(context.Background(), catalog.CrawlUnit{StoreID: "s2", CanonicalID: "5024", Page: 1}, target)
	require.NoError(t, err)

	// Identical ids across stores so dry runs exercise dedup.
	require.Len(t, s1.Products, 3)
	assert.Equal(t, s1.Products[0].ProductID, s2.Products[0].ProductID)
	assert.True(t, s1.HasMore)

	last, err := f.FetchPage(context.Background(), catalog.CrawlUnit{StoreID: "s1", CanonicalID: "5024", Page: 2}, target)
	require.NoError(t, err)
	assert.False(t, last.HasMore)
	assert.Equal(t, "5024-00003", last.Products[0].ProductID)
}

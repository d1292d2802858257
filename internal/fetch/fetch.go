// Package fetch contains FetchPort implementations: a chromedp-backed
// session fetcher for JavaScript-rendered listing pages, a colly-backed
// static fetcher for cheap sampling, and a scripted fetcher for dry runs.
package fetch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Config holds the extraction contract shared by the fetchers: which query
// parameters select store and page, and which selectors locate product tiles
// on a rendered listing page.
type Config struct {
	UserAgent string
	// StoreParam and PageParam name the query parameters the site uses for
	// store context and pagination.
	StoreParam string
	PageParam  string
	// TileSelector matches one product tile; the remaining selectors are
	// evaluated relative to a tile.
	TileSelector  string
	ProductIDAttr string
	TitleSelector string
	PriceSelector string
	LinkSelector  string
	// NextPageSelector, when present in the DOM, signals another page.
	NextPageSelector string
	// NavigationTimeout bounds a single page render in the headless fetcher.
	NavigationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StoreParam == "" {
		c.StoreParam = "store"
	}
	if c.PageParam == "" {
		c.PageParam = "page"
	}
	if c.TileSelector == "" {
		c.TileSelector = "[data-product-id]"
	}
	if c.ProductIDAttr == "" {
		c.ProductIDAttr = "data-product-id"
	}
	if c.TitleSelector == "" {
		c.TitleSelector = ".product-title"
	}
	if c.PriceSelector == "" {
		c.PriceSelector = ".product-price"
	}
	if c.LinkSelector == "" {
		c.LinkSelector = "a"
	}
	if c.NextPageSelector == "" {
		c.NextPageSelector = "a[rel=next]"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	return c
}

// PageURL builds the listing URL for one crawl unit: the category URL with
// the store and page parameters applied.
func PageURL(cfg Config, target catalog.CategoryTarget, unit catalog.CrawlUnit) (string, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(target.RawURL)
	if err != nil {
		return "", fmt.Errorf("parse category url %q: %w", target.RawURL, err)
	}
	q := u.Query()
	q.Set(cfg.StoreParam, string(unit.StoreID))
	if unit.Page > catalog.FirstPage {
		q.Set(cfg.PageParam, strconv.Itoa(unit.Page))
	} else {
		q.Del(cfg.PageParam)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parsePriceCents converts display prices like "$1,299.99" to cents. Returns
// zero when the text carries no digits; listings without prices are kept.
func parsePriceCents(text string) int64 {
	var digits strings.Builder
	sawSep := false
	centDigits := 0
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			if sawSep {
				centDigits++
			}
		case r == '.':
			sawSep = true
			centDigits = 0
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0
	}
	switch centDigits {
	case 2:
		return n
	case 1:
		return n * 10
	case 0:
		return n * 100
	default:
		// Truncate sub-cent precision.
		for centDigits > 2 {
			n /= 10
			centDigits--
		}
		return n
	}
}

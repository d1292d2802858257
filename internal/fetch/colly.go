package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Static fetches listing pages over plain HTTP with colly. It misses
// JavaScript-rendered tiles, which is fine for the planner's sampling pass
// where an approximate product set per category is enough; real crawl lanes
// use the headless fetcher.
type Static struct {
	cfg     Config
	base    *colly.Collector
	timeout time.Duration
}

var _ catalog.FetchPort = (*Static)(nil)

// NewStatic builds the fetcher and its pooled transport.
func NewStatic(cfg Config, timeout time.Duration) *Static {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Static{
		cfg:     cfg.withDefaults(),
		base:    c,
		timeout: timeout,
	}
}

// FetchPage issues one GET and extracts product tiles from the static HTML.
func (f *Static) FetchPage(ctx context.Context, unit catalog.CrawlUnit, target catalog.CategoryTarget) (catalog.FetchResult, error) {
	pageURL, err := PageURL(f.cfg, target, unit)
	if err != nil {
		return catalog.FetchResult{}, catalog.NewFetchError(catalog.FetchParseError, unit, err)
	}

	collector := f.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.timeout)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	var (
		products []catalog.RawProduct
		hasMore  bool
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnHTML(f.cfg.TileSelector, func(e *colly.HTMLElement) {
		products = append(products, catalog.RawProduct{
			ProductID:  strings.TrimSpace(e.Attr(f.cfg.ProductIDAttr)),
			Title:      strings.TrimSpace(e.ChildText(f.cfg.TitleSelector)),
			PriceCents: parsePriceCents(e.ChildText(f.cfg.PriceSelector)),
			URL:        e.Request.AbsoluteURL(e.ChildAttr(f.cfg.LinkSelector, "href")),
		})
	})
	collector.OnHTML(f.cfg.NextPageSelector, func(*colly.HTMLElement) {
		hasMore = true
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, pageURL); err != nil {
		return catalog.FetchResult{}, f.classify(unit, status, err)
	}
	if fetchErr != nil {
		return catalog.FetchResult{}, f.classify(unit, status, fetchErr)
	}
	if blockedStatus(status) {
		return catalog.FetchResult{}, catalog.NewFetchError(catalog.FetchBlocked, unit,
			fmt.Errorf("status %d", status))
	}

	return catalog.FetchResult{
		Products: products,
		HasMore:  hasMore,
		RawBody:  body,
	}, nil
}

func (f *Static) runCollector(ctx context.Context, collector *colly.Collector, pageURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (f *Static) classify(unit catalog.CrawlUnit, status int, err error) error {
	if blockedStatus(status) {
		return catalog.NewFetchError(catalog.FetchBlocked, unit, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return catalog.NewFetchError(catalog.FetchTimeout, unit, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return catalog.NewFetchError(catalog.FetchParseError, unit, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

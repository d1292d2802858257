package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/retailscout/catalog-crawler/internal/catalog"
)

// Headless fetches listing pages with headless Chrome via chromedp. Each
// store gets its own browser context so cookies and session state stay
// pinned to one store for the whole lane; the scheduler serializes requests
// within a store, so a session is never used concurrently.
type Headless struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[catalog.StoreID]*storeSession
	closed   bool
}

type storeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ catalog.SessionFetchPort = (*Headless)(nil)

// NewHeadless builds the fetcher and its shared browser allocator.
func NewHeadless(cfg Config, logger *zap.Logger) (*Headless, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Headless{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
		sessions:    make(map[catalog.StoreID]*storeSession),
	}, nil
}

// FetchPage renders the listing URL for the unit in the store's browser
// session and extracts the product tiles.
func (f *Headless) FetchPage(ctx context.Context, unit catalog.CrawlUnit, target catalog.CategoryTarget) (catalog.FetchResult, error) {
	pageURL, err := PageURL(f.cfg, target, unit)
	if err != nil {
		return catalog.FetchResult{}, catalog.NewFetchError(catalog.FetchParseError, unit, err)
	}

	sess, err := f.session(unit.StoreID)
	if err != nil {
		return catalog.FetchResult{}, err
	}

	runCtx, cancel := context.WithTimeout(sess.ctx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newDocumentMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	var (
		tiles   []tile
		hasMore bool
		html    string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(extractTilesJS(f.cfg), &tiles),
		chromedp.Evaluate(hasNextPageJS(f.cfg), &hasMore),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return catalog.FetchResult{}, f.classify(ctx, sess, unit, err)
	}

	if status := meta.status(); blockedStatus(status) {
		return catalog.FetchResult{}, catalog.NewFetchError(catalog.FetchBlocked, unit,
			fmt.Errorf("document status %d", status))
	}

	return catalog.FetchResult{
		Products: tilesToProducts(tiles, pageURL),
		HasMore:  hasMore,
		RawBody:  []byte(html),
	}, nil
}

// CloseStore tears down the store's browser context. Called by the scheduler
// when the store's lane drains.
func (f *Headless) CloseStore(_ context.Context, store catalog.StoreID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[store]; ok {
		sess.cancel()
		delete(f.sessions, store)
	}
	return nil
}

// Close tears down every session and the allocator.
func (f *Headless) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for store, sess := range f.sessions {
		sess.cancel()
		delete(f.sessions, store)
	}
	f.allocCancel()
	return nil
}

func (f *Headless) session(store catalog.StoreID) (*storeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("headless fetcher closed")
	}
	if sess, ok := f.sessions[store]; ok && sess.ctx.Err() == nil {
		return sess, nil
	}
	ctx, cancel := chromedp.NewContext(f.allocator)
	sess := &storeSession{ctx: ctx, cancel: cancel}
	f.sessions[store] = sess
	return sess, nil
}

// classify maps a chromedp failure onto a FetchError kind. A dead session is
// dropped so the next attempt starts a fresh browser context.
func (f *Headless) classify(ctx context.Context, sess *storeSession, unit catalog.CrawlUnit, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sess.ctx.Err() != nil {
		f.dropSession(unit.StoreID, sess)
		return catalog.NewFetchError(catalog.FetchBrowserCrash, unit, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return catalog.NewFetchError(catalog.FetchTimeout, unit, err)
	}
	return catalog.NewFetchError(catalog.FetchParseError, unit, err)
}

func (f *Headless) dropSession(store catalog.StoreID, sess *storeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, ok := f.sessions[store]; ok && current == sess {
		sess.cancel()
		delete(f.sessions, store)
	}
}

func (f *Headless) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type tile struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Href  string `json:"href"`
}

func tilesToProducts(tiles []tile, pageURL string) []catalog.RawProduct {
	base, _ := url.Parse(pageURL)
	out := make([]catalog.RawProduct, 0, len(tiles))
	for _, t := range tiles {
		href := t.Href
		if base != nil && href != "" {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		out = append(out, catalog.RawProduct{
			ProductID:  strings.TrimSpace(t.ID),
			Title:      strings.TrimSpace(t.Title),
			PriceCents: parsePriceCents(t.Price),
			URL:        href,
		})
	}
	return out
}

func extractTilesJS(cfg Config) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function(el) {
		var pick = function(sel) {
			var n = el.querySelector(sel);
			return n ? (n.textContent || "").trim() : "";
		};
		var link = el.querySelector(%s);
		return {
			id: el.getAttribute(%s) || "",
			title: pick(%s),
			price: pick(%s),
			href: link ? (link.getAttribute("href") || "") : ""
		};
	})`,
		strconv.Quote(cfg.TileSelector),
		strconv.Quote(cfg.LinkSelector),
		strconv.Quote(cfg.ProductIDAttr),
		strconv.Quote(cfg.TitleSelector),
		strconv.Quote(cfg.PriceSelector),
	)
}

func hasNextPageJS(cfg Config) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, strconv.Quote(cfg.NextPageSelector))
}

func blockedStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusTooManyRequests
}

// documentMeta captures the status of the top-level document response.
type documentMeta struct {
	mu         sync.Mutex
	docStatus  int
	documented bool
}

func newDocumentMeta() *documentMeta {
	return &documentMeta{}
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.docStatus = int(resp.Response.Status)
	m.documented = true
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.documented {
		return http.StatusOK
	}
	return m.docStatus
}

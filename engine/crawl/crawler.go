// Package crawl walks a source's inventory pages, discovers detail-page URLs
// through pagination, and runs the field extractor over each one. Fetching is
// rate limited, retried, and contained per host.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/milan101q/specialoffer/engine/domain"
	"github.com/milan101q/specialoffer/engine/extract"
	"github.com/milan101q/specialoffer/pkg/fn"
	"github.com/milan101q/specialoffer/pkg/metrics"
)

// CrawlOpts bound a single source crawl.
type CrawlOpts struct {
	MaxPages      int           // pagination depth cap per entry URL
	DetailWorkers int           // concurrent detail-page fetches
	PageDelay     time.Duration // politeness pause between listing pages
	LinkPatterns  []string      // detail-link substrings; empty uses defaults
}

// DefaultCrawlOpts cap pagination at 15 pages and fan detail fetches out
// three at a time.
var DefaultCrawlOpts = CrawlOpts{
	MaxPages:      15,
	DetailWorkers: 3,
	PageDelay:     time.Second,
}

// ErrNoListingPages reports a crawl in which not a single listing page could
// be fetched. Callers must not treat such a crawl as an empty inventory.
var ErrNoListingPages = errors.New("no listing page reachable")

// Crawler discovers and extracts every vehicle listed by a source.
type Crawler struct {
	fetcher   *Fetcher
	extractor *extract.Extractor
	opts      CrawlOpts
	log       *slog.Logger

	pagesWalked *metrics.Counter
	detailsSeen *metrics.Counter
}

// New builds a Crawler. Pass nil for reg to skip metric registration.
func New(fetcher *Fetcher, extractor *extract.Extractor, opts CrawlOpts, log *slog.Logger, reg *metrics.Registry) *Crawler {
	if opts.MaxPages == 0 {
		opts.MaxPages = DefaultCrawlOpts.MaxPages
	}
	if opts.DetailWorkers == 0 {
		opts.DetailWorkers = DefaultCrawlOpts.DetailWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Crawler{
		fetcher:     fetcher,
		extractor:   extractor,
		opts:        opts,
		log:         log,
		pagesWalked: reg.Counter("crawl_pages_total", "Listing pages walked."),
		detailsSeen: reg.Counter("crawl_detail_urls_total", "Detail URLs discovered."),
	}
}

// Crawl walks every entry URL of the source and returns one Result per
// discovered detail URL. A listing-page failure truncates that entry URL's
// pagination but keeps results from pages already visited; other entry URLs
// proceed regardless. When no listing page succeeds at all, Crawl returns
// ErrNoListingPages so an unreachable site is not mistaken for an inventory
// that emptied out. Each invocation re-walks from scratch.
func (c *Crawler) Crawl(ctx context.Context, src domain.Source) ([]fn.Result[domain.ExtractedRecord], error) {
	seen := make(map[string]bool)
	var detailURLs []string
	pagesOK := 0

	for _, entry := range src.EntryURLs() {
		urls, ok := c.walkPagination(ctx, entry)
		pagesOK += ok
		for _, u := range urls {
			if !seen[u] {
				seen[u] = true
				detailURLs = append(detailURLs, u)
			}
		}
	}
	if pagesOK == 0 {
		return nil, fmt.Errorf("crawl %s: %w", src.Name, ErrNoListingPages)
	}
	c.detailsSeen.Add(int64(len(detailURLs)))
	c.log.Info("crawl discovered detail pages",
		"source", src.Name, "pages", len(detailURLs))

	results := fn.ParMapResult(detailURLs, c.opts.DetailWorkers, func(u string) fn.Result[domain.ExtractedRecord] {
		docRes := c.fetcher.Get(ctx, u)
		doc, err := docRes.Unwrap()
		if err != nil {
			c.log.Warn("detail fetch failed", "url", u, "error", err)
			return fn.Err[domain.ExtractedRecord](err)
		}
		return c.extractor.Extract(doc, u, src)
	})
	return results, nil
}

// walkPagination follows next-page links from entry, collecting detail URLs
// until no next page exists, a page repeats, or the depth cap is hit. It also
// reports how many listing pages were fetched successfully.
func (c *Crawler) walkPagination(ctx context.Context, entry string) ([]string, int) {
	visited := make(map[string]bool)
	var detailURLs []string
	pagesOK := 0

	pageURL := entry
	for page := 0; page < c.opts.MaxPages; page++ {
		if pageURL == "" || visited[pageURL] {
			break
		}
		visited[pageURL] = true

		base, err := url.Parse(pageURL)
		if err != nil {
			c.log.Warn("bad listing url", "url", pageURL, "error", err)
			break
		}

		docRes := c.fetcher.Get(ctx, pageURL)
		doc, err := docRes.Unwrap()
		if err != nil {
			c.log.Warn("listing fetch failed, truncating pagination",
				"url", pageURL, "error", err)
			break
		}
		c.pagesWalked.Inc()
		pagesOK++

		detailURLs = append(detailURLs, detailLinks(doc, base, c.opts.LinkPatterns)...)
		pageURL = nextPage(doc, base, base)

		if pageURL != "" && c.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return detailURLs, pagesOK
			case <-time.After(c.opts.PageDelay):
			}
		}
	}
	return detailURLs, pagesOK
}

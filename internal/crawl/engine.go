package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/logging"
)

// Mode selects the crawl strategy. The mode is always explicit; a
// one-element URL list does not imply a single-page crawl.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeBatch     Mode = "batch"
	ModeRecursive Mode = "recursive"
	ModeSitemap   Mode = "sitemap"
)

// Request describes one crawl run.
type Request struct {
	Mode Mode

	// URL seeds single, recursive, and sitemap crawls.
	URL string

	// URLs feeds batch crawls.
	URLs []string

	// MaxPages caps crawled pages; zero means unlimited.
	MaxPages int

	// MaxDepth caps recursion depth; zero means seed only.
	MaxDepth int

	// SameDomainOnly restricts recursive link following to the seed's
	// host. Off-host links are followed when unset.
	SameDomainOnly bool
}

// Progress reports crawled and discovered page counts as the run
// advances.
type Progress func(crawled, discovered int)

// Engine drives the crawl strategies over a Crawler.
type Engine struct {
	crawler Crawler
	sitemap *sitemapFetcher
	cfg     config.CrawlConfig
	gauge   *MemoryGauge
	logger  *logging.Logger
}

// NewEngine wires an engine from config.
func NewEngine(crawler Crawler, cfg config.CrawlConfig, logger *logging.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Engine{
		crawler: crawler,
		sitemap: newSitemapFetcher(cfg.PageTimeout),
		cfg:     cfg,
		gauge:   NewMemoryGauge(cfg.MemoryBudgetBytes, cfg.MemoryThresholdPercent),
		logger:  logger,
	}
}

// Run executes the requested strategy and returns the rendered pages.
// Individual page failures are logged and skipped except in single mode,
// where the one page failing fails the run.
func (e *Engine) Run(ctx context.Context, req Request, onProgress Progress) ([]Page, error) {
	if onProgress == nil {
		onProgress = func(int, int) {}
	}

	switch req.Mode {
	case ModeSingle:
		if req.URL == "" {
			return nil, fmt.Errorf("single crawl requires a URL")
		}
		page, err := e.crawler.Fetch(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		onProgress(1, 1)
		return []Page{*page}, nil

	case ModeBatch:
		if len(req.URLs) == 0 {
			return nil, fmt.Errorf("batch crawl requires URLs")
		}
		return e.crawlSet(ctx, dedupe(req.URLs), req.MaxPages, onProgress)

	case ModeSitemap:
		if req.URL == "" {
			return nil, fmt.Errorf("sitemap crawl requires a sitemap URL")
		}
		// The sitemap itself is parsed, never indexed.
		urls, err := e.sitemap.fetch(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		e.logger.Info(ctx, "sitemap parsed",
			zap.String("sitemap", req.URL), zap.Int("urls", len(urls)))
		return e.crawlSet(ctx, dedupe(urls), req.MaxPages, onProgress)

	case ModeRecursive:
		if req.URL == "" {
			return nil, fmt.Errorf("recursive crawl requires a seed URL")
		}
		return e.crawlRecursive(ctx, req, onProgress)

	default:
		return nil, fmt.Errorf("unknown crawl mode %q", req.Mode)
	}
}

// crawlRecursive walks the link graph breadth-first, one depth level at a
// time. Links come only from the crawler's link extraction; when
// requested they are filtered to the seed's host.
func (e *Engine) crawlRecursive(ctx context.Context, req Request, onProgress Progress) ([]Page, error) {
	seed, err := normalizeURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	seedHost := hostOf(seed)

	visited := map[string]bool{seed: true}
	frontier := []string{seed}
	var pages []Page

	for depth := 0; depth <= req.MaxDepth && len(frontier) > 0; depth++ {
		remaining := 0
		if req.MaxPages > 0 {
			remaining = req.MaxPages - len(pages)
			if remaining <= 0 {
				break
			}
		}

		crawled, err := e.crawlSet(ctx, frontier, remaining, func(done, _ int) {
			onProgress(len(pages)+done, len(visited))
		})
		if err != nil {
			return pages, err
		}
		pages = append(pages, crawled...)

		var next []string
		for _, page := range crawled {
			for _, link := range page.Links {
				normalized, err := normalizeURL(link)
				if err != nil {
					continue
				}
				if req.SameDomainOnly && hostOf(normalized) != seedHost {
					continue
				}
				if visited[normalized] {
					continue
				}
				visited[normalized] = true
				next = append(next, normalized)
			}
		}
		frontier = next
		onProgress(len(pages), len(visited))
	}
	return pages, nil
}

// crawlSet crawls a fixed URL set in frontier batches. Concurrency drops
// to one worker while the process is over its memory budget.
func (e *Engine) crawlSet(ctx context.Context, urls []string, maxPages int, onProgress Progress) ([]Page, error) {
	if maxPages > 0 && len(urls) > maxPages {
		urls = urls[:maxPages]
	}

	var (
		mu    sync.Mutex
		pages []Page
	)
	for start := 0; start < len(urls); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		end := start + e.cfg.BatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		concurrency := e.cfg.MaxConcurrent
		if e.gauge.OverBudget() {
			e.logger.Warn(ctx, "memory over budget, throttling crawl dispatch",
				zap.Int("batch", len(batch)))
			concurrency = 1
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, pageURL := range batch {
			pageURL := pageURL
			g.Go(func() error {
				page, err := e.crawler.Fetch(gctx, pageURL)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					e.logger.Warn(gctx, "page crawl failed, skipping",
						zap.String("url", pageURL), zap.Error(err))
					return nil
				}
				mu.Lock()
				pages = append(pages, *page)
				done := len(pages)
				mu.Unlock()
				onProgress(done, len(urls))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return pages, err
		}
	}
	return pages, nil
}

// normalizeURL strips fragments and lowercases the host so revisits
// dedupe correctly.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

func hostOf(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return ""
	}
	return u.Host
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, err := normalizeURL(raw)
		if err != nil {
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

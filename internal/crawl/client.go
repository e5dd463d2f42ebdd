// Package crawl turns web pages into markdown through the crawler
// runtime and drives the single, batch, recursive, and sitemap
// strategies over it.
package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrCrawlerUnavailable indicates the crawler runtime cannot be
	// reached.
	ErrCrawlerUnavailable = errors.New("crawler runtime unavailable")

	// ErrPageFailed indicates the runtime could not render the page.
	ErrPageFailed = errors.New("page crawl failed")
)

// Page is one rendered page. Links come exclusively from the runtime's
// link extraction; nothing is scraped out of the markdown.
type Page struct {
	URL      string
	Title    string
	Markdown string
	Links    []string
}

// Crawler fetches a single page.
type Crawler interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// RunnerClient talks to the crawler runtime over HTTP.
type RunnerClient struct {
	baseURL     string
	pageTimeout time.Duration
	client      *http.Client
}

// NewRunnerClient creates a client for the crawler runtime.
func NewRunnerClient(baseURL string, pageTimeout time.Duration) (*RunnerClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("crawler runner URL is required")
	}
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	return &RunnerClient{
		baseURL:     baseURL,
		pageTimeout: pageTimeout,
		// Headroom over the per-page budget for transport overhead.
		client: &http.Client{Timeout: pageTimeout + 10*time.Second},
	}, nil
}

type crawlRequest struct {
	URL           string `json:"url"`
	PageTimeoutMS int64  `json:"page_timeout_ms"`
}

type crawlResponse struct {
	Success  bool     `json:"success"`
	Markdown string   `json:"markdown"`
	Title    string   `json:"title"`
	Links    []string `json:"links"`
	Error    string   `json:"error"`
}

// Fetch renders one page to markdown.
func (c *RunnerClient) Fetch(ctx context.Context, url string) (*Page, error) {
	body, err := json.Marshal(crawlRequest{
		URL:           url,
		PageTimeoutMS: c.pageTimeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrawlerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrCrawlerUnavailable, resp.StatusCode, string(respBody))
	}

	var cr crawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !cr.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrPageFailed, url, cr.Error)
	}

	return &Page{
		URL:      url,
		Title:    cr.Title,
		Markdown: cr.Markdown,
		Links:    cr.Links,
	}, nil
}

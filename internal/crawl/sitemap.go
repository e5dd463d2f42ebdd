package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sitemapFetcher downloads and parses sitemap XML, following one level of
// sitemap index indirection.
type sitemapFetcher struct {
	client *http.Client
}

func newSitemapFetcher(timeout time.Duration) *sitemapFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sitemapFetcher{client: &http.Client{Timeout: timeout}}
}

type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// maxSitemapBytes caps a single sitemap document (the sitemap protocol
// itself caps files at 50MB).
const maxSitemapBytes = 50 * 1024 * 1024

func (f *sitemapFetcher) fetch(ctx context.Context, sitemapURL string) ([]string, error) {
	return f.fetchDepth(ctx, sitemapURL, 0)
}

func (f *sitemapFetcher) fetchDepth(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, err := f.download(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var urlset sitemapURLSet
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		out := make([]string, 0, len(urlset.URLs))
		for _, u := range urlset.URLs {
			if u.Loc != "" {
				out = append(out, u.Loc)
			}
		}
		return out, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		if depth >= 1 {
			return nil, fmt.Errorf("nested sitemap index at %s", sitemapURL)
		}
		var out []string
		for _, sm := range index.Sitemaps {
			if sm.Loc == "" {
				continue
			}
			urls, err := f.fetchDepth(ctx, sm.Loc, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, urls...)
		}
		return out, nil
	}

	return nil, fmt.Errorf("no URLs found in sitemap %s", sitemapURL)
}

func (f *sitemapFetcher) download(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating sitemap request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sitemap %s: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}

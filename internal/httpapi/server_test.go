package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/indexer"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/progress"
)

type localCall struct {
	req  indexer.Request
	root string
}

// fakeIndexer records calls and answers immediately.
type fakeIndexer struct {
	mu     sync.Mutex
	local  []localCall
	github []string
	pages  []crawl.Page
	err    error
}

func (f *fakeIndexer) IndexLocal(_ context.Context, req indexer.Request, root string) (*indexer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, localCall{req: req, root: root})
	return &indexer.Result{}, f.err
}

func (f *fakeIndexer) IndexGitHub(_ context.Context, req indexer.Request, repoURL, _ string) (*indexer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.github = append(f.github, repoURL)
	return &indexer.Result{}, f.err
}

func (f *fakeIndexer) IndexPages(_ context.Context, _ indexer.Request, pages []crawl.Page) (*indexer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, pages...)
	return &indexer.Result{}, f.err
}

func (f *fakeIndexer) localCalls() []localCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]localCall(nil), f.local...)
}

func (f *fakeIndexer) indexedPages() []crawl.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawl.Page(nil), f.pages...)
}

// fakeRunner returns canned pages and drives the progress callback once.
type fakeRunner struct {
	pages []crawl.Page
	err   error
}

func (f *fakeRunner) Run(_ context.Context, _ crawl.Request, onProgress crawl.Progress) ([]crawl.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	onProgress(len(f.pages), len(f.pages))
	return f.pages, f.err
}

func newTestServer(t *testing.T, idx Indexer, runner CrawlRunner, tracker *progress.Tracker) *Server {
	t.Helper()
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	s, err := NewServer(idx, runner, tracker, NewMetrics(nil), prometheus.NewRegistry(),
		config.ServerConfig{}, logging.NewNop())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, nil, nil)
	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, nil, nil)
	rec := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestLocalAccepted(t *testing.T) {
	idx := &fakeIndexer{}
	s := newTestServer(t, idx, nil, nil)

	rec := do(s, http.MethodPost, "/projects/acme/ingest/local",
		`{"path": "/tmp/src", "dataset": "docs", "mode": "full"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acme/docs"`)

	require.Eventually(t, func() bool {
		return len(idx.localCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	call := idx.localCalls()[0]
	assert.Equal(t, "acme", call.req.Project)
	assert.Equal(t, "docs", call.req.Dataset)
	assert.Equal(t, indexer.ModeFull, call.req.Mode)
	assert.Equal(t, "/tmp/src", call.root)
}

func TestIngestLocalWaitForCompletion(t *testing.T) {
	idx := &fakeIndexer{}
	s := newTestServer(t, idx, nil, nil)

	rec := do(s, http.MethodPost, "/projects/acme/ingest/local",
		`{"path": "/tmp/src", "waitForCompletion": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed"`)
	// The run finished inside the request; no polling needed.
	require.Len(t, idx.localCalls(), 1)
}

func TestIngestLocalWaitSurfacesFailure(t *testing.T) {
	idx := &fakeIndexer{err: fmt.Errorf("walk failed")}
	s := newTestServer(t, idx, nil, nil)

	rec := do(s, http.MethodPost, "/projects/acme/ingest/local",
		`{"path": "/tmp/src", "waitForCompletion": true}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCrawlWaitForCompletion(t *testing.T) {
	idx := &fakeIndexer{}
	runner := &fakeRunner{pages: []crawl.Page{{URL: "https://x.test/a", Markdown: "# A"}}}
	s := newTestServer(t, idx, runner, nil)

	rec := do(s, http.MethodPost, "/projects/acme/crawl",
		`{"mode": "single", "url": "https://x.test/a", "waitForCompletion": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed"`)
	require.Len(t, idx.indexedPages(), 1)
}

func TestIngestLocalValidation(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, nil, nil)

	rec := do(s, http.MethodPost, "/projects/acme/ingest/local", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/projects/acme/ingest/local",
		`{"path": "/tmp/src", "mode": "sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestGitHubRequiresURL(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, nil, nil)
	rec := do(s, http.MethodPost, "/projects/acme/ingest/github", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlRunsAndIndexesPages(t *testing.T) {
	idx := &fakeIndexer{}
	runner := &fakeRunner{pages: []crawl.Page{
		{URL: "https://x.test/a", Markdown: "# A"},
		{URL: "https://x.test/b", Markdown: "# B"},
	}}
	tracker := progress.NewTracker()
	s := newTestServer(t, idx, runner, tracker)

	rec := do(s, http.MethodPost, "/projects/acme/crawl",
		`{"mode": "batch", "urls": ["https://x.test/a", "https://x.test/b"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acme/web"`)

	require.Eventually(t, func() bool {
		return len(idx.indexedPages()) == 2
	}, time.Second, 5*time.Millisecond)

	got, ok := tracker.Get(progress.IndexKey("acme", "web"))
	require.True(t, ok)
	assert.Equal(t, progress.PhaseCrawling, got.Phase)
}

func TestCrawlFailureFailsOperation(t *testing.T) {
	tracker := progress.NewTracker()
	s := newTestServer(t, &fakeIndexer{}, &fakeRunner{err: fmt.Errorf("runner down")}, tracker)

	rec := do(s, http.MethodPost, "/projects/acme/crawl",
		`{"mode": "single", "url": "https://x.test/a"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		got, ok := tracker.Get(progress.IndexKey("acme", "web"))
		return ok && got.Status == progress.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestCrawlValidation(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, &fakeRunner{}, nil)

	rec := do(s, http.MethodPost, "/projects/acme/crawl", `{"mode": "batch"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/projects/acme/crawl", `{"mode": "psychic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/projects/acme/crawl", `{"mode": "recursive"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlUnconfigured(t *testing.T) {
	s := newTestServer(t, &fakeIndexer{}, nil, nil)
	rec := do(s, http.MethodPost, "/projects/acme/crawl",
		`{"mode": "single", "url": "https://x.test/a"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressEndpoints(t *testing.T) {
	tracker := progress.NewTracker()
	tracker.Start("acme/docs", "acme", "docs")
	tracker.Start("acme/web", "acme", "web")
	tracker.Start("other/docs", "other", "docs")
	tracker.Complete("acme/web")

	s := newTestServer(t, &fakeIndexer{}, nil, tracker)

	rec := do(s, http.MethodGet, "/projects/acme/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme/docs")
	assert.Contains(t, rec.Body.String(), "acme/web")
	assert.NotContains(t, rec.Body.String(), "other/docs")

	rec = do(s, http.MethodGet, "/projects/acme/progress?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "acme/web")

	rec = do(s, http.MethodGet, "/projects/all/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "other/docs")

	rec = do(s, http.MethodGet, "/projects/acme/progress?operationId=acme/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"starting"`)

	rec = do(s, http.MethodGet, "/projects/acme/progress?operationId=ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

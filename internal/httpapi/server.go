// Package httpapi is the HTTP surface: ingest and crawl triggers, progress
// reads, health, and metrics.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/indexer"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/progress"
)

// Indexer is the slice of the indexing coordinator the server drives.
type Indexer interface {
	IndexLocal(ctx context.Context, req indexer.Request, root string) (*indexer.Result, error)
	IndexGitHub(ctx context.Context, req indexer.Request, repoURL, ref string) (*indexer.Result, error)
	IndexPages(ctx context.Context, req indexer.Request, pages []crawl.Page) (*indexer.Result, error)
}

// CrawlRunner runs one crawl strategy.
type CrawlRunner interface {
	Run(ctx context.Context, req crawl.Request, onProgress crawl.Progress) ([]crawl.Page, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	indexer  Indexer
	crawler  CrawlRunner
	tracker  *progress.Tracker
	metrics  *Metrics
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	cfg      config.ServerConfig
}

// NewServer wires the server. A nil gatherer falls back to the default
// prometheus gatherer.
func NewServer(idx Indexer, crawler CrawlRunner, tracker *progress.Tracker, metrics *Metrics, gatherer prometheus.Gatherer, cfg config.ServerConfig, logger *logging.Logger) (*Server, error) {
	if idx == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		indexer:  idx,
		crawler:  crawler,
		tracker:  tracker,
		metrics:  metrics,
		gatherer: gatherer,
		logger:   logger,
		cfg:      cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger logs and instruments every request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start)

		ctx := c.Request().Context()
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		s.metrics.Record(c.Request().Method, c.Path(), c.Response().Status, duration)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo.POST("/projects/:project/ingest/local", s.handleIngestLocal)
	s.echo.POST("/projects/:project/ingest/github", s.handleIngestGitHub)
	s.echo.POST("/projects/:project/crawl", s.handleCrawl)
	s.echo.GET("/projects/:project/progress", s.handleProgress)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// IngestLocalRequest is the body for POST /projects/:project/ingest/local.
type IngestLocalRequest struct {
	Path              string            `json:"path"`
	Dataset           string            `json:"dataset"`
	Mode              string            `json:"mode"`
	Tags              map[string]string `json:"tags"`
	WaitForCompletion bool              `json:"waitForCompletion"`
}

// IngestGitHubRequest is the body for POST /projects/:project/ingest/github.
type IngestGitHubRequest struct {
	URL               string            `json:"url"`
	Ref               string            `json:"ref"`
	Dataset           string            `json:"dataset"`
	Mode              string            `json:"mode"`
	Tags              map[string]string `json:"tags"`
	WaitForCompletion bool              `json:"waitForCompletion"`
}

// CrawlRequest is the body for POST /projects/:project/crawl.
type CrawlRequest struct {
	Mode              string            `json:"mode"`
	URL               string            `json:"url"`
	URLs              []string          `json:"urls"`
	Dataset           string            `json:"dataset"`
	MaxPages          int               `json:"max_pages"`
	MaxDepth          int               `json:"max_depth"`
	SameDomainOnly    bool              `json:"same_domain_only"`
	Tags              map[string]string `json:"tags"`
	WaitForCompletion bool              `json:"waitForCompletion"`
}

// OperationResponse acknowledges an accepted long-running operation.
type OperationResponse struct {
	OperationID string `json:"operation_id"`
	Project     string `json:"project"`
	Dataset     string `json:"dataset"`
	Status      string `json:"status"`
}

func (s *Server) handleIngestLocal(c echo.Context) error {
	project := c.Param("project")
	var req IngestLocalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path field is required")
	}
	mode, err := parseIndexMode(req.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dataset := req.Dataset
	if dataset == "" {
		dataset = "local"
	}

	ir := indexer.Request{Project: project, Dataset: dataset, Mode: mode, Tags: req.Tags}
	return s.runOrLaunch(c, project, dataset, "local ingest", req.WaitForCompletion,
		func(ctx context.Context) error {
			_, err := s.indexer.IndexLocal(ctx, ir, req.Path)
			return err
		})
}

func (s *Server) handleIngestGitHub(c echo.Context) error {
	project := c.Param("project")
	var req IngestGitHubRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
	}
	mode, err := parseIndexMode(req.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dataset := req.Dataset
	if dataset == "" {
		dataset = "local"
	}

	ir := indexer.Request{Project: project, Dataset: dataset, Mode: mode, Tags: req.Tags}
	return s.runOrLaunch(c, project, dataset, "github ingest", req.WaitForCompletion,
		func(ctx context.Context) error {
			_, err := s.indexer.IndexGitHub(ctx, ir, req.URL, req.Ref)
			return err
		})
}

func (s *Server) handleCrawl(c echo.Context) error {
	project := c.Param("project")
	var req CrawlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if s.crawler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "crawling is not configured")
	}

	crawlMode := crawl.Mode(req.Mode)
	switch crawlMode {
	case crawl.ModeSingle, crawl.ModeRecursive, crawl.ModeSitemap:
		if req.URL == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "url field is required")
		}
	case crawl.ModeBatch:
		if len(req.URLs) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "urls field is required")
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown crawl mode %q", req.Mode))
	}

	dataset := req.Dataset
	if dataset == "" {
		dataset = "web"
	}
	key := progress.IndexKey(project, dataset)
	s.tracker.Start(key, project, dataset)

	cr := crawl.Request{
		Mode:           crawlMode,
		URL:            req.URL,
		URLs:           req.URLs,
		MaxPages:       req.MaxPages,
		MaxDepth:       req.MaxDepth,
		SameDomainOnly: req.SameDomainOnly,
	}
	ir := indexer.Request{Project: project, Dataset: dataset, Tags: req.Tags}
	return s.runOrLaunch(c, project, dataset, "crawl", req.WaitForCompletion,
		func(ctx context.Context) error {
			pages, err := s.crawler.Run(ctx, cr, func(crawled, discovered int) {
				pct := 0
				if discovered > 0 {
					pct = crawled * 100 / discovered
				}
				s.tracker.SetPhase(key, progress.PhaseCrawling, pct)
			})
			if err != nil {
				s.tracker.Fail(key, err)
				return err
			}
			_, err = s.indexer.IndexPages(ctx, ir, pages)
			return err
		})
}

// ProgressResponse is the body for GET /projects/:project/progress.
type ProgressResponse struct {
	Operations []progress.Record `json:"operations"`
}

// handleProgress serves progress snapshots. The "all" project spans every
// project; ?active=true keeps only in-flight operations; ?operationId=
// returns one record.
func (s *Server) handleProgress(c echo.Context) error {
	project := c.Param("project")
	activeOnly := c.QueryParam("active") == "true"

	if opID := c.QueryParam("operationId"); opID != "" {
		rec, ok := s.tracker.Get(opID)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "operation not found")
		}
		return c.JSON(http.StatusOK, rec)
	}

	var records []progress.Record
	if project == "all" {
		records = s.tracker.List(activeOnly)
	} else {
		records = s.tracker.ListForProject(project, activeOnly)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].OperationID < records[j].OperationID
	})
	return c.JSON(http.StatusOK, ProgressResponse{Operations: records})
}

// runOrLaunch dispatches a long-running operation. By default fn runs
// detached and the 202 acknowledgement returns immediately; with
// waitForCompletion set it runs inline and the response carries the
// terminal status.
func (s *Server) runOrLaunch(c echo.Context, project, dataset, name string, wait bool, fn func(context.Context) error) error {
	if wait {
		if err := fn(c.Request().Context()); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return operationStatus(c, http.StatusOK, project, dataset, "completed")
	}
	s.launch(c, name, fn)
	return operationStatus(c, http.StatusAccepted, project, dataset, "accepted")
}

// launch runs fn detached from the request lifecycle; progress is read
// from the tracker.
func (s *Server) launch(c echo.Context, name string, fn func(context.Context) error) {
	ctx := context.WithoutCancel(c.Request().Context())
	go func() {
		if err := fn(ctx); err != nil {
			s.logger.Error(ctx, name+" failed", zap.Error(err))
		}
	}()
}

func operationStatus(c echo.Context, code int, project, dataset, status string) error {
	return c.JSON(code, OperationResponse{
		OperationID: progress.IndexKey(project, dataset),
		Project:     project,
		Dataset:     dataset,
		Status:      status,
	})
}

func parseIndexMode(raw string) (indexer.Mode, error) {
	switch mode := indexer.Mode(raw); mode {
	case "":
		return indexer.ModeIncremental, nil
	case indexer.ModeIncremental, indexer.ModeFull, indexer.ModeForced:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown index mode %q", raw)
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Package mcp exposes the daemon's operations as MCP tools in the
// claudeContext namespace, served over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/defaults"
	"github.com/claudecontext/islandd/internal/indexer"
	"github.com/claudecontext/islandd/internal/llm"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/progress"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/search"
	"github.com/claudecontext/islandd/internal/vectorstore"
)

// Indexer is the slice of the indexing coordinator the tools drive.
type Indexer interface {
	IndexLocal(ctx context.Context, req indexer.Request, root string) (*indexer.Result, error)
	IndexGitHub(ctx context.Context, req indexer.Request, repoURL, ref string) (*indexer.Result, error)
	IndexPages(ctx context.Context, req indexer.Request, pages []crawl.Page) (*indexer.Result, error)
}

// CrawlRunner runs one crawl strategy.
type CrawlRunner interface {
	Run(ctx context.Context, req crawl.Request, onProgress crawl.Progress) ([]crawl.Page, error)
}

// Searcher runs the retrieval pipeline.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Answerer synthesizes answers for smart_query. Optional.
type Answerer interface {
	Answer(ctx context.Context, question string, results []search.Result) (*llm.Answer, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name.
	Name string

	// Version is the server version.
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "islandd",
		Version: "1.0.0",
	}
}

// Server exposes the claudeContext tools.
type Server struct {
	mcp      *mcp.Server
	registry *registry.Store
	store    vectorstore.Store
	indexer  Indexer
	crawler  CrawlRunner
	searcher Searcher
	answerer Answerer
	defaults *defaults.Store
	tracker  *progress.Tracker
	logger   *logging.Logger
}

// NewServer wires the MCP server. The answerer and crawler are optional;
// their tools report unavailability when absent.
func NewServer(cfg *Config, reg *registry.Store, store vectorstore.Store, idx Indexer, crawler CrawlRunner, searcher Searcher, answerer Answerer, def *defaults.Store, tracker *progress.Tracker, logger *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if def == nil {
		return nil, fmt.Errorf("defaults store is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		registry: reg,
		store:    store,
		indexer:  idx,
		crawler:  crawler,
		searcher: searcher,
		answerer: answerer,
		defaults: def,
		tracker:  tracker,
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves the tools on the stdio transport until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// resolveScope applies the scoping precedence for tools called without an
// explicit project or dataset.
func (s *Server) resolveScope(explicitProject, explicitDataset, path string) (string, string, error) {
	project, err := s.defaults.ResolveProject(explicitProject, path)
	if err != nil {
		return "", "", fmt.Errorf("resolving project: %w", err)
	}
	dataset, err := s.defaults.ResolveDataset(explicitDataset)
	if err != nil {
		return "", "", fmt.Errorf("resolving dataset: %w", err)
	}
	return project, dataset, nil
}

func (s *Server) logToolError(ctx context.Context, tool string, err error) {
	if err != nil {
		s.logger.Warn(ctx, "tool call failed",
			zap.String("tool", tool), zap.Error(err))
	}
}

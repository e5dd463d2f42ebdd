package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/defaults"
	"github.com/claudecontext/islandd/internal/indexer"
	"github.com/claudecontext/islandd/internal/llm"
	"github.com/claudecontext/islandd/internal/progress"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/scope"
	"github.com/claudecontext/islandd/internal/search"
)

// statusTimeout bounds the status tool's backend probes.
const statusTimeout = 10 * time.Second

// indexGitHubWait caps how long the indexGitHub tool blocks when the
// caller asks to wait for completion.
const indexGitHubWait = 120 * time.Second

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.init",
		Description: "Initialize the current scope: resolve or auto-derive the project and dataset, register them, and save them as defaults for later tool calls.",
	}, s.handleInit)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.index",
		Description: "Index a local directory tree into the current or given (project, dataset) scope. Returns immediately with an operation id; poll claudeContext.status for progress. Incremental by default; mode 'full' wipes and re-indexes, 'forced' rewrites every chunk.",
	}, s.handleIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.indexGitHub",
		Description: "Shallow-clone a git repository and index it into the given scope. Detached by default; set wait to block up to 120 seconds for the result.",
	}, s.handleIndexGitHub)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.crawl",
		Description: "Crawl web pages (single, batch, recursive, or sitemap mode) and index the rendered markdown into the given scope. Returns an operation id for progress polling.",
	}, s.handleCrawl)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.search",
		Description: "Hybrid semantic search across the project's datasets. The dataset selector accepts a name, a list, a glob, '*', or a tag alias like 'env:prod'.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.query",
		Description: "Alias of claudeContext.search.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.smart_query",
		Description: "Search and synthesize a cited answer from the retrieved chunks. Falls back to raw results when no synthesis model is configured.",
	}, s.handleSmartQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.status",
		Description: "Daemon status: backend reachability and in-flight operations.",
	}, s.handleStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.clear",
		Description: "Remove datasets (or a whole project's datasets) from the registry and the vector store. Supports dry-run.",
	}, s.handleClear)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.listDatasets",
		Description: "List a project's datasets with their collection bindings and chunk counts.",
	}, s.handleListDatasets)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.listScopes",
		Description: "List every registered project and its datasets.",
	}, s.handleListScopes)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "claudeContext.getDatasetStats",
		Description: "Per-dataset statistics: chunk, source, and page counts plus last index time.",
	}, s.handleDatasetStats)
}

type initInput struct {
	Project string `json:"project,omitempty" jsonschema:"Project name; omitted means auto-derive from path or working directory"`
	Dataset string `json:"dataset,omitempty" jsonschema:"Dataset name (default: local)"`
	Path    string `json:"path,omitempty" jsonschema:"Directory the project name is derived from when no project is given"`
}

type initOutput struct {
	Project    string `json:"project"`
	Dataset    string `json:"dataset"`
	Collection string `json:"collection"`
}

func (s *Server) handleInit(ctx context.Context, _ *mcp.CallToolRequest, args initInput) (*mcp.CallToolResult, initOutput, error) {
	project, dataset, err := s.resolveScope(args.Project, args.Dataset, args.Path)
	if err != nil {
		return nil, initOutput{}, err
	}
	collection, err := scope.CollectionName(project, dataset)
	if err != nil {
		return nil, initOutput{}, err
	}
	if _, err := s.registry.EnsureDataset(ctx, project, dataset, nil); err != nil {
		s.logToolError(ctx, "claudeContext.init", err)
		return nil, initOutput{}, err
	}
	if err := s.defaults.Save(defaults.Defaults{Project: project, Dataset: dataset}); err != nil {
		return nil, initOutput{}, err
	}
	return nil, initOutput{Project: project, Dataset: dataset, Collection: collection}, nil
}

type indexInput struct {
	Path    string            `json:"path" jsonschema:"required,Directory tree to index"`
	Project string            `json:"project,omitempty"`
	Dataset string            `json:"dataset,omitempty"`
	Mode    string            `json:"mode,omitempty" jsonschema:"incremental (default), full, or forced"`
	Tags    map[string]string `json:"tags,omitempty" jsonschema:"Tags merged into the dataset's tag map"`
}

// operationOutput acknowledges a detached indexing run. The operation id
// feeds the status tool and the progress endpoints.
type operationOutput struct {
	OperationID string          `json:"operation_id"`
	Project     string          `json:"project"`
	Dataset     string          `json:"dataset"`
	Status      string          `json:"status"`
	Result      *indexer.Result `json:"result,omitempty"`
}

func (s *Server) handleIndex(ctx context.Context, _ *mcp.CallToolRequest, args indexInput) (*mcp.CallToolResult, operationOutput, error) {
	if args.Path == "" {
		return nil, operationOutput{}, fmt.Errorf("path is required")
	}
	req, err := s.indexRequest(args.Project, args.Dataset, args.Path, args.Mode, args.Tags)
	if err != nil {
		return nil, operationOutput{}, err
	}

	out := s.launchIndexing(ctx, req, func(bg context.Context) (*indexer.Result, error) {
		return s.indexer.IndexLocal(bg, req, args.Path)
	}, "claudeContext.index")
	return nil, out, nil
}

type indexGitHubInput struct {
	URL     string            `json:"url" jsonschema:"required,Repository clone URL"`
	Ref     string            `json:"ref,omitempty" jsonschema:"Branch to clone (default: the remote's default branch)"`
	Project string            `json:"project,omitempty"`
	Dataset string            `json:"dataset,omitempty"`
	Mode    string            `json:"mode,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
	Wait    bool              `json:"wait,omitempty" jsonschema:"Wait up to 120 seconds for the run to finish"`
}

func (s *Server) handleIndexGitHub(ctx context.Context, _ *mcp.CallToolRequest, args indexGitHubInput) (*mcp.CallToolResult, operationOutput, error) {
	if args.URL == "" {
		return nil, operationOutput{}, fmt.Errorf("url is required")
	}
	req, err := s.indexRequest(args.Project, args.Dataset, "", args.Mode, args.Tags)
	if err != nil {
		return nil, operationOutput{}, err
	}

	done := make(chan indexOutcome, 1)
	out := s.launchIndexingNotify(ctx, req, func(bg context.Context) (*indexer.Result, error) {
		return s.indexer.IndexGitHub(bg, req, args.URL, args.Ref)
	}, "claudeContext.indexGitHub", done)
	if !args.Wait {
		return nil, out, nil
	}

	select {
	case outcome := <-done:
		if outcome.err != nil {
			return nil, operationOutput{}, outcome.err
		}
		out.Status = progress.StatusCompleted
		out.Result = outcome.result
		return nil, out, nil
	case <-time.After(indexGitHubWait):
		// Still running; hand back the operation id for polling.
		if rec, ok := s.tracker.Get(out.OperationID); ok {
			out.Status = rec.Status
		}
		return nil, out, nil
	case <-ctx.Done():
		return nil, out, nil
	}
}

type indexOutcome struct {
	result *indexer.Result
	err    error
}

// launchIndexing starts a run detached from the request context and
// returns immediately with its operation id.
func (s *Server) launchIndexing(ctx context.Context, req indexer.Request, run func(context.Context) (*indexer.Result, error), tool string) operationOutput {
	return s.launchIndexingNotify(ctx, req, run, tool, nil)
}

func (s *Server) launchIndexingNotify(ctx context.Context, req indexer.Request, run func(context.Context) (*indexer.Result, error), tool string, done chan<- indexOutcome) operationOutput {
	key := progress.IndexKey(req.Project, req.Dataset)
	rec := s.tracker.Start(key, req.Project, req.Dataset)

	bg := context.WithoutCancel(ctx)
	go func() {
		result, err := run(bg)
		if err != nil {
			s.logToolError(bg, tool, err)
		}
		if done != nil {
			done <- indexOutcome{result: result, err: err}
		}
	}()

	return operationOutput{
		OperationID: key,
		Project:     req.Project,
		Dataset:     req.Dataset,
		Status:      rec.Status,
	}
}

func (s *Server) indexRequest(project, dataset, path, mode string, tags map[string]string) (indexer.Request, error) {
	resolvedProject, resolvedDataset, err := s.resolveScope(project, dataset, path)
	if err != nil {
		return indexer.Request{}, err
	}
	parsedMode, err := parseIndexMode(mode)
	if err != nil {
		return indexer.Request{}, err
	}
	return indexer.Request{
		Project: resolvedProject,
		Dataset: resolvedDataset,
		Mode:    parsedMode,
		Tags:    tags,
	}, nil
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

type crawlInput struct {
	Mode           string            `json:"mode" jsonschema:"required,single, batch, recursive, or sitemap. Always explicit; one URL does not imply single mode"`
	URL            string            `json:"url,omitempty" jsonschema:"Seed URL for single, recursive, and sitemap crawls"`
	URLs           []string          `json:"urls,omitempty" jsonschema:"URL list for batch crawls"`
	Project        string            `json:"project,omitempty"`
	Dataset        string            `json:"dataset,omitempty" jsonschema:"Dataset name (default: web)"`
	MaxPages       int               `json:"max_pages,omitempty" jsonschema:"Page cap; zero means unlimited"`
	MaxDepth       int               `json:"max_depth,omitempty" jsonschema:"Recursion depth; zero means seed only"`
	SameDomainOnly bool              `json:"same_domain_only,omitempty" jsonschema:"Restrict recursive crawls to the seed URL's domain"`
	Tags           map[string]string `json:"tags,omitempty"`
}

func (s *Server) handleCrawl(ctx context.Context, _ *mcp.CallToolRequest, args crawlInput) (*mcp.CallToolResult, operationOutput, error) {
	if s.crawler == nil {
		return nil, operationOutput{}, fmt.Errorf("crawling is not configured")
	}
	project, err := s.defaults.ResolveProject(args.Project, "")
	if err != nil {
		return nil, operationOutput{}, err
	}
	dataset := args.Dataset
	if dataset == "" {
		dataset = "web"
	}

	key := progress.IndexKey(project, dataset)
	rec := s.tracker.Start(key, project, dataset)

	bg := context.WithoutCancel(ctx)
	go func() {
		pages, err := s.crawler.Run(bg, crawl.Request{
			Mode:           crawl.Mode(args.Mode),
			URL:            args.URL,
			URLs:           args.URLs,
			MaxPages:       args.MaxPages,
			MaxDepth:       args.MaxDepth,
			SameDomainOnly: args.SameDomainOnly,
		}, func(crawled, discovered int) {
			pct := 0
			if discovered > 0 {
				pct = crawled * 100 / discovered
			}
			s.tracker.SetPhase(key, progress.PhaseCrawling, pct)
		})
		if err != nil {
			s.tracker.Fail(key, err)
			s.logToolError(bg, "claudeContext.crawl", err)
			return
		}

		// IndexPages drives the tracker to its terminal state.
		if _, err := s.indexer.IndexPages(bg, indexer.Request{
			Project: project,
			Dataset: dataset,
			Tags:    args.Tags,
		}, pages); err != nil {
			s.logToolError(bg, "claudeContext.crawl", err)
		}
	}()

	return nil, operationOutput{
		OperationID: key,
		Project:     project,
		Dataset:     dataset,
		Status:      rec.Status,
	}, nil
}

type searchInput struct {
	Query      string   `json:"query" jsonschema:"required,Natural-language or code query"`
	Project    string   `json:"project,omitempty"`
	Dataset    string   `json:"dataset,omitempty" jsonschema:"Dataset selector: a name, glob, '*', or tag alias like env:prod"`
	Datasets   []string `json:"datasets,omitempty" jsonschema:"Explicit dataset list; overrides dataset"`
	TopK       int      `json:"top_k,omitempty"`
	Threshold  float64  `json:"threshold,omitempty" jsonschema:"Minimum final score"`
	PathPrefix string   `json:"path_prefix,omitempty" jsonschema:"Keep only results under this source-path prefix"`
	Language   string   `json:"language,omitempty" jsonschema:"Keep only results in this source language"`
	Repo       string   `json:"repo,omitempty" jsonschema:"Keep only results from this repository URL"`
}

type searchOutput struct {
	Results []search.Result `json:"results"`
	Count   int             `json:"count"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
	opts, err := s.searchOptions(args)
	if err != nil {
		return nil, searchOutput{}, err
	}

	results, err := s.searcher.Search(ctx, args.Query, opts)
	if err != nil {
		s.logToolError(ctx, "claudeContext.search", err)
		return nil, searchOutput{}, err
	}
	return nil, searchOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) searchOptions(args searchInput) (search.Options, error) {
	project, dataset, err := s.resolveScope(args.Project, args.Dataset, "")
	if err != nil {
		return search.Options{}, err
	}

	var selector any = dataset
	if len(args.Datasets) > 0 {
		selector = args.Datasets
	}
	return search.Options{
		Project:    project,
		Dataset:    selector,
		TopK:       args.TopK,
		Threshold:  args.Threshold,
		PathPrefix: args.PathPrefix,
		Language:   args.Language,
		Repo:       args.Repo,
	}, nil
}

type smartQueryInput struct {
	Question string   `json:"question" jsonschema:"required"`
	Project  string   `json:"project,omitempty"`
	Dataset  string   `json:"dataset,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	TopK     int      `json:"top_k,omitempty"`
}

type smartQueryOutput struct {
	Answer    string          `json:"answer,omitempty"`
	Citations []llm.Citation  `json:"citations,omitempty"`
	Results   []search.Result `json:"results"`
	Message   string          `json:"message,omitempty"`
}

func (s *Server) handleSmartQuery(ctx context.Context, _ *mcp.CallToolRequest, args smartQueryInput) (*mcp.CallToolResult, smartQueryOutput, error) {
	opts, err := s.searchOptions(searchInput{
		Project:  args.Project,
		Dataset:  args.Dataset,
		Datasets: args.Datasets,
		TopK:     args.TopK,
	})
	if err != nil {
		return nil, smartQueryOutput{}, err
	}

	results, err := s.searcher.Search(ctx, args.Question, opts)
	if err != nil {
		s.logToolError(ctx, "claudeContext.smart_query", err)
		return nil, smartQueryOutput{}, err
	}
	if len(results) == 0 {
		return nil, smartQueryOutput{Results: []search.Result{}, Message: "no matching context found"}, nil
	}
	if s.answerer == nil {
		return nil, smartQueryOutput{Results: results, Message: "no synthesis model configured, returning raw results"}, nil
	}

	answer, err := s.answerer.Answer(ctx, args.Question, results)
	if err != nil {
		// Synthesis failure is a degradation, not a tool failure.
		s.logToolError(ctx, "claudeContext.smart_query", err)
		return nil, smartQueryOutput{Results: results, Message: "answer synthesis failed, returning raw results"}, nil
	}
	return nil, smartQueryOutput{
		Answer:    answer.Text,
		Citations: answer.Citations,
		Results:   results,
	}, nil
}

type statusInput struct {
	Project string `json:"project,omitempty" jsonschema:"Project to report on; omitted means the current default scope"`
	Dataset string `json:"dataset,omitempty" jsonschema:"Narrow the report to one dataset's operation"`
}

type statusOutput struct {
	Project          string            `json:"project"`
	Database         string            `json:"database"`
	VectorStore      string            `json:"vector_store"`
	Hybrid           bool              `json:"hybrid"`
	ActiveOperations []progress.Record `json:"active_operations"`
	Message          string            `json:"message,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, args statusInput) (*mcp.CallToolResult, statusOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	project, err := s.defaults.ResolveProject(args.Project, "")
	if err != nil {
		return nil, statusOutput{}, err
	}

	ops := s.tracker.ListForProject(project, true)
	if args.Dataset != "" {
		key := progress.IndexKey(project, args.Dataset)
		ops = ops[:0]
		if rec, ok := s.tracker.Get(key); ok && !rec.Terminal() {
			ops = append(ops, rec)
		}
	}

	out := statusOutput{
		Project:          project,
		Database:         "ok",
		VectorStore:      "ok",
		Hybrid:           s.store.Hybrid(),
		ActiveOperations: ops,
	}
	if err := s.registry.Ping(ctx); err != nil {
		out.Database = "unreachable"
		out.Message = "database unreachable"
	}
	if _, err := s.store.CollectionExists(ctx, "islandd_healthcheck"); err != nil {
		out.VectorStore = "unreachable"
	}
	return nil, out, nil
}

type clearInput struct {
	Project  string   `json:"project,omitempty"`
	Datasets []string `json:"datasets,omitempty" jsonschema:"Datasets to remove; empty means every dataset in the project"`
	DryRun   bool     `json:"dry_run,omitempty" jsonschema:"Report what would be removed without removing it"`
}

type clearOutput struct {
	Cleared []registry.ClearedDataset `json:"cleared"`
	DryRun  bool                      `json:"dry_run"`
}

func (s *Server) handleClear(ctx context.Context, _ *mcp.CallToolRequest, args clearInput) (*mcp.CallToolResult, clearOutput, error) {
	project, err := s.defaults.ResolveProject(args.Project, "")
	if err != nil {
		return nil, clearOutput{}, err
	}

	cleared, err := s.registry.Clear(ctx, project, args.Datasets, args.DryRun)
	if err != nil {
		s.logToolError(ctx, "claudeContext.clear", err)
		return nil, clearOutput{}, err
	}
	if !args.DryRun {
		for _, d := range cleared {
			if d.CollectionName == "" {
				continue
			}
			if err := s.store.DeleteCollection(ctx, d.CollectionName); err != nil {
				s.logToolError(ctx, "claudeContext.clear", err)
				return nil, clearOutput{}, fmt.Errorf("dropping collection %s: %w", d.CollectionName, err)
			}
		}
	}
	return nil, clearOutput{Cleared: cleared, DryRun: args.DryRun}, nil
}

type listDatasetsInput struct {
	Project string `json:"project,omitempty"`
}

type datasetEntry struct {
	Name          string            `json:"name"`
	Collection    string            `json:"collection,omitempty"`
	ChunkCount    int64             `json:"chunk_count"`
	LastIndexedAt *time.Time        `json:"last_indexed_at,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type listDatasetsOutput struct {
	Project  string         `json:"project"`
	Datasets []datasetEntry `json:"datasets"`
}

func (s *Server) handleListDatasets(ctx context.Context, _ *mcp.CallToolRequest, args listDatasetsInput) (*mcp.CallToolResult, listDatasetsOutput, error) {
	project, err := s.defaults.ResolveProject(args.Project, "")
	if err != nil {
		return nil, listDatasetsOutput{}, err
	}

	infos, err := s.registry.ListDatasets(ctx, project)
	if err != nil {
		s.logToolError(ctx, "claudeContext.listDatasets", err)
		return nil, listDatasetsOutput{}, err
	}

	out := listDatasetsOutput{Project: project, Datasets: make([]datasetEntry, 0, len(infos))}
	for _, info := range infos {
		entry := datasetEntry{Name: info.Name, Tags: info.TagMap()}
		if info.CollectionName.Valid {
			entry.Collection = info.CollectionName.String
			entry.ChunkCount = info.ChunkCount.Int64
		}
		if info.LastIndexedAt.Valid {
			t := info.LastIndexedAt.Time
			entry.LastIndexedAt = &t
		}
		out.Datasets = append(out.Datasets, entry)
	}
	return nil, out, nil
}

type listScopesInput struct{}

type scopeEntry struct {
	Project  string   `json:"project"`
	Datasets []string `json:"datasets"`
}

type listScopesOutput struct {
	Scopes []scopeEntry `json:"scopes"`
}

func (s *Server) handleListScopes(ctx context.Context, _ *mcp.CallToolRequest, _ listScopesInput) (*mcp.CallToolResult, listScopesOutput, error) {
	projects, err := s.registry.ListProjects(ctx)
	if err != nil {
		s.logToolError(ctx, "claudeContext.listScopes", err)
		return nil, listScopesOutput{}, err
	}

	out := listScopesOutput{Scopes: make([]scopeEntry, 0, len(projects))}
	for _, p := range projects {
		infos, err := s.registry.ListDatasets(ctx, p.Name)
		if err != nil {
			return nil, listScopesOutput{}, err
		}
		entry := scopeEntry{Project: p.Name, Datasets: make([]string, 0, len(infos))}
		for _, info := range infos {
			entry.Datasets = append(entry.Datasets, info.Name)
		}
		out.Scopes = append(out.Scopes, entry)
	}
	return nil, out, nil
}

type statsInput struct {
	Project string `json:"project,omitempty"`
	Dataset string `json:"dataset,omitempty"`
}

func (s *Server) handleDatasetStats(ctx context.Context, _ *mcp.CallToolRequest, args statsInput) (*mcp.CallToolResult, registry.DatasetStats, error) {
	project, dataset, err := s.resolveScope(args.Project, args.Dataset, "")
	if err != nil {
		return nil, registry.DatasetStats{}, err
	}

	stats, err := s.registry.Stats(ctx, project, dataset)
	if err != nil {
		s.logToolError(ctx, "claudeContext.getDatasetStats", err)
		return nil, registry.DatasetStats{}, err
	}
	return nil, *stats, nil
}

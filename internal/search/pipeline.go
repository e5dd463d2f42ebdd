// Package search is the retrieval pipeline: selector expansion, query
// embedding, per-collection vector queries, client-side fusion, optional
// reranking, and final shaping.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/embeddings"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/scope"
	"github.com/claudecontext/islandd/internal/vectorstore"
)

// collectionQueryLimit bounds concurrent per-collection queries.
const collectionQueryLimit = 4

// Options shapes one search request.
type Options struct {
	// Project is required.
	Project string

	// Dataset is the raw selector value (string or list); nil means the
	// default dataset.
	Dataset any

	// TopK caps results; zero uses the configured default.
	TopK int

	// Threshold drops results scoring below it. Applied to the final
	// score, reranked or fused.
	Threshold float64

	// PathPrefix keeps only results whose source path starts with it.
	// Applied per collection before fusion, with a widened candidate
	// depth so the prefix does not starve recall.
	PathPrefix string

	// Language and Repo filter server-side on the point payload.
	Language string
	Repo     string
}

// Result is one search hit.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	Score      float64 `json:"score"`
	Dataset    string  `json:"dataset"`
	SourcePath string  `json:"source_path"`
	Content    string  `json:"content"`
	Language   string  `json:"language,omitempty"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	SymbolName string  `json:"symbol_name,omitempty"`
	SymbolKind string  `json:"symbol_kind,omitempty"`
}

// Pipeline executes searches across a project's datasets.
type Pipeline struct {
	registry *registry.Store
	store    vectorstore.Store
	gateway  *embeddings.Gateway
	cfg      config.SearchConfig
	logger   *logging.Logger
}

// NewPipeline wires the pipeline.
func NewPipeline(reg *registry.Store, store vectorstore.Store, gateway *embeddings.Gateway, cfg config.SearchConfig, logger *logging.Logger) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.RerankInitialK <= 0 {
		cfg.RerankInitialK = 150
	}
	return &Pipeline{
		registry: reg,
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
	}
}

// Search runs the full pipeline. A selector expanding to zero datasets
// returns an empty result, not an error.
func (p *Pipeline) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("project is required")
	}

	sel, err := scope.ParseSelector(opts.Dataset)
	if err != nil {
		return nil, err
	}
	datasets, err := p.registry.ExpandSelector(ctx, opts.Project, sel)
	if err != nil {
		return nil, err
	}
	p.warnUnregistered(ctx, sel, datasets)
	if len(datasets) == 0 {
		return []Result{}, nil
	}

	dense, err := p.gateway.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	sparse := p.gateway.SparseQuery(ctx, query)

	// Candidate depth: enough for the reranker to bite when enabled,
	// and widened when a path prefix will thin the lists post-query.
	perCollection := p.cfg.TopK
	if opts.TopK > 0 {
		perCollection = opts.TopK
	}
	if p.gateway.Reranking() || opts.PathPrefix != "" {
		perCollection = p.cfg.RerankInitialK
	}

	lists, err := p.queryCollections(ctx, opts, datasets, dense, sparse, perCollection)
	if err != nil {
		return nil, err
	}

	hits := fuseRRF(lists)
	results := p.shape(hits, datasets)

	results = p.rerank(ctx, query, results)

	if opts.Threshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= opts.Threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	topK := p.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// queryCollections fans out one vector query per dataset collection. The
// path prefix filter runs here, on each ranked list before fusion, so a
// narrow prefix still sees the full per-collection candidate depth.
func (p *Pipeline) queryCollections(ctx context.Context, opts Options, datasets []registry.Dataset, dense []float32, sparse *embeddings.SparseVector, limit int) ([][]vectorstore.ScoredPoint, error) {
	var (
		mu    sync.Mutex
		lists [][]vectorstore.ScoredPoint
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectionQueryLimit)
	for _, ds := range datasets {
		ds := ds
		g.Go(func() error {
			collection, err := scope.CollectionName(opts.Project, ds.Name)
			if err != nil {
				return err
			}
			q := vectorstore.Query{
				Collection: collection,
				DatasetID:  ds.ID,
				Dense:      dense,
				Sparse:     sparse,
				Language:   opts.Language,
				Repo:       opts.Repo,
				Limit:      limit,
			}

			var points []vectorstore.ScoredPoint
			if p.store.Hybrid() && sparse != nil {
				points, err = p.store.HybridQuery(gctx, q)
			} else {
				points, err = p.store.Query(gctx, q)
			}
			if err != nil {
				// A dataset registered but never indexed has no
				// collection yet; that is not a search failure.
				if isMissingCollection(err) {
					p.logger.Warn(gctx, "collection missing, skipping",
						zap.String("collection", collection))
					return nil
				}
				return fmt.Errorf("querying %s: %w", collection, err)
			}
			if opts.PathPrefix != "" {
				points = filterPointsPrefix(points, opts.PathPrefix)
			}

			mu.Lock()
			lists = append(lists, points)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// warnUnregistered logs names the selector asked for by name that are not
// registered.
func (p *Pipeline) warnUnregistered(ctx context.Context, sel *scope.Selector, found []registry.Dataset) {
	var requested []string
	switch sel.Kind {
	case scope.SelectorLiteral:
		requested = []string{sel.Literal}
	case scope.SelectorList:
		requested = sel.Names
	default:
		return
	}

	have := make(map[string]bool, len(found))
	for _, d := range found {
		have[d.Name] = true
	}
	for _, name := range requested {
		if !have[name] {
			p.logger.Warn(ctx, "dataset not registered, skipping",
				zap.String("dataset", name))
		}
	}
}

// rerank rescores the candidates with the cross-encoder when enabled.
// Degradation keeps the fused ordering.
func (p *Pipeline) rerank(ctx context.Context, query string, results []Result) []Result {
	if !p.gateway.Reranking() || len(results) == 0 {
		return results
	}

	candidates := results
	if len(candidates) > p.cfg.RerankInitialK {
		candidates = candidates[:p.cfg.RerankInitialK]
	}
	passages := make([]string, len(candidates))
	for i, r := range candidates {
		passages[i] = r.SourcePath + "\n" + r.Content
	}

	scores := p.gateway.Rerank(ctx, query, passages)
	if scores == nil {
		return results
	}

	reranked := make([]Result, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sortResults(reranked)
	return reranked
}

func (p *Pipeline) shape(hits []fusedHit, datasets []registry.Dataset) []Result {
	names := make(map[string]string, len(datasets))
	for _, d := range datasets {
		names[d.ID.String()] = d.Name
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			ChunkID:    h.id,
			Score:      h.score,
			Dataset:    names[payloadString(h.payload, vectorstore.KeyDatasetID)],
			SourcePath: payloadString(h.payload, vectorstore.KeySourcePath),
			Content:    payloadString(h.payload, vectorstore.KeyContent),
			Language:   payloadString(h.payload, vectorstore.KeyLanguage),
			StartLine:  payloadInt(h.payload, vectorstore.KeyStartLine),
			EndLine:    payloadInt(h.payload, vectorstore.KeyEndLine),
			SymbolName: payloadString(h.payload, vectorstore.KeySymbolName),
			SymbolKind: payloadString(h.payload, vectorstore.KeySymbolKind),
		}
		out = append(out, r)
	}
	return out
}

func filterPointsPrefix(points []vectorstore.ScoredPoint, prefix string) []vectorstore.ScoredPoint {
	kept := points[:0]
	for _, pt := range points {
		if strings.HasPrefix(payloadString(pt.Payload, vectorstore.KeySourcePath), prefix) {
			kept = append(kept, pt)
		}
	}
	return kept
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func isMissingCollection(err error) bool {
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return true
	}
	// Qdrant reports missing collections as "Collection ... doesn't exist".
	return err != nil && strings.Contains(err.Error(), "doesn't exist")
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

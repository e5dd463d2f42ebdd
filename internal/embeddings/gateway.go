package embeddings

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/logging"
)

// defaultBatchSize bounds texts per dense/sparse request.
const defaultBatchSize = 64

// Gateway is the embedding front door for indexing and search. Dense
// embeddings are a hard dependency; sparse vectors and reranking degrade
// gracefully when their endpoints misbehave, with a single warning per
// capability per process.
type Gateway struct {
	client    *Client
	logger    *logging.Logger
	metrics   *Metrics
	batchSize int
	dimension int

	hybrid bool
	rerank bool

	sparseWarn sync.Once
	rerankWarn sync.Once
}

// NewGateway wires a gateway from config.
func NewGateway(cfg config.EmbeddingsConfig, search config.SearchConfig, logger *logging.Logger, metrics *Metrics) (*Gateway, error) {
	client, err := NewClient(ClientConfig{
		DenseURL:  cfg.DenseURL,
		SparseURL: cfg.SparseURL,
		RerankURL: cfg.RerankURL,
		APIKey:    cfg.APIKey.Value(),
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Gateway{
		client:    client,
		logger:    logger,
		metrics:   metrics,
		batchSize: batch,
		dimension: cfg.Dimension,
		hybrid:    search.EnableHybrid && cfg.SparseURL != "",
		rerank:    search.EnableReranking && cfg.RerankURL != "",
	}, nil
}

// Dimension returns the configured dense vector dimension.
func (g *Gateway) Dimension() int { return g.dimension }

// Hybrid reports whether sparse vectors are in play.
func (g *Gateway) Hybrid() bool { return g.hybrid }

// Reranking reports whether reranking is in play.
func (g *Gateway) Reranking() bool { return g.rerank }

// EmbedDocuments generates dense vectors for texts, batching requests and
// retrying each batch once. Output order matches input order.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := g.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (g *Gateway) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := g.client.EmbedDocuments(ctx, batch)
	// Retry covers transport hiccups only; an auth rejection will not
	// heal on a second attempt.
	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrAuth) {
		g.logger.Warn(ctx, "dense embed batch failed, retrying once",
			zap.Int("batch_size", len(batch)), zap.Error(err))
		vectors, err = g.client.EmbedDocuments(ctx, batch)
	}
	g.metrics.Record("embed_documents", time.Since(start), len(batch), err)
	return vectors, err
}

// EmbedQuery generates a dense vector for a query.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := g.client.EmbedQuery(ctx, text)
	g.metrics.Record("embed_query", time.Since(start), 1, err)
	return vec, err
}

// SparseDocuments generates SPLADE vectors for texts. When hybrid search
// is off or the sparse endpoint fails, it returns nil and the caller
// proceeds dense-only.
func (g *Gateway) SparseDocuments(ctx context.Context, texts []string) []SparseVector {
	if !g.hybrid || len(texts) == 0 {
		return nil
	}

	out := make([]SparseVector, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		t0 := time.Now()
		vectors, err := g.client.SparseDocuments(ctx, batch)
		g.metrics.Record("sparse_documents", time.Since(t0), len(batch), err)
		if err != nil {
			g.warnSparse(ctx, err)
			return nil
		}
		out = append(out, vectors...)
	}
	return out
}

// SparseQuery generates a SPLADE vector for a query, or nil when hybrid
// search is off or degraded.
func (g *Gateway) SparseQuery(ctx context.Context, text string) *SparseVector {
	if !g.hybrid || text == "" {
		return nil
	}

	start := time.Now()
	vec, err := g.client.SparseQuery(ctx, text)
	g.metrics.Record("sparse_query", time.Since(start), 1, err)
	if err != nil {
		g.warnSparse(ctx, err)
		return nil
	}
	return &vec
}

// Rerank scores passages against a query. When reranking is off or the
// endpoint fails, it returns nil and the caller keeps fused ordering.
func (g *Gateway) Rerank(ctx context.Context, query string, passages []string) []float64 {
	if !g.rerank || len(passages) == 0 {
		return nil
	}

	start := time.Now()
	scores, err := g.client.Rerank(ctx, query, passages)
	g.metrics.Record("rerank", time.Since(start), len(passages), err)
	if err != nil {
		g.rerankWarn.Do(func() {
			g.logger.Warn(ctx, "reranker unavailable, keeping fused ordering", zap.Error(err))
		})
		return nil
	}
	return scores
}

func (g *Gateway) warnSparse(ctx context.Context, err error) {
	g.sparseWarn.Do(func() {
		g.logger.Warn(ctx, "sparse embedding unavailable, continuing dense-only", zap.Error(err))
	})
}

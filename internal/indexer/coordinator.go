// Package indexer coordinates indexing runs: enumeration, chunking,
// embedding, and the dual write to the vector store and the registry.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/chunker"
	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/embeddings"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/progress"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/scope"
	"github.com/claudecontext/islandd/internal/vectorstore"
)

// Mode selects how an indexing run treats existing content.
type Mode string

const (
	// ModeIncremental skips chunks whose id is already registered and
	// removes stale ones. The default.
	ModeIncremental Mode = "incremental"

	// ModeFull wipes the dataset from both stores before indexing.
	ModeFull Mode = "full"

	// ModeForced re-embeds and re-writes every chunk in place without a
	// wipe.
	ModeForced Mode = "forced"
)

// storeBatchSize bounds chunks per embed-and-store round.
const storeBatchSize = 64

// Request identifies the scope of one indexing run.
type Request struct {
	Project string
	Dataset string
	Mode    Mode
	Tags    map[string]string

	// Repo is the source repository URL for git-backed runs. Carried into
	// point payloads so queries can filter on it.
	Repo string
}

// Result summarizes a completed run.
type Result struct {
	Project    string `json:"project"`
	Dataset    string `json:"dataset"`
	Collection string `json:"collection"`
	Expected   int    `json:"expected"`
	Stored     int    `json:"stored"`
	Skipped    int    `json:"skipped"`
	Deleted    int    `json:"deleted"`
}

// Coordinator serializes indexing per (project, dataset) and drives the
// pipeline phases.
type Coordinator struct {
	registry *registry.Store
	store    vectorstore.Store
	gateway  *embeddings.Gateway
	chunker  *chunker.Chunker
	tracker  *progress.Tracker
	logger   *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires a coordinator.
func NewCoordinator(reg *registry.Store, store vectorstore.Store, gateway *embeddings.Gateway, ch *chunker.Chunker, tracker *progress.Tracker, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    store,
		gateway:  gateway,
		chunker:  ch,
		tracker:  tracker,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// scopeLock returns the mutex serializing one (project, dataset).
func (c *Coordinator) scopeLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// IndexLocal indexes a directory tree.
func (c *Coordinator) IndexLocal(ctx context.Context, req Request, root string) (*Result, error) {
	return c.run(ctx, req, func(ctx context.Context, datasetID uuid.UUID) ([]chunker.Chunk, error) {
		c.tracker.SetPhase(progress.IndexKey(req.Project, req.Dataset), progress.PhaseDiscovery, 0)
		docs, err := EnumerateLocal(ctx, root, c.logger)
		if err != nil {
			return nil, err
		}
		return c.chunkDocuments(ctx, req, datasetID, docs), nil
	})
}

// IndexGitHub clones a repository and indexes its tree.
func (c *Coordinator) IndexGitHub(ctx context.Context, req Request, repoURL, ref string) (*Result, error) {
	if req.Repo == "" {
		req.Repo = repoURL
	}
	return c.run(ctx, req, func(ctx context.Context, datasetID uuid.UUID) ([]chunker.Chunk, error) {
		c.tracker.SetPhase(progress.IndexKey(req.Project, req.Dataset), progress.PhaseDiscovery, 0)
		docs, err := CloneAndEnumerate(ctx, repoURL, ref, c.logger)
		if err != nil {
			return nil, err
		}
		return c.chunkDocuments(ctx, req, datasetID, docs), nil
	})
}

// IndexPages indexes crawled pages and records them in the page registry.
func (c *Coordinator) IndexPages(ctx context.Context, req Request, pages []crawl.Page) (*Result, error) {
	return c.run(ctx, req, func(ctx context.Context, datasetID uuid.UUID) ([]chunker.Chunk, error) {
		key := progress.IndexKey(req.Project, req.Dataset)
		c.tracker.SetPhase(key, progress.PhaseChunking, 0)

		var chunks []chunker.Chunk
		records := make([]registry.WebPage, 0, len(pages))
		for i, page := range pages {
			pageChunks := c.chunker.ChunkPage(datasetID, page.URL, page.Markdown)
			chunks = append(chunks, pageChunks...)
			digest := ""
			if len(pageChunks) > 0 {
				digest = pageChunks[0].Digest()
			}
			records = append(records, registry.WebPage{
				ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(page.URL)),
				DatasetID:     datasetID,
				URL:           page.URL,
				Title:         page.Title,
				ContentDigest: digest,
			})
			c.tracker.SetPhase(key, progress.PhaseChunking, (i+1)*100/len(pages))
		}
		if err := c.registry.UpsertWebPages(ctx, records); err != nil {
			return nil, err
		}
		return chunks, nil
	})
}

// run executes one indexing run under the scope lock.
func (c *Coordinator) run(ctx context.Context, req Request, produce func(context.Context, uuid.UUID) ([]chunker.Chunk, error)) (*Result, error) {
	if req.Project == "" || req.Dataset == "" {
		return nil, fmt.Errorf("project and dataset are required")
	}
	if req.Mode == "" {
		req.Mode = ModeIncremental
	}

	key := progress.IndexKey(req.Project, req.Dataset)
	lock := c.scopeLock(key)
	lock.Lock()
	defer lock.Unlock()

	c.tracker.Start(key, req.Project, req.Dataset)
	result, err := c.runLocked(ctx, req, key, produce)
	if err != nil {
		c.tracker.Fail(key, err)
		return nil, err
	}
	c.tracker.Complete(key)
	return result, nil
}

func (c *Coordinator) runLocked(ctx context.Context, req Request, key string, produce func(context.Context, uuid.UUID) ([]chunker.Chunk, error)) (*Result, error) {
	collection, err := scope.CollectionName(req.Project, req.Dataset)
	if err != nil {
		return nil, err
	}

	dataset, err := c.registry.EnsureDataset(ctx, req.Project, req.Dataset, req.Tags)
	if err != nil {
		return nil, err
	}
	if err := c.store.EnsureCollection(ctx, collection, c.gateway.Dimension()); err != nil {
		return nil, fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	chunks, err := produce(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	c.tracker.SetPhase(key, progress.PhaseDeduplicating, 0)
	known, err := c.registry.KnownDigests(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	if req.Mode == ModeFull && len(known) > 0 {
		if err := c.store.DeleteByDataset(ctx, collection, dataset.ID); err != nil {
			return nil, fmt.Errorf("wiping dataset vectors: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(known))
		for id := range known {
			ids = append(ids, id)
		}
		if err := c.registry.DeleteChunks(ctx, dataset.ID, ids); err != nil {
			return nil, err
		}
		known = nil
	}

	// Chunk ids are content-addressed, so a known id means an unchanged
	// chunk. Forced mode rewrites them anyway.
	var toStore []chunker.Chunk
	produced := make(map[uuid.UUID]bool, len(chunks))
	skipped := 0
	for _, ch := range chunks {
		produced[ch.ID] = true
		if req.Mode != ModeForced {
			if _, ok := known[ch.ID]; ok {
				skipped++
				continue
			}
		}
		toStore = append(toStore, ch)
	}

	// Stale chunks: registered but no longer produced by the source.
	var stale []uuid.UUID
	for id := range known {
		if !produced[id] {
			stale = append(stale, id)
		}
	}

	c.tracker.Update(key, func(r *progress.Record) {
		r.Expected = len(toStore)
	})

	result := &Result{
		Project:    req.Project,
		Dataset:    req.Dataset,
		Collection: collection,
		Expected:   len(toStore),
		Skipped:    skipped,
		Deleted:    len(stale),
	}

	stored, err := c.storeChunks(ctx, req, key, collection, toStore)
	result.Stored = stored
	if err != nil {
		return nil, err
	}

	// Stale chunks leave both stores, not just the registry; otherwise
	// their vectors keep surfacing in queries forever.
	if len(stale) > 0 {
		c.logger.Info(ctx, "removing stale chunks",
			zap.Int("count", len(stale)), zap.String("collection", collection))
		if err := c.store.DeletePoints(ctx, collection, stale); err != nil {
			return nil, fmt.Errorf("deleting stale vectors: %w", err)
		}
		if err := c.registry.DeleteChunks(ctx, dataset.ID, stale); err != nil {
			return nil, err
		}
	}

	// The binding and its metadata move only after a fully successful
	// run, so readers never see a half-indexed collection advertised.
	if _, _, err := c.registry.GetOrCreateCollection(ctx, dataset.ID, collection, c.gateway.Dimension(), c.gateway.Hybrid()); err != nil {
		return nil, err
	}
	total := int64(len(chunks))
	if err := c.registry.UpdateCollectionMetadata(ctx, dataset.ID, total); err != nil {
		return nil, err
	}

	c.tracker.SetPhase(key, progress.PhaseStoring, 100)
	c.logger.Info(ctx, "indexing run complete",
		zap.String("collection", collection),
		zap.Int("stored", result.Stored),
		zap.Int("skipped", result.Skipped),
		zap.Int("deleted", result.Deleted))
	return result, nil
}

// storeChunks embeds and dual-writes chunks in batches: vectors first,
// registry rows second, so a crash can only leave unregistered vectors
// that the next run overwrites idempotently.
func (c *Coordinator) storeChunks(ctx context.Context, req Request, key, collection string, chunks []chunker.Chunk) (int, error) {
	projectID := scope.ProjectID(req.Project)
	stored := 0
	for start := 0; start < len(chunks); start += storeBatchSize {
		end := start + storeBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		c.tracker.SetPhase(key, progress.PhaseEmbedding, start*100/len(chunks))
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}
		dense, err := c.gateway.EmbedDocuments(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embedding batch: %w", err)
		}
		sparse := c.gateway.SparseDocuments(ctx, texts)

		points := make([]vectorstore.Point, len(batch))
		metas := make([]registry.ChunkMeta, len(batch))
		for i, ch := range batch {
			points[i] = vectorstore.Point{
				ID:      ch.ID,
				Dense:   dense[i],
				Payload: chunkPayload(ch, projectID, req.Repo),
			}
			if sparse != nil {
				points[i].Sparse = &sparse[i]
			}
			metas[i] = chunkMeta(ch)
		}

		c.tracker.SetPhase(key, progress.PhaseStoring, start*100/len(chunks))
		if err := c.store.Upsert(ctx, collection, points); err != nil {
			return stored, fmt.Errorf("storing batch: %w", err)
		}
		if err := c.registry.UpsertChunks(ctx, metas); err != nil {
			return stored, fmt.Errorf("registering batch: %w", err)
		}

		stored += len(batch)
		c.tracker.Update(key, func(r *progress.Record) {
			r.Stored = stored
		})
	}
	return stored, nil
}

// chunkDocuments chunks enumerated documents with phase progress.
func (c *Coordinator) chunkDocuments(ctx context.Context, req Request, datasetID uuid.UUID, docs []Document) []chunker.Chunk {
	key := progress.IndexKey(req.Project, req.Dataset)
	c.tracker.SetPhase(key, progress.PhaseChunking, 0)

	var chunks []chunker.Chunk
	for i, doc := range docs {
		chunks = append(chunks, c.chunker.ChunkFile(datasetID, doc.Path, doc.Content)...)
		if len(docs) > 0 {
			c.tracker.SetPhase(key, progress.PhaseChunking, (i+1)*100/len(docs))
		}
	}
	c.logger.Debug(ctx, "documents chunked",
		zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))
	return chunks
}

func chunkPayload(ch chunker.Chunk, projectID uuid.UUID, repo string) map[string]any {
	payload := map[string]any{
		vectorstore.KeyProjectID:  projectID.String(),
		vectorstore.KeyDatasetID:  ch.DatasetID.String(),
		vectorstore.KeySourcePath: ch.SourcePath,
		vectorstore.KeyContent:    ch.Content,
		vectorstore.KeyStartLine:  ch.StartLine,
		vectorstore.KeyEndLine:    ch.EndLine,
		vectorstore.KeyDigest:     ch.Digest(),
	}
	if ch.Language != "" {
		payload[vectorstore.KeyLanguage] = ch.Language
	}
	if repo != "" {
		payload[vectorstore.KeyRepo] = repo
	}
	if ch.Symbol != nil {
		payload[vectorstore.KeySymbolName] = ch.Symbol.Name
		payload[vectorstore.KeySymbolKind] = ch.Symbol.Kind
	}
	return payload
}

func chunkMeta(ch chunker.Chunk) registry.ChunkMeta {
	meta := registry.ChunkMeta{
		ID:         ch.ID,
		DatasetID:  ch.DatasetID,
		SourcePath: ch.SourcePath,
		Language:   ch.Language,
		Content:    ch.Content,
		Digest:     ch.Digest(),
		StartLine:  ch.StartLine,
		EndLine:    ch.EndLine,
	}
	if ch.Symbol != nil {
		meta.SymbolName = ch.Symbol.Name
		meta.SymbolKind = ch.Symbol.Kind
	}
	return meta
}

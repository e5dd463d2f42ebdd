package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/claudecontext/islandd/internal/logging"
)

// ChromemStore is the embedded dense-only fallback store. It keeps the
// same collection and payload model as Qdrant but has no sparse slot, so
// hybrid queries silently run dense-only.
type ChromemStore struct {
	db     *chromem.DB
	logger *logging.Logger
}

// noExternalEmbed guards against chromem computing embeddings itself; all
// vectors come from the embedding gateway.
func noExternalEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be provided externally")
}

// NewChromemStore opens an embedded store. An empty path keeps everything
// in memory, which the tests rely on.
func NewChromemStore(path string, logger *logging.Logger) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("opening chromem at %s: %w", path, err)
		}
	}
	return &ChromemStore{db: db, logger: logger}, nil
}

// Hybrid reports false: chromem serves dense vectors only.
func (s *ChromemStore) Hybrid() bool { return false }

// EnsureCollection creates the collection when missing. The dimension is
// not enforced; chromem accepts whatever vectors are inserted.
func (s *ChromemStore) EnsureCollection(_ context.Context, name string, _ int) error {
	_, err := s.db.GetOrCreateCollection(name, nil, noExternalEmbed)
	return err
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, name string) (bool, error) {
	_, ok := s.db.ListCollections()[name]
	return ok, nil
}

// Upsert writes points. Payload values are flattened to strings for
// chromem's metadata model and rehydrated on read.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col, err := s.db.GetOrCreateCollection(collection, nil, noExternalEmbed)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		content, _ := p.Payload[KeyContent].(string)
		docs = append(docs, chromem.Document{
			ID:        p.ID.String(),
			Embedding: p.Dense,
			Content:   content,
			Metadata:  flattenPayload(p.Payload),
		})
	}
	return col.AddDocuments(ctx, docs, 1)
}

// Query runs dense retrieval. The result count is clamped to the
// collection size; chromem rejects overshooting requests.
func (s *ChromemStore) Query(ctx context.Context, q Query) ([]ScoredPoint, error) {
	if q.DatasetID == uuid.Nil {
		return nil, ErrMissingDatasetFilter
	}
	col := s.db.GetCollection(q.Collection, noExternalEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, q.Collection)
	}

	limit := q.Limit
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	where := map[string]string{KeyDatasetID: q.DatasetID.String()}
	if q.Language != "" {
		where[KeyLanguage] = q.Language
	}
	if q.Repo != "" {
		where[KeyRepo] = q.Repo
	}
	results, err := col.QueryEmbedding(ctx, q.Dense, limit, where, nil)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, len(results))
	for i, r := range results {
		payload := rehydratePayload(r.Metadata)
		payload[KeyContent] = r.Content
		out[i] = ScoredPoint{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: payload,
		}
	}
	return out, nil
}

// HybridQuery behaves like Query; there is no sparse side here.
func (s *ChromemStore) HybridQuery(ctx context.Context, q Query) ([]ScoredPoint, error) {
	return s.Query(ctx, q)
}

// DeleteByDataset removes every document of one dataset.
func (s *ChromemStore) DeleteByDataset(ctx context.Context, collection string, datasetID uuid.UUID) error {
	if datasetID == uuid.Nil {
		return ErrMissingDatasetFilter
	}
	col := s.db.GetCollection(collection, noExternalEmbed)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, map[string]string{KeyDatasetID: datasetID.String()}, nil)
}

// DeletePoints removes individual documents by id.
func (s *ChromemStore) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	col := s.db.GetCollection(collection, noExternalEmbed)
	if col == nil {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = id.String()
	}
	return col.Delete(ctx, nil, nil, docIDs...)
}

// DeleteCollection deletes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	return s.db.DeleteCollection(name)
}

// Count returns the number of documents a collection holds. Collections
// are scoped to a single dataset, so the collection count is the dataset
// count.
func (s *ChromemStore) Count(_ context.Context, collection string, datasetID uuid.UUID) (uint64, error) {
	if datasetID == uuid.Nil {
		return 0, ErrMissingDatasetFilter
	}
	col := s.db.GetCollection(collection, noExternalEmbed)
	if col == nil {
		return 0, nil
	}
	return uint64(col.Count()), nil
}

// Close is a no-op; persistence happens on write.
func (s *ChromemStore) Close() error { return nil }

func flattenPayload(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == KeyContent {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// intPayloadKeys round-trip as integers through chromem's string-typed
// metadata.
var intPayloadKeys = map[string]bool{
	KeyStartLine: true,
	KeyEndLine:   true,
}

func rehydratePayload(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		if intPayloadKeys[k] {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out
}

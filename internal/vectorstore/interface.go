// Package vectorstore abstracts the vector database behind a capability
// interface: qdrant serves hybrid dense+sparse collections, chromem
// serves as an embedded dense-only fallback.
package vectorstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/claudecontext/islandd/internal/embeddings"
)

var (
	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrMissingDatasetFilter guards the isolation invariant: every
	// query and dataset-scoped delete must carry a dataset id.
	ErrMissingDatasetFilter = errors.New("dataset filter is required")
)

// Payload keys shared by all store implementations.
const (
	KeyDatasetID  = "dataset_id"
	KeyProjectID  = "project_id"
	KeyRepo       = "repo"
	KeySourcePath = "source_path"
	KeyContent    = "content"
	KeyLanguage   = "language"
	KeyStartLine  = "start_line"
	KeyEndLine    = "end_line"
	KeySymbolName = "symbol_name"
	KeySymbolKind = "symbol_kind"
	KeyDigest     = "digest"
)

// Point is one chunk ready for storage.
type Point struct {
	ID      uuid.UUID
	Dense   []float32
	Sparse  *embeddings.SparseVector
	Payload map[string]any
}

// ScoredPoint is one query hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Query is a single-collection retrieval request. DatasetID is mandatory;
// stores reject queries without it.
type Query struct {
	Collection string
	DatasetID  uuid.UUID

	Dense  []float32
	Sparse *embeddings.SparseVector

	// Optional scalar filters, matched server-side against the payload.
	Language string
	Repo     string

	Limit int
}

// Store is the vector database surface. Hybrid reports whether the
// implementation can serve sparse vectors; dense-only stores accept
// hybrid inputs and ignore the sparse side.
type Store interface {
	// EnsureCollection creates the collection when missing. dim is the
	// dense vector dimension; the sparse slot is configured only on
	// hybrid-capable stores.
	EnsureCollection(ctx context.Context, name string, dim int) error

	CollectionExists(ctx context.Context, name string) (bool, error)

	Upsert(ctx context.Context, collection string, points []Point) error

	// Query runs dense-only retrieval.
	Query(ctx context.Context, q Query) ([]ScoredPoint, error)

	// HybridQuery fuses dense and sparse retrieval server-side. On
	// dense-only stores it behaves like Query.
	HybridQuery(ctx context.Context, q Query) ([]ScoredPoint, error)

	// DeletePoints removes individual points by id. Used to purge chunks
	// that disappeared from the source between incremental runs.
	DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error

	DeleteByDataset(ctx context.Context, collection string, datasetID uuid.UUID) error

	DeleteCollection(ctx context.Context, name string) error

	Count(ctx context.Context, collection string, datasetID uuid.UUID) (uint64, error)

	Hybrid() bool

	Close() error
}

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Collection is the binding between a dataset and its vector collection.
type Collection struct {
	DatasetID      uuid.UUID    `db:"dataset_id"`
	CollectionName string       `db:"collection_name"`
	EmbeddingDim   int          `db:"embedding_dim"`
	Hybrid         bool         `db:"hybrid"`
	ChunkCount     int64        `db:"chunk_count"`
	LastIndexedAt  sql.NullTime `db:"last_indexed_at"`
	CreatedAt      time.Time    `db:"created_at"`
}

// GetOrCreateCollection binds a dataset to its canonical collection name.
// The returned flag reports whether the row was freshly inserted; xmax is
// zero only for rows the current transaction created.
func (s *Store) GetOrCreateCollection(ctx context.Context, datasetID uuid.UUID, collectionName string, dim int, hybrid bool) (*Collection, bool, error) {
	var row struct {
		Collection
		Inserted bool `db:"inserted"`
	}
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO claude_context.dataset_collections
			(dataset_id, collection_name, embedding_dim, hybrid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id) DO UPDATE
			SET collection_name = EXCLUDED.collection_name,
			    embedding_dim   = EXCLUDED.embedding_dim,
			    hybrid          = EXCLUDED.hybrid
		RETURNING dataset_id, collection_name, embedding_dim, hybrid,
		          chunk_count, last_indexed_at, created_at,
		          (xmax = 0) AS inserted`,
		datasetID, collectionName, dim, hybrid)
	if err != nil {
		return nil, false, fmt.Errorf("binding collection %s: %w", collectionName, err)
	}
	return &row.Collection, row.Inserted, nil
}

// GetCollection returns the binding for a dataset.
func (s *Store) GetCollection(ctx context.Context, datasetID uuid.UUID) (*Collection, error) {
	var c Collection
	err := s.db.GetContext(ctx, &c, `
		SELECT dataset_id, collection_name, embedding_dim, hybrid,
		       chunk_count, last_indexed_at, created_at
		FROM claude_context.dataset_collections
		WHERE dataset_id = $1`, datasetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no collection for dataset %s", ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting collection binding: %w", err)
	}
	return &c, nil
}

// UpdateCollectionMetadata records the post-index chunk count and stamps
// the index time. Called only after a fully successful dual-write.
func (s *Store) UpdateCollectionMetadata(ctx context.Context, datasetID uuid.UUID, chunkCount int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claude_context.dataset_collections
		SET chunk_count = $2, last_indexed_at = now()
		WHERE dataset_id = $1`,
		datasetID, chunkCount)
	if err != nil {
		return fmt.Errorf("updating collection metadata: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: no collection for dataset %s", ErrDatasetNotFound, datasetID)
	}
	return nil
}

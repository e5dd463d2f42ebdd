package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ChunkMeta mirrors one indexed chunk for digest bookkeeping.
type ChunkMeta struct {
	ID         uuid.UUID `db:"id"`
	DatasetID  uuid.UUID `db:"dataset_id"`
	SourcePath string    `db:"source_path"`
	Language   string    `db:"language"`
	Content    string    `db:"content"`
	Digest     string    `db:"digest"`
	StartLine  int       `db:"start_line"`
	EndLine    int       `db:"end_line"`
	SymbolName string    `db:"symbol_name"`
	SymbolKind string    `db:"symbol_kind"`
}

// upsertBatchSize bounds rows per statement; Postgres caps bind
// parameters at 65535 and each row takes 10.
const upsertBatchSize = 500

// KnownDigests returns chunk id to digest for a dataset. The indexer uses
// it to short-circuit unchanged chunks.
func (s *Store) KnownDigests(ctx context.Context, datasetID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, digest
		FROM claude_context.chunks
		WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("loading digests: %w", err)
	}
	defer rows.Close()

	known := make(map[uuid.UUID]string)
	for rows.Next() {
		var (
			id     uuid.UUID
			digest string
		)
		if err := rows.Scan(&id, &digest); err != nil {
			return nil, fmt.Errorf("scanning digest row: %w", err)
		}
		known[id] = digest
	}
	return known, rows.Err()
}

// UpsertChunks records chunk metadata in batches.
func (s *Store) UpsertChunks(ctx context.Context, chunks []ChunkMeta) error {
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.upsertChunkBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertChunkBatch(ctx context.Context, chunks []ChunkMeta) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO claude_context.chunks
			(id, dataset_id, source_path, language, content, digest, start_line, end_line, symbol_name, symbol_kind)
		VALUES
			(:id, :dataset_id, :source_path, :language, :content, :digest, :start_line, :end_line, :symbol_name, :symbol_kind)
		ON CONFLICT (id) DO UPDATE
			SET language = EXCLUDED.language,
			    content = EXCLUDED.content,
			    digest = EXCLUDED.digest,
			    updated_at = now()`,
		chunks)
	if err != nil {
		return fmt.Errorf("upserting chunks: %w", err)
	}
	return nil
}

// DeleteChunks removes chunk rows by id.
func (s *Store) DeleteChunks(ctx context.Context, datasetID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		DELETE FROM claude_context.chunks
		WHERE dataset_id = ? AND id IN (?)`, datasetID, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// WebPage records one crawled page.
type WebPage struct {
	ID            uuid.UUID `db:"id"`
	DatasetID     uuid.UUID `db:"dataset_id"`
	URL           string    `db:"url"`
	Title         string    `db:"title"`
	ContentDigest string    `db:"content_digest"`
}

// UpsertWebPages records crawled pages; re-crawled URLs update in place.
func (s *Store) UpsertWebPages(ctx context.Context, pages []WebPage) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO claude_context.web_pages
			(id, dataset_id, url, title, content_digest)
		VALUES
			(:id, :dataset_id, :url, :title, :content_digest)
		ON CONFLICT (dataset_id, url) DO UPDATE
			SET title = EXCLUDED.title,
			    content_digest = EXCLUDED.content_digest,
			    crawled_at = now()`,
		pages)
	if err != nil {
		return fmt.Errorf("upserting web pages: %w", err)
	}
	return nil
}

// Package registry is the relational source of truth for projects,
// datasets, collection bindings, chunk digests, and crawled pages. It
// runs on Postgres in the claude_context schema.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/logging"
)

var (
	// ErrProjectNotFound indicates the project is not registered.
	ErrProjectNotFound = errors.New("project not found")

	// ErrDatasetNotFound indicates the dataset is not registered.
	ErrDatasetNotFound = errors.New("dataset not found")
)

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewStore connects to Postgres and verifies the connection.
func NewStore(cfg config.PostgresConfig, logger *logging.Logger) (*Store, error) {
	if cfg.DSN.Value() == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sqlx.Connect("pgx", cfg.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	logger.Info(context.Background(), "postgres connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &Store{db: db, logger: logger}, nil
}

// NewStoreWithDB wraps an existing connection; used by tests with sqlmock.
func NewStoreWithDB(db *sqlx.DB, logger *logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// schemaDDL creates the claude_context schema and its tables. All
// statements are idempotent so startup can always run them.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS claude_context`,

	`CREATE TABLE IF NOT EXISTS claude_context.projects (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS claude_context.datasets (
		id         UUID PRIMARY KEY,
		project_id UUID NOT NULL REFERENCES claude_context.projects(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		tags       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS claude_context.dataset_collections (
		dataset_id      UUID PRIMARY KEY REFERENCES claude_context.datasets(id) ON DELETE CASCADE,
		collection_name TEXT NOT NULL UNIQUE,
		embedding_dim   INTEGER NOT NULL,
		hybrid          BOOLEAN NOT NULL DEFAULT false,
		chunk_count     BIGINT NOT NULL DEFAULT 0,
		last_indexed_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS claude_context.chunks (
		id          UUID PRIMARY KEY,
		dataset_id  UUID NOT NULL REFERENCES claude_context.datasets(id) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		language    TEXT,
		content     TEXT NOT NULL DEFAULT '',
		digest      TEXT NOT NULL,
		start_line  INTEGER NOT NULL DEFAULT 0,
		end_line    INTEGER NOT NULL DEFAULT 0,
		symbol_name TEXT,
		symbol_kind TEXT,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS chunks_dataset_source_idx
		ON claude_context.chunks (dataset_id, source_path)`,

	`CREATE INDEX IF NOT EXISTS chunks_dataset_digest_idx
		ON claude_context.chunks (dataset_id, digest)`,

	`CREATE TABLE IF NOT EXISTS claude_context.web_pages (
		id             UUID PRIMARY KEY,
		dataset_id     UUID NOT NULL REFERENCES claude_context.datasets(id) ON DELETE CASCADE,
		url            TEXT NOT NULL,
		title          TEXT,
		content_digest TEXT NOT NULL,
		crawled_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (dataset_id, url)
	)`,
}

// EnsureSchema creates the schema and tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	s.logger.Debug(ctx, "schema ensured")
	return nil
}

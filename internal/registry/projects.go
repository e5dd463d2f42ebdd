package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/scope"
)

// Project is a registered project.
type Project struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Dataset is a registered dataset within a project.
type Dataset struct {
	ID        uuid.UUID `db:"id"`
	ProjectID uuid.UUID `db:"project_id"`
	Name      string    `db:"name"`
	Tags      []byte    `db:"tags"`
	CreatedAt time.Time `db:"created_at"`
}

// TagMap decodes the dataset tags.
func (d *Dataset) TagMap() map[string]string {
	if len(d.Tags) == 0 {
		return nil
	}
	var tags map[string]string
	if err := json.Unmarshal(d.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

// DatasetInfo is a dataset joined with its collection binding.
type DatasetInfo struct {
	Dataset
	CollectionName sql.NullString `db:"collection_name"`
	ChunkCount     sql.NullInt64  `db:"chunk_count"`
	LastIndexedAt  sql.NullTime   `db:"last_indexed_at"`
}

// EnsureProject registers a project, returning the existing row when it
// is already there. IDs are deterministic, so concurrent registration
// converges on the same row.
func (s *Store) EnsureProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	var p Project
	err := s.db.GetContext(ctx, &p, `
		INSERT INTO claude_context.projects (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`,
		scope.ProjectID(name), name)
	if err != nil {
		return nil, fmt.Errorf("ensuring project %s: %w", name, err)
	}
	return &p, nil
}

// EnsureDataset registers a dataset under a project, creating the project
// as needed. Existing tags are merged with the given ones.
func (s *Store) EnsureDataset(ctx context.Context, project, dataset string, tags map[string]string) (*Dataset, error) {
	p, err := s.EnsureProject(ctx, project)
	if err != nil {
		return nil, err
	}

	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}

	var d Dataset
	err = s.db.GetContext(ctx, &d, `
		INSERT INTO claude_context.datasets (id, project_id, name, tags)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, name) DO UPDATE
			SET tags = claude_context.datasets.tags || EXCLUDED.tags
		RETURNING id, project_id, name, tags, created_at`,
		scope.DatasetID(project, dataset), p.ID, dataset, tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("ensuring dataset %s/%s: %w", project, dataset, err)
	}
	return &d, nil
}

// GetDataset returns a registered dataset.
func (s *Store) GetDataset(ctx context.Context, project, dataset string) (*Dataset, error) {
	var d Dataset
	err := s.db.GetContext(ctx, &d, `
		SELECT d.id, d.project_id, d.name, d.tags, d.created_at
		FROM claude_context.datasets d
		JOIN claude_context.projects p ON p.id = d.project_id
		WHERE p.name = $1 AND d.name = $2`,
		project, dataset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDatasetNotFound, project, dataset)
	}
	if err != nil {
		return nil, fmt.Errorf("getting dataset %s/%s: %w", project, dataset, err)
	}
	return &d, nil
}

// ListProjects returns all registered projects.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := s.db.SelectContext(ctx, &projects, `
		SELECT id, name, created_at
		FROM claude_context.projects
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// ListDatasets returns a project's datasets with their collection
// bindings.
func (s *Store) ListDatasets(ctx context.Context, project string) ([]DatasetInfo, error) {
	var infos []DatasetInfo
	err := s.db.SelectContext(ctx, &infos, `
		SELECT d.id, d.project_id, d.name, d.tags, d.created_at,
		       c.collection_name, c.chunk_count, c.last_indexed_at
		FROM claude_context.datasets d
		JOIN claude_context.projects p ON p.id = d.project_id
		LEFT JOIN claude_context.dataset_collections c ON c.dataset_id = d.id
		WHERE p.name = $1
		ORDER BY d.name`,
		project)
	if err != nil {
		return nil, fmt.Errorf("listing datasets for %s: %w", project, err)
	}
	return infos, nil
}

// ExpandSelector resolves a dataset selector to registered datasets.
// Literals and lists return only the names that are actually registered;
// the caller decides how to report the rest.
func (s *Store) ExpandSelector(ctx context.Context, project string, sel *scope.Selector) ([]Dataset, error) {
	base := `
		SELECT d.id, d.project_id, d.name, d.tags, d.created_at
		FROM claude_context.datasets d
		JOIN claude_context.projects p ON p.id = d.project_id
		WHERE p.name = $1`

	var (
		datasets []Dataset
		err      error
	)
	switch sel.Kind {
	case scope.SelectorWildcard:
		err = s.db.SelectContext(ctx, &datasets, base+` ORDER BY d.name`, project)
	case scope.SelectorGlob:
		err = s.db.SelectContext(ctx, &datasets,
			base+` AND d.name LIKE $2 ORDER BY d.name`,
			project, scope.LikePattern(sel.Glob))
	case scope.SelectorAlias:
		err = s.db.SelectContext(ctx, &datasets,
			base+` AND d.tags->>$2 = $3 ORDER BY d.name`,
			project, sel.AliasKey, sel.AliasValue)
	case scope.SelectorLiteral:
		err = s.db.SelectContext(ctx, &datasets, base+` AND d.name = $2`, project, sel.Literal)
	case scope.SelectorList:
		query, args, qerr := sqlx.In(`
			SELECT d.id, d.project_id, d.name, d.tags, d.created_at
			FROM claude_context.datasets d
			JOIN claude_context.projects p ON p.id = d.project_id
			WHERE p.name = ? AND d.name IN (?)
			ORDER BY d.name`, project, sel.Names)
		if qerr != nil {
			return nil, qerr
		}
		err = s.db.SelectContext(ctx, &datasets, s.db.Rebind(query), args...)
	default:
		return nil, fmt.Errorf("%w: kind %q", scope.ErrInvalidSelector, sel.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("expanding selector: %w", err)
	}
	return datasets, nil
}

// ClearedDataset reports one dataset affected by Clear.
type ClearedDataset struct {
	Name           string `db:"name"`
	CollectionName string `db:"collection_name"`
	ChunkCount     int64  `db:"chunk_count"`
}

// Clear removes the given datasets (or every dataset when names is empty)
// from a project. With dryRun, it only reports what would go. The caller
// is responsible for dropping the vector collections it gets back.
func (s *Store) Clear(ctx context.Context, project string, names []string, dryRun bool) ([]ClearedDataset, error) {
	base := `
		SELECT d.name, COALESCE(c.collection_name, '') AS collection_name,
		       COALESCE(c.chunk_count, 0) AS chunk_count
		FROM claude_context.datasets d
		JOIN claude_context.projects p ON p.id = d.project_id
		LEFT JOIN claude_context.dataset_collections c ON c.dataset_id = d.id
		WHERE p.name = $1`

	var (
		affected []ClearedDataset
		err      error
	)
	if len(names) == 0 {
		err = s.db.SelectContext(ctx, &affected, base+` ORDER BY d.name`, project)
	} else {
		query, args, qerr := sqlx.In(`
			SELECT d.name, COALESCE(c.collection_name, '') AS collection_name,
			       COALESCE(c.chunk_count, 0) AS chunk_count
			FROM claude_context.datasets d
			JOIN claude_context.projects p ON p.id = d.project_id
			LEFT JOIN claude_context.dataset_collections c ON c.dataset_id = d.id
			WHERE p.name = ? AND d.name IN (?)
			ORDER BY d.name`, project, names)
		if qerr != nil {
			return nil, qerr
		}
		err = s.db.SelectContext(ctx, &affected, s.db.Rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving clear targets: %w", err)
	}
	if dryRun || len(affected) == 0 {
		return affected, nil
	}

	cleared := make([]string, len(affected))
	for i, a := range affected {
		cleared[i] = a.Name
	}
	query, args, err := sqlx.In(`
		DELETE FROM claude_context.datasets d
		USING claude_context.projects p
		WHERE d.project_id = p.id AND p.name = ? AND d.name IN (?)`,
		project, cleared)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("clearing datasets: %w", err)
	}

	s.logger.Info(ctx, "datasets cleared",
		zap.String("project", project),
		zap.Int("count", len(affected)))
	return affected, nil
}

// DatasetStats is the per-dataset summary surfaced over MCP.
type DatasetStats struct {
	Project        string     `json:"project"`
	Dataset        string     `json:"dataset"`
	CollectionName string     `json:"collection_name,omitempty"`
	ChunkCount     int64      `json:"chunk_count"`
	PageCount      int64      `json:"page_count"`
	SourceCount    int64      `json:"source_count"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
}

// Stats summarizes one dataset.
func (s *Store) Stats(ctx context.Context, project, dataset string) (*DatasetStats, error) {
	d, err := s.GetDataset(ctx, project, dataset)
	if err != nil {
		return nil, err
	}

	stats := &DatasetStats{Project: project, Dataset: dataset}

	var row struct {
		CollectionName sql.NullString `db:"collection_name"`
		ChunkCount     sql.NullInt64  `db:"chunk_count"`
		LastIndexedAt  sql.NullTime   `db:"last_indexed_at"`
	}
	err = s.db.GetContext(ctx, &row, `
		SELECT collection_name, chunk_count, last_indexed_at
		FROM claude_context.dataset_collections
		WHERE dataset_id = $1`, d.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting collection stats: %w", err)
	}
	if row.CollectionName.Valid {
		stats.CollectionName = row.CollectionName.String
		stats.ChunkCount = row.ChunkCount.Int64
		if row.LastIndexedAt.Valid {
			t := row.LastIndexedAt.Time
			stats.LastIndexedAt = &t
		}
	}

	err = s.db.GetContext(ctx, &stats.SourceCount, `
		SELECT COUNT(DISTINCT source_path)
		FROM claude_context.chunks
		WHERE dataset_id = $1`, d.ID)
	if err != nil {
		return nil, fmt.Errorf("counting sources: %w", err)
	}

	err = s.db.GetContext(ctx, &stats.PageCount, `
		SELECT COUNT(*)
		FROM claude_context.web_pages
		WHERE dataset_id = $1`, d.ID)
	if err != nil {
		return nil, fmt.Errorf("counting pages: %w", err)
	}
	return stats, nil
}

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/scope"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStoreWithDB(sqlx.NewDb(db, "sqlmock"), logging.NewNop()), mock
}

func TestEnsureProject(t *testing.T) {
	s, mock := newMockStore(t)
	id := scope.ProjectID("acme")

	mock.ExpectQuery(`INSERT INTO claude_context\.projects`).
		WithArgs(id, "acme").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_at"}).
			AddRow(id.String(), "acme", time.Now()))

	p, err := s.EnsureProject(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.Name)
	assert.Equal(t, id, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureProjectEmptyName(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.EnsureProject(context.Background(), "")
	require.Error(t, err)
}

func TestGetOrCreateCollectionInsertedFlag(t *testing.T) {
	s, mock := newMockStore(t)
	datasetID := scope.DatasetID("acme", "docs")
	cols := []string{"dataset_id", "collection_name", "embedding_dim", "hybrid",
		"chunk_count", "last_indexed_at", "created_at", "inserted"}

	mock.ExpectQuery(`INSERT INTO claude_context\.dataset_collections`).
		WithArgs(datasetID, "project_acme_dataset_docs", 768, true).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(datasetID.String(), "project_acme_dataset_docs", 768, true, 0, nil, time.Now(), true))

	c, inserted, err := s.GetOrCreateCollection(context.Background(), datasetID, "project_acme_dataset_docs", 768, true)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "project_acme_dataset_docs", c.CollectionName)

	// Second bind returns the existing row with inserted = false.
	mock.ExpectQuery(`INSERT INTO claude_context\.dataset_collections`).
		WithArgs(datasetID, "project_acme_dataset_docs", 768, true).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(datasetID.String(), "project_acme_dataset_docs", 768, true, 42, time.Now(), time.Now(), false))

	c, inserted, err = s.GetOrCreateCollection(context.Background(), datasetID, "project_acme_dataset_docs", 768, true)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(42), c.ChunkCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCollectionMetadataMissingDataset(t *testing.T) {
	s, mock := newMockStore(t)
	datasetID := scope.DatasetID("acme", "ghost")

	mock.ExpectExec(`UPDATE claude_context\.dataset_collections`).
		WithArgs(datasetID, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateCollectionMetadata(context.Background(), datasetID, 7)
	require.ErrorIs(t, err, ErrDatasetNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func datasetRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "project_id", "name", "tags", "created_at"})
	for _, name := range names {
		rows.AddRow(scope.DatasetID("acme", name).String(), scope.ProjectID("acme").String(),
			name, []byte(`{}`), time.Now())
	}
	return rows
}

func TestExpandSelectorGlobUsesLike(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT d\.id, .* WHERE p\.name = \$1 AND d\.name LIKE \$2`).
		WithArgs("acme", "github-%").
		WillReturnRows(datasetRows("github-main", "github-dev"))

	sel, err := scope.ParseSelector("github-*")
	require.NoError(t, err)

	datasets, err := s.ExpandSelector(context.Background(), "acme", sel)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "github-main", datasets[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpandSelectorAliasUsesTags(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`WHERE p\.name = \$1 AND d\.tags->>\$2 = \$3`).
		WithArgs("acme", "env", "dev").
		WillReturnRows(datasetRows("dev-docs"))

	sel, err := scope.ParseSelector("env:dev")
	require.NoError(t, err)

	datasets, err := s.ExpandSelector(context.Background(), "acme", sel)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpandSelectorListReturnsOnlyRegistered(t *testing.T) {
	s, mock := newMockStore(t)

	// "ghost" is requested but not registered; only "docs" comes back.
	mock.ExpectQuery(`WHERE p\.name = \? AND d\.name IN \(\?, \?\)`).
		WithArgs("acme", "docs", "ghost").
		WillReturnRows(datasetRows("docs"))

	sel, err := scope.ParseSelector([]string{"docs", "ghost"})
	require.NoError(t, err)

	datasets, err := s.ExpandSelector(context.Background(), "acme", sel)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "docs", datasets[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunks(t *testing.T) {
	s, mock := newMockStore(t)
	datasetID := scope.DatasetID("acme", "docs")

	mock.ExpectExec(`INSERT INTO claude_context\.chunks`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.UpsertChunks(context.Background(), []ChunkMeta{
		{ID: scope.DatasetID("acme", "c1"), DatasetID: datasetID, SourcePath: "a.go", Language: "go", Content: "package a", Digest: "d1", StartLine: 1, EndLine: 5},
		{ID: scope.DatasetID("acme", "c2"), DatasetID: datasetID, SourcePath: "b.go", Language: "go", Content: "package b", Digest: "d2", StartLine: 1, EndLine: 9},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChunksEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	require.NoError(t, s.UpsertChunks(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearDryRunDoesNotDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT d\.name, COALESCE`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"name", "collection_name", "chunk_count"}).
			AddRow("docs", "project_acme_dataset_docs", 100).
			AddRow("web", "project_acme_dataset_web", 50))

	affected, err := s.Clear(context.Background(), "acme", nil, true)
	require.NoError(t, err)
	require.Len(t, affected, 2)
	assert.Equal(t, int64(100), affected[0].ChunkCount)
	// No DELETE expected: dry run.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearDeletes(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT d\.name, COALESCE`).
		WithArgs("acme", "docs").
		WillReturnRows(sqlmock.NewRows([]string{"name", "collection_name", "chunk_count"}).
			AddRow("docs", "project_acme_dataset_docs", 100))
	mock.ExpectExec(`DELETE FROM claude_context\.datasets`).
		WithArgs("acme", "docs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := s.Clear(context.Background(), "acme", []string{"docs"}, false)
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownDigests(t *testing.T) {
	s, mock := newMockStore(t)
	datasetID := scope.DatasetID("acme", "docs")
	c1 := scope.DatasetID("acme", "chunk-1")

	mock.ExpectQuery(`SELECT id, digest`).
		WithArgs(datasetID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "digest"}).
			AddRow(c1.String(), "abc"))

	known, err := s.KnownDigests(context.Background(), datasetID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{c1.String(): "abc"}, stringKeys(known))
	require.NoError(t, mock.ExpectationsWereMet())
}

func stringKeys(in map[uuid.UUID]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k.String()] = v
	}
	return out
}

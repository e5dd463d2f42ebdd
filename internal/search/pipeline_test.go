package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/embeddings"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/scope"
	"github.com/claudecontext/islandd/internal/vectorstore"
)

func TestFuseRRFAccumulatesAcrossLists(t *testing.T) {
	lists := [][]vectorstore.ScoredPoint{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "b"}, {ID: "c"}},
	}
	hits := fuseRRF(lists)
	require.Len(t, hits, 3)

	// b appears rank 2 and rank 1; a and c appear once.
	assert.Equal(t, "b", hits[0].id)
	assert.InDelta(t, 1.0/62+1.0/61, hits[0].score, 1e-9)
	assert.Equal(t, "a", hits[1].id)
	assert.InDelta(t, 1.0/61, hits[1].score, 1e-9)
}

func TestFuseRRFPreservesSingleListOrder(t *testing.T) {
	list := []vectorstore.ScoredPoint{{ID: "x"}, {ID: "y"}, {ID: "z"}}
	hits := fuseRRF([][]vectorstore.ScoredPoint{list})
	require.Len(t, hits, 3)
	assert.Equal(t, "x", hits[0].id)
	assert.Equal(t, "y", hits[1].id)
	assert.Equal(t, "z", hits[2].id)

	// Idempotent: fusing the fused order changes nothing.
	again := fuseRRF([][]vectorstore.ScoredPoint{{{ID: hits[0].id}, {ID: hits[1].id}, {ID: hits[2].id}}})
	assert.Equal(t, hits[0].id, again[0].id)
	assert.Equal(t, hits[2].id, again[2].id)
}

func TestFuseRRFTieBreakIsLexicographic(t *testing.T) {
	lists := [][]vectorstore.ScoredPoint{
		{{ID: "zzz"}},
		{{ID: "aaa"}},
	}
	hits := fuseRRF(lists)
	require.Len(t, hits, 2)
	assert.Equal(t, "aaa", hits[0].id)
	assert.Equal(t, "zzz", hits[1].id)
}

// fakeStore serves canned points per collection.
type fakeStore struct {
	hybrid bool
	points map[string][]vectorstore.ScoredPoint

	mu      sync.Mutex
	queries []vectorstore.Query
}

func (f *fakeStore) EnsureCollection(context.Context, string, int) error      { return nil }
func (f *fakeStore) CollectionExists(context.Context, string) (bool, error)  { return true, nil }
func (f *fakeStore) Upsert(context.Context, string, []vectorstore.Point) error { return nil }
func (f *fakeStore) DeletePoints(context.Context, string, []uuid.UUID) error   { return nil }
func (f *fakeStore) DeleteByDataset(context.Context, string, uuid.UUID) error  { return nil }
func (f *fakeStore) DeleteCollection(context.Context, string) error            { return nil }
func (f *fakeStore) Count(context.Context, string, uuid.UUID) (uint64, error)  { return 0, nil }
func (f *fakeStore) Hybrid() bool                                              { return f.hybrid }
func (f *fakeStore) Close() error                                              { return nil }

func (f *fakeStore) Query(_ context.Context, q vectorstore.Query) ([]vectorstore.ScoredPoint, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	points, ok := f.points[q.Collection]
	if !ok {
		return nil, vectorstore.ErrCollectionNotFound
	}
	return points, nil
}

func (f *fakeStore) seenQueries() []vectorstore.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vectorstore.Query(nil), f.queries...)
}

func (f *fakeStore) HybridQuery(ctx context.Context, q vectorstore.Query) ([]vectorstore.ScoredPoint, error) {
	return f.Query(ctx, q)
}

func testGateway(t *testing.T) *embeddings.Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vectors := make([][]float32, len(req.Inputs))
		for i := range vectors {
			vectors[i] = []float32{1, 0, 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
	t.Cleanup(srv.Close)

	g, err := embeddings.NewGateway(config.EmbeddingsConfig{DenseURL: srv.URL, Dimension: 3},
		config.SearchConfig{}, logging.NewNop(), nil)
	require.NoError(t, err)
	return g
}

func mockRegistry(t *testing.T) (*registry.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return registry.NewStoreWithDB(sqlx.NewDb(db, "sqlmock"), logging.NewNop()), mock
}

func expectDatasets(mock sqlmock.Sqlmock, project string, names ...string) {
	rows := sqlmock.NewRows([]string{"id", "project_id", "name", "tags", "created_at"})
	for _, name := range names {
		rows.AddRow(scope.DatasetID(project, name).String(), scope.ProjectID(project).String(),
			name, []byte(`{}`), time.Now())
	}
	mock.ExpectQuery(`SELECT d\.id`).WillReturnRows(rows)
}

func chunkPayload(datasetID uuid.UUID, path, content string) map[string]any {
	return map[string]any{
		vectorstore.KeyDatasetID:  datasetID.String(),
		vectorstore.KeySourcePath: path,
		vectorstore.KeyContent:    content,
		vectorstore.KeyStartLine:  int64(1),
		vectorstore.KeyEndLine:    int64(9),
	}
}

func TestSearchAcrossDatasets(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme", "docs", "web")

	docsID := scope.DatasetID("acme", "docs")
	webID := scope.DatasetID("acme", "web")
	store := &fakeStore{points: map[string][]vectorstore.ScoredPoint{
		"project_acme_dataset_docs": {
			{ID: "c1", Score: 0.9, Payload: chunkPayload(docsID, "a.go", "alpha")},
		},
		"project_acme_dataset_web": {
			{ID: "c2", Score: 0.8, Payload: chunkPayload(webID, "https://x.test/p", "beta")},
		},
	}}

	p := NewPipeline(reg, store, testGateway(t), config.SearchConfig{TopK: 10}, logging.NewNop())
	results, err := p.Search(context.Background(), "query", Options{Project: "acme", Dataset: "*"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both are rank 1 in their own collection: tie broken by chunk id.
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "docs", results[0].Dataset)
	assert.Equal(t, "a.go", results[0].SourcePath)
	assert.Equal(t, 1, results[0].StartLine)
	assert.Equal(t, "web", results[1].Dataset)

	// Every query carried its dataset filter.
	for _, q := range store.seenQueries() {
		assert.NotEqual(t, uuid.Nil, q.DatasetID)
	}
}

func TestSearchEmptyExpansionReturnsEmpty(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme") // no datasets registered

	p := NewPipeline(reg, &fakeStore{}, testGateway(t), config.SearchConfig{}, logging.NewNop())
	results, err := p.Search(context.Background(), "query", Options{Project: "acme", Dataset: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSkipsMissingCollections(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme", "docs", "unindexed")

	docsID := scope.DatasetID("acme", "docs")
	store := &fakeStore{points: map[string][]vectorstore.ScoredPoint{
		"project_acme_dataset_docs": {
			{ID: "c1", Score: 0.9, Payload: chunkPayload(docsID, "a.go", "alpha")},
		},
		// project_acme_dataset_unindexed is absent: ErrCollectionNotFound.
	}}

	p := NewPipeline(reg, store, testGateway(t), config.SearchConfig{}, logging.NewNop())
	results, err := p.Search(context.Background(), "query", Options{Project: "acme", Dataset: "*"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestSearchPathPrefixFilter(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme", "docs")

	docsID := scope.DatasetID("acme", "docs")
	store := &fakeStore{points: map[string][]vectorstore.ScoredPoint{
		"project_acme_dataset_docs": {
			{ID: "c1", Score: 0.9, Payload: chunkPayload(docsID, "internal/a.go", "alpha")},
			{ID: "c2", Score: 0.8, Payload: chunkPayload(docsID, "cmd/main.go", "beta")},
		},
	}}

	p := NewPipeline(reg, store, testGateway(t), config.SearchConfig{}, logging.NewNop())
	results, err := p.Search(context.Background(), "query",
		Options{Project: "acme", Dataset: "docs", PathPrefix: "internal/"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "internal/a.go", results[0].SourcePath)

	// The prefix thins each list after the query, so the candidate depth
	// widens to compensate.
	queries := store.seenQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, 150, queries[0].Limit)
}

func TestSearchScalarFiltersReachStore(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme", "docs")

	docsID := scope.DatasetID("acme", "docs")
	store := &fakeStore{points: map[string][]vectorstore.ScoredPoint{
		"project_acme_dataset_docs": {
			{ID: "c1", Score: 0.9, Payload: chunkPayload(docsID, "a.go", "alpha")},
		},
	}}

	p := NewPipeline(reg, store, testGateway(t), config.SearchConfig{}, logging.NewNop())
	_, err := p.Search(context.Background(), "query",
		Options{Project: "acme", Dataset: "docs", Language: "go", Repo: "https://github.com/acme/islandd"})
	require.NoError(t, err)

	queries := store.seenQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, "go", queries[0].Language)
	assert.Equal(t, "https://github.com/acme/islandd", queries[0].Repo)
}

func TestSearchTopKAndThreshold(t *testing.T) {
	reg, mock := mockRegistry(t)
	expectDatasets(mock, "acme", "docs")

	docsID := scope.DatasetID("acme", "docs")
	var points []vectorstore.ScoredPoint
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		points = append(points, vectorstore.ScoredPoint{ID: id, Payload: chunkPayload(docsID, id+".go", id)})
	}
	store := &fakeStore{points: map[string][]vectorstore.ScoredPoint{
		"project_acme_dataset_docs": points,
	}}

	p := NewPipeline(reg, store, testGateway(t), config.SearchConfig{TopK: 10}, logging.NewNop())
	results, err := p.Search(context.Background(), "query",
		Options{Project: "acme", Dataset: "docs", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// RRF scores start at 1/61; a threshold above that drops everything.
	expectDatasets(mock, "acme", "docs")
	results, err = p.Search(context.Background(), "query",
		Options{Project: "acme", Dataset: "docs", Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRequiresQueryAndProject(t *testing.T) {
	reg, _ := mockRegistry(t)
	p := NewPipeline(reg, &fakeStore{}, testGateway(t), config.SearchConfig{}, logging.NewNop())

	_, err := p.Search(context.Background(), "", Options{Project: "acme"})
	require.Error(t, err)
	_, err = p.Search(context.Background(), "query", Options{})
	require.Error(t, err)
}

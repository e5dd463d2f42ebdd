package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9620, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, 64, cfg.Embeddings.BatchSize)
	assert.Equal(t, 150, cfg.Search.RerankInitialK)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 50, cfg.Crawl.BatchSize)
	assert.Equal(t, 10, cfg.Crawl.MaxConcurrent)
	assert.Equal(t, 80, cfg.Crawl.MemoryThresholdPercent)
	assert.Equal(t, 30*time.Second, cfg.Crawl.PageTimeout)
	assert.Equal(t, 16384, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8123
search:
  enable_hybrid: true
embeddings:
  dense_url: http://dense:30001
  sparse_url: http://sparse:30003
crawl:
  batch_size: 25
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.True(t, cfg.Search.EnableHybrid)
	assert.Equal(t, "http://dense:30001", cfg.Embeddings.DenseURL)
	assert.Equal(t, 25, cfg.Crawl.BatchSize)
}

func TestDocumentedEnvOverrides(t *testing.T) {
	t.Setenv("ENABLE_HYBRID_SEARCH", "true")
	t.Setenv("ENABLE_RERANKING", "false")
	t.Setenv("RERANK_INITIAL_K", "200")
	t.Setenv("CRAWL_BATCH_SIZE", "30")
	t.Setenv("CRAWL_PAGE_TIMEOUT", "15000")
	t.Setenv("EMBEDDING_SPARSE_URL", "http://sparse:30003")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Search.EnableHybrid)
	assert.False(t, cfg.Search.EnableReranking)
	assert.Equal(t, 200, cfg.Search.RerankInitialK)
	assert.Equal(t, 30, cfg.Crawl.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.Crawl.PageTimeout)
}

func TestMinimaxAliases(t *testing.T) {
	t.Setenv("MINIMAX_API_KEY", "legacy-key")
	t.Setenv("MINIMAX_API_BASE", "https://legacy.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "legacy-key", cfg.LLM.APIKey.Value())
	assert.Equal(t, "https://legacy.example.com", cfg.LLM.APIBase)
}

func TestLLMNameWinsOverAlias(t *testing.T) {
	t.Setenv("LLM_API_KEY", "new-key")
	t.Setenv("MINIMAX_API_KEY", "legacy-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "new-key", cfg.LLM.APIKey.Value())
}

func TestQdrantURLParsing(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant.internal:6334")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestValidateRejectsHybridWithoutSparseURL(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Search.EnableHybrid = true
	cfg.Embeddings.SparseURL = ""

	require.Error(t, cfg.Validate())
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

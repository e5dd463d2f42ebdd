package config

import (
	"fmt"
	"time"

	"github.com/claudecontext/islandd/internal/logging"
)

// Config is the root configuration for islandd.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Chromem    ChromemConfig    `koanf:"chromem"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Search     SearchConfig     `koanf:"search"`
	Crawl      CrawlConfig      `koanf:"crawl"`
	LLM        LLMConfig        `koanf:"llm"`
	Logging    logging.Config   `koanf:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PostgresConfig configures the relational metadata store.
type PostgresConfig struct {
	// DSN is the Postgres connection string.
	DSN Secret `koanf:"dsn"`

	// Schema is the schema holding the claude_context tables.
	Schema string `koanf:"schema"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `koanf:"max_open_conns"`
}

// QdrantConfig configures the primary vector store.
type QdrantConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         Secret        `koanf:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ChromemConfig configures the embedded fallback vector store.
type ChromemConfig struct {
	// Enabled selects chromem instead of Qdrant. Dense-only.
	Enabled bool `koanf:"enabled"`

	// Path is the persistence directory. Empty means in-memory.
	Path string `koanf:"path"`
}

// EmbeddingsConfig configures the dense, sparse, and reranker services.
type EmbeddingsConfig struct {
	// DenseURL is the dense embedding service base URL. Required.
	DenseURL string `koanf:"dense_url"`

	// SparseURL is the SPLADE sparse service base URL. Used only when
	// hybrid search is enabled.
	SparseURL string `koanf:"sparse_url"`

	// RerankURL is the cross-encoder reranker base URL. Used only when
	// reranking is enabled.
	RerankURL string `koanf:"rerank_url"`

	// APIKey authenticates against the embedding services (optional).
	APIKey Secret `koanf:"api_key"`

	// Dimension is the dense embedding dimension.
	Dimension int `koanf:"dimension"`

	// BatchSize caps texts per embedding request.
	BatchSize int `koanf:"batch_size"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `koanf:"timeout"`
}

// SearchConfig tunes the retrieval pipeline.
type SearchConfig struct {
	// EnableHybrid turns on sparse retrieval and RRF fusion.
	EnableHybrid bool `koanf:"enable_hybrid"`

	// EnableReranking turns on the cross-encoder rerank stage.
	EnableReranking bool `koanf:"enable_reranking"`

	// RerankInitialK is the candidate list size fed to the reranker.
	RerankInitialK int `koanf:"rerank_initial_k"`

	// TopK is the default result count.
	TopK int `koanf:"top_k"`
}

// CrawlConfig tunes the web crawl strategies.
type CrawlConfig struct {
	// RunnerURL is the crawler runtime base URL.
	RunnerURL string `koanf:"runner_url"`

	// BatchSize is the frontier partition size per depth level.
	BatchSize int `koanf:"batch_size"`

	// MaxConcurrent bounds in-flight fetches within a batch.
	MaxConcurrent int `koanf:"max_concurrent"`

	// MemoryThresholdPercent pauses dispatch while resident-set usage
	// of the memory budget exceeds this percentage.
	MemoryThresholdPercent int `koanf:"memory_threshold_percent"`

	// MemoryBudgetBytes is the heap budget the threshold applies to.
	MemoryBudgetBytes uint64 `koanf:"memory_budget_bytes"`

	// PageTimeout bounds a single page fetch.
	PageTimeout time.Duration `koanf:"page_timeout"`
}

// LLMConfig configures the smart-query synthesis client.
type LLMConfig struct {
	APIKey      Secret  `koanf:"api_key"`
	APIBase     string  `koanf:"api_base"`
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9620
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Postgres.Schema == "" {
		c.Postgres.Schema = "claude_context"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 5
	}

	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.RequestTimeout == 0 {
		c.Qdrant.RequestTimeout = 30 * time.Second
	}

	if c.Embeddings.DenseURL == "" {
		c.Embeddings.DenseURL = "http://localhost:30001"
	}
	if c.Embeddings.SparseURL == "" {
		c.Embeddings.SparseURL = "http://localhost:30003"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 768
	}
	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = 64
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 30 * time.Second
	}

	if c.Search.RerankInitialK == 0 {
		c.Search.RerankInitialK = 150
	}
	if c.Search.TopK == 0 {
		c.Search.TopK = 10
	}

	if c.Crawl.RunnerURL == "" {
		c.Crawl.RunnerURL = "http://localhost:11235"
	}
	if c.Crawl.BatchSize == 0 {
		c.Crawl.BatchSize = 50
	}
	if c.Crawl.MaxConcurrent == 0 {
		c.Crawl.MaxConcurrent = 10
	}
	if c.Crawl.MemoryThresholdPercent == 0 {
		c.Crawl.MemoryThresholdPercent = 80
	}
	if c.Crawl.MemoryBudgetBytes == 0 {
		c.Crawl.MemoryBudgetBytes = 2 << 30 // 2GiB
	}
	if c.Crawl.PageTimeout == 0 {
		c.Crawl.PageTimeout = 30 * time.Second
	}

	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 16384
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("invalid qdrant port: %d", c.Qdrant.Port)
	}
	if c.Embeddings.DenseURL == "" {
		return fmt.Errorf("embeddings dense_url is required")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings batch_size must be positive")
	}
	if c.Search.EnableHybrid && c.Embeddings.SparseURL == "" {
		return fmt.Errorf("hybrid search enabled but embeddings sparse_url is empty")
	}
	if c.Search.EnableReranking && c.Embeddings.RerankURL == "" {
		return fmt.Errorf("reranking enabled but embeddings rerank_url is empty")
	}
	if c.Search.RerankInitialK <= 0 {
		return fmt.Errorf("search rerank_initial_k must be positive")
	}
	if c.Crawl.MemoryThresholdPercent <= 0 || c.Crawl.MemoryThresholdPercent > 100 {
		return fmt.Errorf("crawl memory_threshold_percent must be in (0, 100]")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Package config provides configuration loading for islandd.
//
// Configuration precedence (highest to lowest):
//  1. Documented environment variables (ENABLE_HYBRID_SEARCH, CRAWL_BATCH_SIZE, ...)
//  2. Section environment variables (SERVER_PORT -> server.port, ...)
//  3. YAML config file (~/.config/islandd/config.yaml)
//  4. Hardcoded defaults
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration from the YAML file at configPath (default
// ~/.config/islandd/config.yaml), then applies environment overrides,
// defaults, and validation.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "islandd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Section env vars: SERVER_PORT -> server.port, SEARCH_ENABLE_HYBRID ->
	// search.enable_hybrid. Split on first underscore only.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDocumentedEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the islandd config directory if it doesn't exist.
func EnsureConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "islandd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return configDir, nil
}

// applyDocumentedEnv maps the documented flat environment variable names
// onto the config. These take precedence over the YAML file and the section
// env vars. Legacy MINIMAX_* names are accepted as aliases for LLM_*.
func applyDocumentedEnv(cfg *Config) {
	if v, ok := envBool("ENABLE_HYBRID_SEARCH"); ok {
		cfg.Search.EnableHybrid = v
	}
	if v, ok := envBool("ENABLE_RERANKING"); ok {
		cfg.Search.EnableReranking = v
	}
	if v, ok := envInt("RERANK_INITIAL_K"); ok {
		cfg.Search.RerankInitialK = v
	}

	if v, ok := envInt("CRAWL_BATCH_SIZE"); ok {
		cfg.Crawl.BatchSize = v
	}
	if v, ok := envInt("CRAWL_MAX_CONCURRENT"); ok {
		cfg.Crawl.MaxConcurrent = v
	}
	if v, ok := envInt("MEMORY_THRESHOLD_PERCENT"); ok {
		cfg.Crawl.MemoryThresholdPercent = v
	}
	if v, ok := envInt("CRAWL_PAGE_TIMEOUT"); ok {
		cfg.Crawl.PageTimeout = time.Duration(v) * time.Millisecond
	}

	if v := envAlias("LLM_API_KEY", "MINIMAX_API_KEY"); v != "" {
		cfg.LLM.APIKey = Secret(v)
	}
	if v := envAlias("LLM_API_BASE", "MINIMAX_API_BASE"); v != "" {
		cfg.LLM.APIBase = v
	}
	if v := envAlias("MODEL_NAME", "MINIMAX_MODEL_NAME"); v != "" {
		cfg.LLM.Model = v
	}
	if v, ok := envInt("LLM_MAX_TOKENS"); ok {
		cfg.LLM.MaxTokens = v
	}
	if raw := os.Getenv("LLM_TEMPERATURE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.LLM.Temperature = v
		}
	}

	if v := os.Getenv("QDRANT_URL"); v != "" {
		applyQdrantURL(cfg, v)
	}
	if v := os.Getenv("POSTGRES_CONNECTION_STRING"); v != "" {
		cfg.Postgres.DSN = Secret(v)
	}
	if v := os.Getenv("EMBEDDING_DENSE_URL"); v != "" {
		cfg.Embeddings.DenseURL = v
	}
	if v := os.Getenv("EMBEDDING_SPARSE_URL"); v != "" {
		cfg.Embeddings.SparseURL = v
	}
	if v := os.Getenv("EMBEDDING_RERANK_URL"); v != "" {
		cfg.Embeddings.RerankURL = v
	}
}

// applyQdrantURL parses host:port from a QDRANT_URL value. Scheme and path
// are ignored; the gRPC port is what matters.
func applyQdrantURL(cfg *Config, raw string) {
	hostPort := raw
	if i := strings.Index(hostPort, "://"); i >= 0 {
		hostPort = hostPort[i+3:]
	}
	if i := strings.IndexByte(hostPort, '/'); i >= 0 {
		hostPort = hostPort[:i]
	}
	host, port, found := strings.Cut(hostPort, ":")
	if host != "" {
		cfg.Qdrant.Host = host
	}
	if found {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Qdrant.Port = p
		}
	}
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envAlias(name, legacy string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return os.Getenv(legacy)
}

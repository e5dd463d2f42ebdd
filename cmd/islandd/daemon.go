package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/chunker"
	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/crawl"
	"github.com/claudecontext/islandd/internal/embeddings"
	"github.com/claudecontext/islandd/internal/indexer"
	"github.com/claudecontext/islandd/internal/llm"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/progress"
	"github.com/claudecontext/islandd/internal/registry"
	"github.com/claudecontext/islandd/internal/search"
	"github.com/claudecontext/islandd/internal/vectorstore"
)

// daemon holds the wired service graph shared by the serve and mcp
// commands.
type daemon struct {
	cfg         *config.Config
	logger      *logging.Logger
	registry    *registry.Store
	store       vectorstore.Store
	gateway     *embeddings.Gateway
	coordinator *indexer.Coordinator
	crawler     *crawl.Engine
	pipeline    *search.Pipeline
	llm         *llm.Client
	tracker     *progress.Tracker
}

// buildDaemon connects the backends and wires the services. The LLM
// client is optional; everything else is required.
func buildDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	reg, err := registry.NewStore(cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := reg.EnsureSchema(ctx); err != nil {
		_ = reg.Close()
		return nil, err
	}

	var store vectorstore.Store
	if cfg.Chromem.Enabled {
		store, err = vectorstore.NewChromemStore(cfg.Chromem.Path, logger)
	} else {
		store, err = vectorstore.NewQdrantStore(&vectorstore.QdrantConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			UseTLS:         cfg.Qdrant.UseTLS,
			APIKey:         cfg.Qdrant.APIKey.Value(),
			RequestTimeout: cfg.Qdrant.RequestTimeout,
			EnableSparse:   cfg.Search.EnableHybrid,
		}, logger)
	}
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("vector store: %w", err)
	}

	gateway, err := embeddings.NewGateway(cfg.Embeddings, cfg.Search, logger,
		embeddings.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		_ = store.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("embedding gateway: %w", err)
	}

	runner, err := crawl.NewRunnerClient(cfg.Crawl.RunnerURL, cfg.Crawl.PageTimeout)
	if err != nil {
		_ = store.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("crawl runner: %w", err)
	}

	tracker := progress.NewTracker()
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		store:    store,
		gateway:  gateway,
		coordinator: indexer.NewCoordinator(reg, store, gateway,
			chunker.New(chunker.Options{}), tracker, logger),
		crawler:  crawl.NewEngine(runner, cfg.Crawl, logger),
		pipeline: search.NewPipeline(reg, store, gateway, cfg.Search, logger),
		tracker:  tracker,
	}

	d.llm, err = llm.NewClient(cfg.LLM, logger)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			d.close()
			return nil, fmt.Errorf("llm: %w", err)
		}
		logger.Info(ctx, "no llm model configured, smart_query returns raw results")
		d.llm = nil
	}

	logger.Info(ctx, "daemon wired",
		zap.Bool("hybrid", store.Hybrid()),
		zap.Bool("chromem", cfg.Chromem.Enabled),
		zap.Bool("llm", d.llm != nil))
	return d, nil
}

func (d *daemon) close() {
	if err := d.store.Close(); err != nil {
		d.logger.Warn(context.Background(), "closing vector store", zap.Error(err))
	}
	if err := d.registry.Close(); err != nil {
		d.logger.Warn(context.Background(), "closing postgres", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/httpapi"
	"github.com/claudecontext/islandd/internal/logging"
)

// sweepInterval is how often terminal progress records are evicted.
const sweepInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the islandd HTTP daemon",
	Long: `Run the daemon: connect to Postgres and the vector store, ensure the
schema, and serve the HTTP API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	server, err := httpapi.NewServer(d.coordinator, d.crawler, d.tracker,
		httpapi.NewMetrics(prometheus.DefaultRegisterer), prometheus.DefaultGatherer,
		cfg.Server, logger)
	if err != nil {
		return err
	}

	go d.tracker.RunSweeper(ctx, sweepInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server failed", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

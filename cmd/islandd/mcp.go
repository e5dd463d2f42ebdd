package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/claudecontext/islandd/internal/config"
	"github.com/claudecontext/islandd/internal/defaults"
	"github.com/claudecontext/islandd/internal/logging"
	"github.com/claudecontext/islandd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the claudeContext MCP tools over stdio",
	Long: `Run the MCP server on stdio for use as a Claude Code MCP server.
Exposes the claudeContext tool namespace: init, index, indexGitHub,
crawl, search, query, smart_query, status, clear, listDatasets,
listScopes, and getDatasetStats.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Stdout carries the MCP protocol; the logger writes to stderr.
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

	def, err := defaults.NewStore()
	if err != nil {
		return err
	}

	var answerer mcp.Answerer
	if d.llm != nil {
		answerer = d.llm
	}
	server, err := mcp.NewServer(
		&mcp.Config{Name: "islandd", Version: version},
		d.registry, d.store, d.coordinator, d.crawler, d.pipeline, answerer,
		def, d.tracker, logger)
	if err != nil {
		return err
	}

	go d.tracker.RunSweeper(ctx, sweepInterval)
	return server.Run(ctx)
}

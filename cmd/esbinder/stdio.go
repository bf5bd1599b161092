package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cr0mbly/esbinder/internal/log"
	"github.com/cr0mbly/esbinder/internal/mcp"
)

func stdioCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Start MCP server on stdio",
		Long: `Start the MCP (Model Context Protocol) server on stdio.

Assistants can list the searchable entity types, search them and read
indexed documents. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio(*envFile)
		},
	}
}

func runStdio(envFile string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// stdout carries the protocol.
	logger := log.NewWithWriter(os.Stderr, cfg.LogFormat(), cfg.LogLevel())
	slog.SetDefault(logger)
	logger.Info("starting MCP server",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir()),
	)

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	if err := client.InitializeAll(context.Background()); err != nil {
		return fmt.Errorf("initialize indices: %w", err)
	}

	return mcp.NewServer(client, client, client.Indexes, version, logger).ServeStdio()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cr0mbly/esbinder/infrastructure/api"
	"github.com/cr0mbly/esbinder/internal/config"
	"github.com/cr0mbly/esbinder/internal/log"
)

func serveCmd(envFile *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index API and MCP endpoint over HTTP",
		Long: `Serve the index API and MCP endpoint over HTTP.

Every registered index is initialized before the listener opens. Settings
come from defaults, then the .env file, then the environment, then flags.

Environment variables:
  HOST                         Server host to bind to (default: 0.0.0.0)
  PORT                         Server port to listen on (default: 8080)
  DATA_DIR                     Data directory (default: ~/.esbinder)
  DB_URL                       Database URL (default: sqlite:///{data_dir}/esbinder.db)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, json (default: pretty)
  API_KEYS                     Comma-separated list of keys accepted for writes

  ENGINE                       Search engine: bleve, elasticsearch (default: bleve)
  ELASTIC_ENDPOINT             Comma-separated Elasticsearch addresses
  ELASTIC_SECRET               Elasticsearch API key
  ELASTIC_REFRESH              Refresh policy for single writes: true, false, wait_for
  ELASTIC_BULK_WORKERS         Bulk indexer workers (default: number of CPUs)
  BLEVE_DIR                    Bleve index directory (default: {data_dir}/indexes)
  BLEVE_IN_MEMORY              Keep Bleve indices in memory (default: false)

  CHUNK_SIZE                   Rows per rebuild chunk (default: 1000)
  SEARCH_LIMIT                 Default search page size (default: 20)
  MAPPINGS_FILE                YAML file of index bodies keyed by entity type

  PERIODIC_REBUILD_ENABLED     Rebuild every index on a timer (default: false)
  PERIODIC_REBUILD_INTERVAL_SECONDS  Rebuild interval (default: 86400)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8080)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = applyServeOverrides(cfg, host, port)
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger := log.Configure(cfg)
	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "starting esbinder", attrs...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	if err := client.InitializeAll(ctx); err != nil {
		return fmt.Errorf("initialize indices: %w", err)
	}

	server := api.NewServer(cfg.Addr(), logger)
	server.Router().Mount("/", api.NewAPIServer(client, client.APIKeys()).WithVersion(version).Handler())
	return server.Run(ctx)
}

// applyServeOverrides layers --host and --port over the loaded config.
func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption
	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}
	return cfg.Apply(opts...)
}

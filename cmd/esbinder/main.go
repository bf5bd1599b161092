// Package main is the entry point for the esbinder CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cr0mbly/esbinder/internal/config"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "esbinder",
		Short: "Search index binder for relational entities",
		Long: `esbinder keeps a search index per entity type in step with the rows of a
relational database. Reads go through a read alias and writes through a
write alias, so an index can be rebuilt and swapped in without downtime.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")

	cmd.AddCommand(serveCmd(&envFile))
	cmd.AddCommand(initCmd(&envFile))
	cmd.AddCommand(rebuildCmd(&envFile))
	cmd.AddCommand(statusCmd(&envFile))
	cmd.AddCommand(searchCmd(&envFile))
	cmd.AddCommand(stdioCmd(&envFile))
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from .env file and environment variables.
func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

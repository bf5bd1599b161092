package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cr0mbly/esbinder"
	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/internal/log"
)

func initCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the first index of every entity type that has none",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := log.Configure(cfg)
			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)

			return client.InitializeAll(cmd.Context())
		},
	}
}

func rebuildCmd(envFile *string) *cobra.Command {
	var keepOld bool

	cmd := &cobra.Command{
		Use:   "rebuild [entity-type...]",
		Short: "Rebuild indices and swap them in",
		Long: `Rebuild builds a fresh physical index for each named entity type (or every
registered type when none is named), fills it from the database and moves
the read alias onto it. The previous index is dropped unless --keep-old is
set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := log.Configure(cfg)
			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)

			var options []service.RebuildOption
			if keepOld {
				options = append(options, service.WithKeepOldIndex())
			}

			ctx := cmd.Context()
			var errs []error
			for _, name := range entityNames(client, args) {
				result, err := client.Rebuild(log.WithEntity(ctx, name), name, options...)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				logger.Info("rebuilt index",
					slog.String("entity", result.EntityType),
					slog.String("index", result.Index),
					slog.Int("documents", result.Documents),
					slog.Duration("duration", result.Duration),
				)
				if len(result.Orphaned) > 0 {
					logger.Warn("previous index left behind", slog.String("entity", name), slog.String("orphaned", strings.Join(result.Orphaned, ",")))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&keepOld, "keep-old", false, "Keep the previous physical index")

	return cmd
}

func statusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [entity-type...]",
		Short: "Show the index state and alias bindings of entity types",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			logger := log.Configure(cfg)
			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)

			return printStatus(cmd.Context(), client, entityNames(client, args))
		},
	}
}

func printStatus(ctx context.Context, client *esbinder.Client, names []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tSTATE\tREAD\tWRITE")
	for _, name := range names {
		schema, err := client.Schema(name)
		if err != nil {
			return err
		}
		state, err := client.State(ctx, name)
		if err != nil {
			return err
		}
		read, _, err := client.Engine().AliasIndices(ctx, schema.ReadAlias())
		if err != nil {
			return err
		}
		write, _, err := client.Engine().AliasIndices(ctx, schema.WriteAlias())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, state, strings.Join(read, ","), strings.Join(write, ","))
	}
	return w.Flush()
}

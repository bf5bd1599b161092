package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/internal/log"
)

func searchCmd(envFile *string) *cobra.Command {
	var (
		sortBy string
		from   int
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search <entity-type> [query]",
		Short: "Search an entity type and print the matching rows as JSON lines",
		Args:  cobra.RangeArgs(1, 2),
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

			req := search.Request{From: from, Limit: limit}
			if len(args) == 2 {
				req.Query = args[1]
			}
			for _, field := range strings.Split(sortBy, ",") {
				if field = strings.TrimSpace(field); field != "" {
					req.SortBy = append(req.SortBy, field)
				}
			}

			result, err := client.Search(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, row := range result.Rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(os.Stderr, "%d of %d hits\n", len(result.Rows), result.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "", "Comma-separated sort fields, prefix with - for descending")
	cmd.Flags().IntVar(&from, "from", 0, "Offset of the first hit")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum hits (default: SEARCH_LIMIT)")

	return cmd
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/cr0mbly/esbinder"
	"github.com/cr0mbly/esbinder/internal/config"
	"github.com/cr0mbly/esbinder/internal/library"
)

// newClient builds a client from cfg and registers the library entity
// types. The mappings file, when configured, overrides their mappings.
func newClient(cfg config.AppConfig, logger *slog.Logger, extra ...esbinder.Option) (*esbinder.Client, error) {
	opts := []esbinder.Option{
		esbinder.WithAppConfig(cfg),
		esbinder.WithLogger(logger),
	}
	if path := cfg.MappingsFile(); path != "" {
		mappings, err := config.LoadMappings(path)
		if err != nil {
			return nil, fmt.Errorf("load mappings: %w", err)
		}
		opts = append(opts, esbinder.WithMappings(mappings))
	}
	opts = append(opts, extra...)

	client, err := esbinder.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create esbinder client: %w", err)
	}

	if err := client.Migrate(library.Models()...); err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Register(&library.User{}, library.UserOptions()...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register user: %w", err)
	}
	if _, err := client.Register(&library.Author{}, library.AuthorOptions()...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register author: %w", err)
	}
	return client, nil
}

// closeClient closes client and logs a failure.
func closeClient(client *esbinder.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Error("failed to close esbinder client", slog.Any("error", err))
	}
}

// entityNames returns args, or every registered entity type when args is empty.
func entityNames(client *esbinder.Client, args []string) []string {
	if len(args) > 0 {
		return args
	}
	names := make([]string, 0, len(client.Schemas()))
	for _, s := range client.Schemas() {
		names = append(names, s.Name())
	}
	return names
}

// Package esbinder keeps a relational entity store and a derived full-text
// index consistent without ever exposing a half-built index to readers.
//
// Every registered entity type is served through two aliases: readers query
// <base>-read, single-row writes go to <base>-write. A rebuild populates a
// fresh physical index in the background and switches the read alias in
// one atomic request once the index is complete.
//
// Basic usage:
//
//	client, err := esbinder.New(
//	    esbinder.WithSQLite(".esbinder/esbinder.db"),
//	    esbinder.WithBleve(".esbinder/indexes"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	authors, err := client.Register(&library.Author{}, library.AuthorOptions()...)
//
//	// Writes through the client store are indexed as they happen
//	row, err := client.Store().Save(ctx, authors, entity.Row{"publishing_name": "Bill"})
//
//	// Rebuild with zero downtime
//	result, err := client.Rebuild(ctx, authors.Name())
//
//	// Query through the read alias and load the matching rows
//	page, err := client.Search(ctx, authors.Name(), search.Request{Query: "bill"})
package esbinder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/infrastructure/persistence"
	infrasearch "github.com/cr0mbly/esbinder/infrastructure/search"
	"github.com/cr0mbly/esbinder/internal/config"
	"github.com/cr0mbly/esbinder/internal/database"
	"github.com/cr0mbly/esbinder/internal/log"
)

// Client is the main entry point for the esbinder library.
//
// Access services via struct fields:
//
//	client.Indexes.State(ctx, schema)
//	client.Sync.Refresh(ctx, schema, key)
//	client.Projector.Project(ids, true)
type Client struct {
	Indexes   *service.IndexManager
	Sync      *service.Sync
	Projector *service.Projector
	Rebuilds  persistence.RebuildStore

	db              database.Database
	store           persistence.RowStore
	engine          search.Engine
	periodicRebuild *service.PeriodicRebuild
	mappings        config.Mappings
	closers         []io.Closer

	logger      *slog.Logger
	dataDir     string
	apiKeys     []string
	searchLimit int

	rebuilding   singleflight.Group
	rebuildLocks sync.Map // entity name -> *sync.Mutex

	schemas    map[string]entity.Schema
	order      []string
	closed     atomic.Bool
	mu         sync.RWMutex
}

// New creates a new Client with the given options.
// The periodic rebuild, when enabled, is started automatically.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.database == databaseUnset {
		return nil, ErrNoDatabase
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	dataDir, err := config.PrepareDataDir(cfg.dataDir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	dbURL, err := buildDatabaseURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build database url: %w", err)
	}

	db, err := database.NewDatabase(ctx, dbURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := persistence.AutoMigrate(db); err != nil {
		errClose := db.Close()
		return nil, errors.Join(err, errClose)
	}

	engine, err := buildEngine(cfg, dataDir, logger)
	if err != nil {
		errClose := db.Close()
		return nil, errors.Join(fmt.Errorf("search engine: %w", err), errClose)
	}

	store := persistence.NewRowStore(db)
	rebuilds := persistence.NewRebuildStore(db)

	client := &Client{
		Indexes: service.NewIndexManager(engine,
			service.WithRebuildStore(rebuilds),
			service.WithChunkSize(cfg.chunkSize),
			service.WithIndexLogger(logger),
		),
		Sync:        service.NewSync(store, engine, logger),
		Projector:   service.NewProjector(engine, logger),
		Rebuilds:    rebuilds,
		db:          db,
		store:       store,
		engine:      engine,
		mappings:    cfg.mappings,
		closers:     cfg.closers,
		logger:      logger,
		dataDir:     dataDir,
		apiKeys:     cfg.apiKeys,
		searchLimit: cfg.searchLimit,
		schemas:     map[string]entity.Schema{},
	}
	client.periodicRebuild = service.NewPeriodicRebuild(cfg.periodicRebuild, serialRebuilder{client}, client.sources, logger)
	client.periodicRebuild.Start(ctx)

	logger.Info("esbinder client ready",
		slog.String("data_dir", dataDir),
		slog.String("engine", engineName(cfg.engine)),
	)
	return client, nil
}

// buildDatabaseURL returns the database URL for the configured database.
func buildDatabaseURL(cfg *clientConfig) (string, error) {
	switch cfg.database {
	case databaseSQLite:
		if cfg.dbPath == "" {
			return "", errors.New("sqlite path is empty")
		}
		return "sqlite:///" + cfg.dbPath, nil
	case databasePostgres:
		if cfg.dbDSN == "" {
			return "", errors.New("postgres dsn is empty")
		}
		return cfg.dbDSN, nil
	case databaseURL:
		return cfg.dbURL, nil
	default:
		return "", ErrNoDatabase
	}
}

// buildEngine creates the configured search engine. Without an explicit
// choice indices are stored on disk under {dataDir}/indexes.
func buildEngine(cfg *clientConfig, dataDir string, logger *slog.Logger) (search.Engine, error) {
	switch cfg.engine {
	case engineCustom:
		if cfg.customEngine == nil {
			return nil, errors.New("custom engine is nil")
		}
		return cfg.customEngine, nil
	case engineElastic:
		if !cfg.elastic.IsConfigured() {
			return nil, config.ErrMissingElasticEndpoint
		}
		return infrasearch.NewElasticEngine(infrasearch.ElasticConfig{
			Addresses: cfg.elastic.Addresses(),
			Secret:    cfg.elastic.Secret(),
			Refresh:   cfg.elastic.Refresh(),
			Workers:   cfg.elastic.Workers(),
		}, logger)
	case engineBleveMemory:
		return infrasearch.NewBleveEngine(infrasearch.WithBleveLogger(logger))
	default:
		dir := cfg.bleveDir
		if dir == "" {
			dir = filepath.Join(dataDir, config.DefaultIndexSubdir)
		}
		return infrasearch.NewBleveEngine(infrasearch.WithBleveDir(dir), infrasearch.WithBleveLogger(logger))
	}
}

func engineName(e engineType) string {
	switch e {
	case engineElastic:
		return string(config.EngineElastic)
	case engineCustom:
		return "custom"
	case engineBleveMemory:
		return string(config.EngineBleve) + " (memory)"
	default:
		return string(config.EngineBleve)
	}
}

// Migrate creates or updates the tables of models.
func (c *Client) Migrate(models ...any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return persistence.AutoMigrate(c.db, models...)
}

// Register describes a GORM model and registers it as an indexed entity
// type. A mapping for the type in the configured mappings file replaces the
// one given in options.
func (c *Client) Register(model any, options ...entity.SchemaOption) (entity.Schema, error) {
	if c.closed.Load() {
		return entity.Schema{}, ErrClientClosed
	}
	schema, err := persistence.Describe(c.db, model, options...)
	if err != nil {
		return entity.Schema{}, fmt.Errorf("describe model: %w", err)
	}
	if body, ok := c.mappings.For(schema.Name()); ok {
		options = append(slices.Clone(options), entity.WithMapping(body))
		if schema, err = persistence.Describe(c.db, model, options...); err != nil {
			return entity.Schema{}, fmt.Errorf("describe model: %w", err)
		}
	}
	if err := c.RegisterSchema(schema); err != nil {
		return entity.Schema{}, err
	}
	return schema, nil
}

// RegisterSchema registers a schema built without a GORM model.
func (c *Client) RegisterSchema(schema entity.Schema) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schemas[schema.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, schema.Name())
	}
	c.schemas[schema.Name()] = schema
	c.order = append(c.order, schema.Name())
	c.logger.Debug("registered entity type",
		slog.String("entity", schema.Name()),
		slog.String("read_alias", schema.ReadAlias()),
		slog.String("write_alias", schema.WriteAlias()),
	)
	return nil
}

// Schema looks up a registered entity type.
func (c *Client) Schema(name string) (entity.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	if !ok {
		return entity.Schema{}, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return s, nil
}

// Schemas returns every registered entity type in registration order.
func (c *Client) Schemas() []entity.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]entity.Schema, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.schemas[name])
	}
	return out
}

// Source returns the rows of a registered entity type matching options.
func (c *Client) Source(name string, options ...repository.Option) (entity.Source, error) {
	s, err := c.Schema(name)
	if err != nil {
		return entity.Source{}, err
	}
	return entity.NewSource(c.store, s, options...), nil
}

func (c *Client) sources() []entity.Source {
	schemas := c.Schemas()
	out := make([]entity.Source, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, entity.NewSource(c.store, s))
	}
	return out
}

// Store returns the entity store whose writes are mirrored into the index.
func (c *Client) Store() entity.Store {
	return c.Sync
}

// Engine returns the search engine.
func (c *Client) Engine() search.Engine {
	return c.engine
}

// InitializeAll bootstraps the index of every registered entity type
// concurrently. Types that already have a write alias are left alone.
func (c *Client) InitializeAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range c.Schemas() {
		g.Go(func() error {
			created, err := c.Indexes.Initialize(log.WithEntity(ctx, s.Name()), s)
			if err != nil {
				return err
			}
			if created {
				c.logger.Info("initialized entity index", slog.String("entity", s.Name()))
			}
			return nil
		})
	}
	return g.Wait()
}

// Rebuild rebuilds the index of one entity type. Concurrent rebuilds of the
// same type with the same options share one run and its result. A rebuild
// with different options waits for the running one and then runs itself.
func (c *Client) Rebuild(ctx context.Context, name string, options ...service.RebuildOption) (service.RebuildResult, error) {
	if c.closed.Load() {
		return service.RebuildResult{}, ErrClientClosed
	}
	source, err := c.Source(name)
	if err != nil {
		return service.RebuildResult{}, err
	}
	return c.rebuild(ctx, source, options...)
}

func (c *Client) rebuild(ctx context.Context, source entity.Source, options ...service.RebuildOption) (service.RebuildResult, error) {
	name := source.Schema().Name()
	v, err, shared := c.rebuilding.Do(name+"|"+service.RebuildVariant(options...), func() (any, error) {
		lock := c.rebuildLock(name)
		lock.Lock()
		defer lock.Unlock()
		return c.Indexes.Rebuild(log.WithEntity(context.WithoutCancel(ctx), name), source, options...)
	})
	if shared {
		c.logger.Debug("joined running rebuild", slog.String("entity", name))
	}
	result, _ := v.(service.RebuildResult)
	return result, err
}

func (c *Client) rebuildLock(name string) *sync.Mutex {
	lock, _ := c.rebuildLocks.LoadOrStore(name, new(sync.Mutex))
	return lock.(*sync.Mutex)
}

// RebuildAll rebuilds every registered entity type in registration order.
// A failed type does not stop the others; every failure is returned.
func (c *Client) RebuildAll(ctx context.Context, options ...service.RebuildOption) ([]service.RebuildResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	var (
		results []service.RebuildResult
		errs    []error
	)
	for _, source := range c.sources() {
		res, err := c.rebuild(ctx, source, options...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// State returns the lifecycle state of an entity type.
func (c *Client) State(ctx context.Context, name string) (lifecycle.State, error) {
	s, err := c.Schema(name)
	if err != nil {
		return lifecycle.StateUninitialized, err
	}
	return c.Indexes.State(ctx, s)
}

// Search queries the read alias of an entity type and returns the matching
// rows. Requests without a limit use the configured search limit.
func (c *Client) Search(ctx context.Context, name string, req search.Request) (service.SearchResult, error) {
	if c.closed.Load() {
		return service.SearchResult{}, ErrClientClosed
	}
	source, err := c.Source(name)
	if err != nil {
		return service.SearchResult{}, err
	}
	if req.Limit <= 0 {
		req.Limit = c.searchLimit
	}
	if err := req.Validate(); err != nil {
		return service.SearchResult{}, err
	}
	return c.Projector.Search(ctx, source, req)
}

// APIKeys returns the API keys accepted by the HTTP API.
func (c *Client) APIKeys() []string {
	return slices.Clone(c.apiKeys)
}

// Close releases all resources and stops the periodic rebuild.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	// The rebuild loop reads the registry, so it stops before the lock is taken.
	c.periodicRebuild.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	var errs []error
	if err := c.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close search engine: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.logger.Info("esbinder client closed")
	return nil
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// DataDir returns the prepared data directory.
func (c *Client) DataDir() string {
	return c.dataDir
}

// serialRebuilder routes scheduled rebuilds through the client so they share
// runs with API and CLI rebuilds.
type serialRebuilder struct {
	c *Client
}

func (r serialRebuilder) Rebuild(ctx context.Context, source entity.Source, options ...service.RebuildOption) (service.RebuildResult, error) {
	return r.c.rebuild(ctx, source, options...)
}

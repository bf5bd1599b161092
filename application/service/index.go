// Package service provides application layer services that orchestrate domain operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/search"
	domainservice "github.com/cr0mbly/esbinder/domain/service"
)

// IndexManager owns the alias lifecycle of every entity type: bootstrap,
// full rebuild with atomic cutover, and filtered reindex or purge.
type IndexManager struct {
	engine    search.Engine
	builder   *domainservice.DocumentBuilder
	rebuilds  lifecycle.RebuildStore
	logger    *slog.Logger
	chunkSize int
	now       func() time.Time

	bootstrap singleflight.Group

	mu       sync.Mutex
	inFlight map[string]int
	rebuilt  map[string]string
}

// IndexManagerOption configures an IndexManager.
type IndexManagerOption func(*IndexManager)

// WithRebuildStore records every rebuild in store.
func WithRebuildStore(store lifecycle.RebuildStore) IndexManagerOption {
	return func(m *IndexManager) { m.rebuilds = store }
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l *slog.Logger) IndexManagerOption {
	return func(m *IndexManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithChunkSize sets the number of rows read and bulk-written per batch.
func WithChunkSize(n int) IndexManagerOption {
	return func(m *IndexManager) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithClock replaces the time source used for rebuild records.
func WithClock(now func() time.Time) IndexManagerOption {
	return func(m *IndexManager) { m.now = now }
}

// NewIndexManager creates an IndexManager over engine.
func NewIndexManager(engine search.Engine, options ...IndexManagerOption) *IndexManager {
	m := &IndexManager{
		engine:    engine,
		builder:   domainservice.NewDocumentBuilder(),
		logger:    slog.Default(),
		chunkSize: domainservice.DefaultChunkSize,
		now:       time.Now,
		inFlight:  map[string]int{},
		rebuilt:   map[string]string{},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// GenerateIndex creates a new physical index named <base>-<uuid> from the
// schema's mapping body and returns its name.
func (m *IndexManager) GenerateIndex(ctx context.Context, schema entity.Schema) (string, error) {
	name := schema.BaseName() + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := m.engine.CreateIndex(ctx, name, schema.Mapping()); err != nil {
		return "", fmt.Errorf("generate index for %s: %w", schema.Name(), err)
	}
	m.logger.Info("created index", slog.String("entity", schema.Name()), slog.String("index", name))
	return name, nil
}

// BindAlias points alias at index alone. Every existing binding is removed
// in the same request, so readers never observe an unbound alias.
func (m *IndexManager) BindAlias(ctx context.Context, index, alias string) error {
	actions, err := m.bindActions(ctx, index, alias)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	if err := m.engine.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("bind %s to %s: %w", alias, index, err)
	}
	m.logger.Debug("bound alias", slog.String("alias", alias), slog.String("index", index))
	return nil
}

func (m *IndexManager) bindActions(ctx context.Context, index, alias string) ([]search.AliasAction, error) {
	current, _, err := m.engine.AliasIndices(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	if len(current) == 1 && current[0] == index {
		return nil, nil
	}
	actions := make([]search.AliasAction, 0, len(current)+1)
	for _, old := range current {
		if old != index {
			actions = append(actions, search.RemoveAlias(old, alias))
		}
	}
	return append(actions, search.AddAlias(index, alias)), nil
}

// Initialize bootstraps the index of an entity type: when the write alias
// does not resolve, one index is created and both aliases are bound to it.
// It reports whether an index was created. Concurrent calls for the same
// type share one bootstrap.
func (m *IndexManager) Initialize(ctx context.Context, schema entity.Schema) (bool, error) {
	v, err, _ := m.bootstrap.Do(schema.Name(), func() (any, error) {
		return m.initialize(ctx, schema)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *IndexManager) initialize(ctx context.Context, schema entity.Schema) (bool, error) {
	write, found, err := m.engine.AliasIndices(ctx, schema.WriteAlias())
	if err != nil {
		return false, fmt.Errorf("initialize %s: %w", schema.Name(), err)
	}
	if found && len(write) > 0 {
		return false, nil
	}

	name, err := m.GenerateIndex(ctx, schema)
	if err != nil {
		return false, err
	}
	readActions, err := m.bindActions(ctx, name, schema.ReadAlias())
	if err != nil {
		return false, err
	}
	actions := append([]search.AliasAction{search.AddAlias(name, schema.WriteAlias())}, readActions...)
	if err := m.engine.UpdateAliases(ctx, actions); err != nil {
		return false, fmt.Errorf("initialize %s: %w", schema.Name(), err)
	}
	m.logger.Info("bootstrapped index",
		slog.String("entity", schema.Name()),
		slog.String("index", name),
		slog.String("read_alias", schema.ReadAlias()),
		slog.String("write_alias", schema.WriteAlias()),
	)
	return true, nil
}

// State derives the lifecycle state of an entity type from its aliases and
// the rebuild history.
func (m *IndexManager) State(ctx context.Context, schema entity.Schema) (lifecycle.State, error) {
	write, found, err := m.engine.AliasIndices(ctx, schema.WriteAlias())
	if err != nil {
		return lifecycle.StateUninitialized, err
	}
	if !found || len(write) == 0 {
		return lifecycle.StateUninitialized, nil
	}
	read, _, err := m.engine.AliasIndices(ctx, schema.ReadAlias())
	if err != nil {
		return lifecycle.StateUninitialized, err
	}

	m.mu.Lock()
	running := m.inFlight[schema.Name()] > 0
	rebuilt := m.rebuilt[schema.Name()]
	m.mu.Unlock()

	if running || !slices.Equal(read, write) {
		return lifecycle.StateRebuilding, nil
	}
	if m.rebuilds != nil {
		latest, ok, err := m.rebuilds.Latest(ctx, schema.Name(), lifecycle.StatusSucceeded)
		if err != nil {
			return lifecycle.StateUninitialized, fmt.Errorf("load rebuild history: %w", err)
		}
		if ok {
			rebuilt = latest.Index()
		}
	}
	if rebuilt != "" && slices.Contains(read, rebuilt) {
		return lifecycle.StateStable, nil
	}
	return lifecycle.StateBootstrapped, nil
}

// RebuildOption configures a single rebuild.
type RebuildOption func(*rebuildConfig)

type rebuildConfig struct {
	keepOld bool
}

// WithKeepOldIndex leaves the previous read index in place after cutover.
func WithKeepOldIndex() RebuildOption {
	return func(c *rebuildConfig) { c.keepOld = true }
}

// RebuildVariant names the behaviour selected by options. Rebuilds with
// the same variant are interchangeable.
func RebuildVariant(options ...RebuildOption) string {
	cfg := rebuildConfig{}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.keepOld {
		return "keep-old"
	}
	return "drop-old"
}

// RebuildResult summarises a completed rebuild.
type RebuildResult struct {
	ID         int64
	EntityType string
	Index      string
	Previous   []string
	Documents  int
	// Orphaned lists previous indices that could not be dropped.
	Orphaned []string
	Duration time.Duration
}

// Rebuild populates a fresh index from source and switches both aliases to
// it. Readers keep using the previous index until it is complete; writes go
// to the new index from the moment it is bound to the write alias.
//
// A failure before the read alias moves returns a *RebuildError and leaves
// the read alias untouched. Failing to drop the previous index afterwards is
// not an error; the index is reported in RebuildResult.Orphaned.
func (m *IndexManager) Rebuild(ctx context.Context, source entity.Source, options ...RebuildOption) (RebuildResult, error) {
	cfg := rebuildConfig{}
	for _, opt := range options {
		opt(&cfg)
	}
	schema := source.Schema()
	started := m.now()

	m.mu.Lock()
	m.inFlight[schema.Name()]++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight[schema.Name()]--
		m.mu.Unlock()
	}()

	record := m.record(ctx, lifecycle.NewRebuild(schema.Name(), started).AtStage(lifecycle.StageCapture))
	fail := func(stage lifecycle.Stage, index string, cause error) (RebuildResult, error) {
		err := &RebuildError{EntityType: schema.Name(), Stage: stage, Index: index, Cause: cause}
		m.record(ctx, record.AtStage(stage).Fail(err, m.now()))
		m.logger.Error("rebuild failed",
			slog.String("entity", schema.Name()),
			slog.String("stage", string(stage)),
			slog.String("index", index),
			slog.String("error", cause.Error()),
		)
		return RebuildResult{}, err
	}

	previous, _, err := m.engine.AliasIndices(ctx, schema.ReadAlias())
	if err != nil {
		return fail(lifecycle.StageCapture, "", err)
	}
	if len(previous) > 0 {
		record = record.WithPrevious(strings.Join(previous, ","))
	}

	name, err := m.GenerateIndex(ctx, schema)
	if err != nil {
		return fail(lifecycle.StageCreate, "", err)
	}
	record = m.record(ctx, record.WithIndex(name).AtStage(lifecycle.StageBindWrite))

	if err := m.BindAlias(ctx, name, schema.WriteAlias()); err != nil {
		return fail(lifecycle.StageBindWrite, name, err)
	}
	record = m.record(ctx, record.AtStage(lifecycle.StagePopulate))

	documents, err := m.populate(ctx, source, name)
	record = record.AddDocuments(documents)
	if err != nil {
		return fail(lifecycle.StagePopulate, name, err)
	}
	if err := m.engine.Refresh(ctx, name); err != nil {
		return fail(lifecycle.StagePopulate, name, err)
	}
	record = m.record(ctx, record.AtStage(lifecycle.StageBindRead))

	if err := m.BindAlias(ctx, name, schema.ReadAlias()); err != nil {
		return fail(lifecycle.StageBindRead, name, err)
	}

	result := RebuildResult{
		EntityType: schema.Name(),
		Index:      name,
		Previous:   previous,
		Documents:  documents,
	}
	if !cfg.keepOld {
		record = record.AtStage(lifecycle.StageDrop)
		for _, old := range previous {
			if old == name {
				continue
			}
			if err := m.engine.DeleteIndex(ctx, old); err != nil {
				m.logger.Warn("failed to drop previous index",
					slog.String("entity", schema.Name()),
					slog.String("index", old),
					slog.String("error", err.Error()),
				)
				result.Orphaned = append(result.Orphaned, old)
				record = record.Orphan(old, err.Error())
			}
		}
	}

	finished := m.now()
	record = m.record(ctx, record.AtStage(lifecycle.StageDone).Succeed(finished))
	result.ID = record.ID()
	result.Duration = finished.Sub(started)

	m.mu.Lock()
	m.rebuilt[schema.Name()] = name
	m.mu.Unlock()

	m.logger.Info("rebuild complete",
		slog.String("entity", schema.Name()),
		slog.String("index", name),
		slog.Int("documents", documents),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// populate scans source in key order and bulk-writes every batch into index.
func (m *IndexManager) populate(ctx context.Context, source entity.Source, index string) (int, error) {
	schema := source.Schema()
	total := 0
	err := domainservice.Scan(ctx, source, func(rows []entity.Row) error {
		docs, err := m.builder.BuildRows(ctx, schema, rows)
		if err != nil {
			return err
		}
		ops := upserts(rows, schema, docs)
		res, err := m.engine.Bulk(ctx, index, ops)
		if err != nil {
			return err
		}
		total += res.Indexed
		m.logger.Debug("indexed batch",
			slog.String("entity", schema.Name()),
			slog.String("index", index),
			slog.Int("documents", res.Indexed),
		)
		return nil
	}, domainservice.WithChunkSize(m.chunkSize), domainservice.WithColumns(schema.CachedColumns()...))
	return total, err
}

// upserts orders operations by row order so bulk requests follow key order.
func upserts(rows []entity.Row, schema entity.Schema, docs map[int64]search.Document) []search.Operation {
	ops := make([]search.Operation, 0, len(docs))
	seen := make(map[int64]bool, len(docs))
	for _, row := range rows {
		key, err := schema.KeyOf(row)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		ops = append(ops, search.UpsertOperation(docs[key]))
	}
	return ops
}

// record saves a rebuild record when a store is configured. Ledger
// failures are logged and never fail the rebuild.
func (m *IndexManager) record(ctx context.Context, r lifecycle.Rebuild) lifecycle.Rebuild {
	if m.rebuilds == nil {
		return r
	}
	saved, err := m.rebuilds.Save(context.WithoutCancel(ctx), r)
	if err != nil {
		m.logger.Warn("failed to record rebuild",
			slog.String("entity", r.EntityType()),
			slog.String("error", err.Error()),
		)
		return r
	}
	return saved
}

// Reindex upserts the documents of every row in source into the write
// alias, in chunks.
func (m *IndexManager) Reindex(ctx context.Context, source entity.Source) (search.BulkResult, error) {
	schema := source.Schema()
	var total search.BulkResult
	err := domainservice.Scan(ctx, source, func(rows []entity.Row) error {
		docs, err := m.builder.BuildRows(ctx, schema, rows)
		if err != nil {
			return err
		}
		res, err := m.engine.Bulk(ctx, schema.WriteAlias(), upserts(rows, schema, docs))
		total = total.Add(res)
		return err
	}, domainservice.WithChunkSize(m.chunkSize), domainservice.WithColumns(schema.CachedColumns()...))
	if err != nil {
		return total, fmt.Errorf("reindex %s: %w", schema.Name(), err)
	}
	return total, nil
}

// Purge deletes the documents of every row in source from the write alias.
// Rows are left untouched.
func (m *IndexManager) Purge(ctx context.Context, source entity.Source) (search.BulkResult, error) {
	schema := source.Schema()
	var total search.BulkResult
	err := domainservice.Scan(ctx, source, func(rows []entity.Row) error {
		ops := make([]search.Operation, 0, len(rows))
		for _, row := range rows {
			key, err := schema.KeyOf(row)
			if err != nil {
				return err
			}
			ops = append(ops, search.DeleteOperation(key))
		}
		res, err := m.engine.Bulk(ctx, schema.WriteAlias(), ops)
		total = total.Add(res)
		return err
	}, domainservice.WithChunkSize(m.chunkSize), domainservice.WithColumns(schema.Key().Column()))
	if err != nil {
		return total, fmt.Errorf("purge %s: %w", schema.Name(), err)
	}
	return total, nil
}

// Document reads the indexed document of key through the read alias.
func (m *IndexManager) Document(ctx context.Context, schema entity.Schema, key int64) (search.Document, bool, error) {
	doc, found, err := m.engine.Get(ctx, schema.ReadAlias(), key)
	if err != nil {
		return search.Document{}, false, fmt.Errorf("get %s %d: %w", schema.Name(), key, err)
	}
	return doc, found, nil
}

// Drop deletes every index bound to the entity type's aliases.
func (m *IndexManager) Drop(ctx context.Context, schema entity.Schema) error {
	var errs []error
	seen := map[string]bool{}
	for _, alias := range []string{schema.WriteAlias(), schema.ReadAlias()} {
		indices, _, err := m.engine.AliasIndices(ctx, alias)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, idx := range indices {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			if err := m.engine.DeleteIndex(ctx, idx); err != nil && !errors.Is(err, search.ErrUnknownIndex) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

package service

import (
	"context"
	"log/slog"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/domain/search"
	domainservice "github.com/cr0mbly/esbinder/domain/service"
)

var _ entity.Store = (*Sync)(nil)

// Sync decorates an entity store so every committed save or delete is
// mirrored into the write alias of the entity type. Relational writes are
// never rolled back when the index write fails; the failure is returned as a
// *SyncError instead.
type Sync struct {
	store   entity.Store
	engine  search.Engine
	builder *domainservice.DocumentBuilder
	logger  *slog.Logger
}

// NewSync creates a Sync over store and engine.
func NewSync(store entity.Store, engine search.Engine, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		store:   store,
		engine:  engine,
		builder: domainservice.NewDocumentBuilder(),
		logger:  logger,
	}
}

// MaxKey delegates to the underlying store.
func (s *Sync) MaxKey(ctx context.Context, schema entity.Schema, options ...repository.Option) (int64, bool, error) {
	return s.store.MaxKey(ctx, schema, options...)
}

// Rows delegates to the underlying store.
func (s *Sync) Rows(ctx context.Context, schema entity.Schema, columns []string, options ...repository.Option) ([]entity.Row, error) {
	return s.store.Rows(ctx, schema, columns, options...)
}

// Get delegates to the underlying store.
func (s *Sync) Get(ctx context.Context, schema entity.Schema, key int64) (entity.Row, bool, error) {
	return s.store.Get(ctx, schema, key)
}

// Save writes row and upserts its document. The stored row is returned even
// when indexing fails.
func (s *Sync) Save(ctx context.Context, schema entity.Schema, row entity.Row) (entity.Row, error) {
	saved, err := s.store.Save(ctx, schema, row)
	if err != nil {
		return nil, err
	}
	if err := s.index(ctx, "save", schema, saved); err != nil {
		return saved, err
	}
	return saved, nil
}

// Delete removes the row and its document. A document that is already
// absent is not an error.
func (s *Sync) Delete(ctx context.Context, schema entity.Schema, key int64) (bool, error) {
	deleted, err := s.store.Delete(ctx, schema, key)
	if err != nil {
		return false, err
	}
	if err := s.unindex(ctx, "delete", schema, key); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Refresh re-syncs the document of key from the stored row, removing the
// document when the row no longer exists. It reports whether the row exists.
func (s *Sync) Refresh(ctx context.Context, schema entity.Schema, key int64) (bool, error) {
	row, ok, err := s.store.Get(ctx, schema, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.unindex(ctx, "refresh", schema, key)
	}
	return true, s.index(ctx, "refresh", schema, row)
}

func (s *Sync) index(ctx context.Context, op string, schema entity.Schema, row entity.Row) error {
	key, err := schema.KeyOf(row)
	if err != nil {
		return &SyncError{Op: op, EntityType: schema.Name(), Cause: err}
	}
	doc, err := s.builder.BuildOne(ctx, schema, row)
	if err != nil {
		return &SyncError{Op: op, EntityType: schema.Name(), Key: key, Cause: err}
	}
	if err := s.engine.Index(ctx, schema.WriteAlias(), doc); err != nil {
		s.logger.Error("failed to index document",
			slog.String("entity", schema.Name()),
			slog.Int64("key", key),
			slog.String("error", err.Error()),
		)
		return &SyncError{Op: op, EntityType: schema.Name(), Key: key, Cause: err}
	}
	return nil
}

func (s *Sync) unindex(ctx context.Context, op string, schema entity.Schema, key int64) error {
	found, err := s.engine.Delete(ctx, schema.WriteAlias(), key)
	if err != nil {
		s.logger.Error("failed to delete document",
			slog.String("entity", schema.Name()),
			slog.Int64("key", key),
			slog.String("error", err.Error()),
		)
		return &SyncError{Op: op, EntityType: schema.Name(), Key: key, Cause: err}
	}
	if !found {
		s.logger.Debug("document already absent", slog.String("entity", schema.Name()), slog.Int64("key", key))
	}
	return nil
}

package entity

import (
	"context"
	"slices"

	"github.com/cr0mbly/esbinder/domain/repository"
)

// Store is the relational side of an entity type. Implementations must
// support key-ordered range queries with a limit, the maximum key of a
// filtered set, column projection, and single-row writes.
type Store interface {
	// MaxKey returns the largest key matching the options, or false when the set is empty.
	MaxKey(ctx context.Context, schema Schema, options ...repository.Option) (int64, bool, error)
	// Rows projects columns for every row matching the options.
	Rows(ctx context.Context, schema Schema, columns []string, options ...repository.Option) ([]Row, error)
	// Get fetches one row by key.
	Get(ctx context.Context, schema Schema, key int64) (Row, bool, error)
	// Save inserts a row without a key and updates one with a key. It returns
	// the stored row including its key.
	Save(ctx context.Context, schema Schema, row Row) (Row, error)
	// Delete removes the row with key, reporting whether it existed.
	Delete(ctx context.Context, schema Schema, key int64) (bool, error)
}

// Source is a filtered set of rows of one entity type, the relational
// equivalent of a query set. It is immutable; Filter returns a new Source.
type Source struct {
	store   Store
	schema  Schema
	options []repository.Option
}

// NewSource creates a Source over every row matching options.
func NewSource(store Store, schema Schema, options ...repository.Option) Source {
	return Source{store: store, schema: schema, options: slices.Clone(options)}
}

// Schema returns the entity type descriptor.
func (s Source) Schema() Schema { return s.schema }

// Store returns the backing store.
func (s Source) Store() Store { return s.store }

// Options returns a copy of the source's query options.
func (s Source) Options() []repository.Option { return slices.Clone(s.options) }

// Filter narrows the source with further options.
func (s Source) Filter(options ...repository.Option) Source {
	next := slices.Clone(s.options)
	next = append(next, options...)
	return Source{store: s.store, schema: s.schema, options: next}
}

// MaxKey returns the largest key in the source.
func (s Source) MaxKey(ctx context.Context) (int64, bool, error) {
	return s.store.MaxKey(ctx, s.schema, s.options...)
}

// Rows projects columns for the source's rows, narrowed by extra options.
func (s Source) Rows(ctx context.Context, columns []string, options ...repository.Option) ([]Row, error) {
	all := slices.Clone(s.options)
	all = append(all, options...)
	return s.store.Rows(ctx, s.schema, columns, all...)
}

// Keys returns the keys of every row in the source.
func (s Source) Keys(ctx context.Context) ([]int64, error) {
	rows, err := s.Rows(ctx, []string{s.schema.Key().Column()})
	if err != nil {
		return nil, err
	}
	keys := make([]int64, 0, len(rows))
	for _, row := range rows {
		k, err := s.schema.KeyOf(row)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

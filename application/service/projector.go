package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/domain/search"
)

// Project converts engine hit ids into entity keys. Duplicates are dropped,
// keeping the first occurrence. With preserveOrder the keys follow hit
// order; otherwise they are ascending, the store's default order.
func Project(ids []string, preserveOrder bool) ([]int64, error) {
	keys := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		key, err := search.ParseDocID(id)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	if !preserveOrder {
		slices.Sort(keys)
	}
	return keys, nil
}

// SearchResult is a page of search hits projected onto stored rows.
// Keys[i] is the primary key of Rows[i]. Hits whose row no longer exists
// are listed in Stale and appear in neither.
type SearchResult struct {
	Total uint64
	Keys  []int64
	Rows  []entity.Row
	Stale []int64
}

// Projector runs searches against the read alias and loads the matching
// rows from the store.
type Projector struct {
	engine search.Engine
	logger *slog.Logger
}

// NewProjector creates a Projector.
func NewProjector(engine search.Engine, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{engine: engine, logger: logger}
}

// Project converts engine hit ids into entity keys.
func (p *Projector) Project(ids []string, preserveOrder bool) ([]int64, error) {
	return Project(ids, preserveOrder)
}

// Search runs req through the read alias of the source's entity type and
// returns the matching rows of source. Rows follow hit order when req is
// sorted and key order otherwise. Hits without a stored row are skipped.
func (p *Projector) Search(ctx context.Context, source entity.Source, req search.Request) (SearchResult, error) {
	schema := source.Schema()
	page, err := p.engine.Search(ctx, schema.ReadAlias(), req)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %s: %w", schema.Name(), err)
	}
	keys, err := Project(page.IDs(), req.HasSort())
	if err != nil {
		return SearchResult{}, err
	}
	result := SearchResult{Total: page.Total}
	if len(keys) == 0 {
		return result, nil
	}

	keyColumn := schema.Key().Column()
	rows, err := source.Rows(ctx, schema.Columns(),
		repository.WithConditionIn(keyColumn, keys),
		repository.WithOrderAsc(keyColumn),
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("load %s rows: %w", schema.Name(), err)
	}

	byKey := make(map[int64]entity.Row, len(rows))
	for _, row := range rows {
		k, err := schema.KeyOf(row)
		if err != nil {
			return SearchResult{}, err
		}
		byKey[k] = row
	}
	result.Keys = make([]int64, 0, len(keys))
	result.Rows = make([]entity.Row, 0, len(keys))
	for _, k := range keys {
		row, ok := byKey[k]
		if !ok {
			p.logger.Debug("hit without stored row", slog.String("entity", schema.Name()), slog.Int64("key", k))
			result.Stale = append(result.Stale, k)
			continue
		}
		result.Keys = append(result.Keys, k)
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

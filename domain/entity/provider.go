package entity

import "context"

// Provider computes a field that is not stored on the entity. Values is
// bulk-shaped: it receives every key of a batch at once and must return a
// value for each of them.
type Provider interface {
	FieldName() string
	Values(ctx context.Context, keys []int64) (map[int64]any, error)
}

// ProviderFunc is the bulk computation behind a Provider.
type ProviderFunc func(ctx context.Context, keys []int64) (map[int64]any, error)

type funcProvider struct {
	field string
	fn    ProviderFunc
}

// NewProvider adapts a function into a Provider for the given field name.
func NewProvider(field string, fn ProviderFunc) Provider {
	return funcProvider{field: field, fn: fn}
}

func (p funcProvider) FieldName() string { return p.field }

func (p funcProvider) Values(ctx context.Context, keys []int64) (map[int64]any, error) {
	return p.fn(ctx, keys)
}

// Package service holds the domain services that turn relational rows into
// search documents.
package service

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/search"
)

// TimeLayout is the fixed format timestamps are written in (day-month-year).
const TimeLayout = "02-01-2006 15:04:05"

// storedTimeLayouts are the text forms drivers return for timestamp columns
// when they do not parse them themselves.
var storedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DocumentBuilder assembles search documents from cached fields and providers.
type DocumentBuilder struct{}

// NewDocumentBuilder creates a DocumentBuilder.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{}
}

// BuildOne builds the document for a single row. Each provider is called
// with the singleton key set.
func (b *DocumentBuilder) BuildOne(ctx context.Context, schema entity.Schema, row entity.Row) (search.Document, error) {
	docs, err := b.BuildRows(ctx, schema, []entity.Row{row})
	if err != nil {
		return search.Document{}, err
	}
	key, err := schema.KeyOf(row)
	if err != nil {
		return search.Document{}, err
	}
	return docs[key], nil
}

// BuildMany builds one document per row of the source. Cached columns are
// read in a single retrieval.
func (b *DocumentBuilder) BuildMany(ctx context.Context, source entity.Source) (map[int64]search.Document, error) {
	schema := source.Schema()
	rows, err := source.Rows(ctx, schema.CachedColumns())
	if err != nil {
		return nil, fmt.Errorf("read %s rows: %w", schema.Name(), err)
	}
	return b.BuildRows(ctx, schema, rows)
}

// BuildRows builds documents for rows already read from the store. Every
// provider runs once with the whole key set; a provider that omits a key
// fails the batch with ErrProviderContractViolation. Providers apply in
// declaration order, so the last one to name a field wins.
func (b *DocumentBuilder) BuildRows(ctx context.Context, schema entity.Schema, rows []entity.Row) (map[int64]search.Document, error) {
	keys := make([]int64, 0, len(rows))
	sources := make(map[int64]map[string]any, len(rows))

	for _, row := range rows {
		key, err := schema.KeyOf(row)
		if err != nil {
			return nil, err
		}
		source, err := cachedValues(schema, key, row)
		if err != nil {
			return nil, err
		}
		if _, seen := sources[key]; !seen {
			keys = append(keys, key)
		}
		sources[key] = source
	}

	if len(keys) > 0 {
		for _, p := range schema.Providers() {
			if err := applyProvider(ctx, schema, p, keys, sources); err != nil {
				return nil, err
			}
		}
	}

	docs := make(map[int64]search.Document, len(keys))
	for _, key := range keys {
		docs[key] = search.NewDocument(key, sources[key])
	}
	return docs, nil
}

func cachedValues(schema entity.Schema, key int64, row entity.Row) (map[string]any, error) {
	fields := schema.CachedFields()
	source := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := row[f.Column()]
		if !ok {
			fe := entity.NewFieldError(schema.Name(), f.Name(), entity.ErrFieldNotFound)
			fe.Key = key
			return nil, fe
		}
		v, err := convertField(f, raw)
		if err != nil {
			fe := entity.NewFieldError(schema.Name(), f.Name(), entity.ErrFieldNotConvertible)
			fe.Key = key
			fe.Cause = err
			return nil, fe
		}
		source[f.Name()] = v
	}
	return source, nil
}

func applyProvider(ctx context.Context, schema entity.Schema, p entity.Provider, keys []int64, sources map[int64]map[string]any) error {
	name := p.FieldName()
	values, err := p.Values(ctx, keys)
	if err != nil {
		return &entity.ProviderError{Type: schema.Name(), Field: name, Err: entity.ErrProviderFailed, Cause: err}
	}

	var missing []int64
	for _, key := range keys {
		if _, ok := values[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &entity.ProviderError{Type: schema.Name(), Field: name, Missing: missing, Err: entity.ErrProviderContractViolation}
	}

	for _, key := range keys {
		v, err := ConvertValue(values[key])
		if err != nil {
			fe := entity.NewFieldError(schema.Name(), name, entity.ErrFieldNotConvertible)
			fe.Key = key
			fe.Cause = err
			return fe
		}
		sources[key][name] = v
	}
	return nil
}

func convertField(f entity.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind() {
	case entity.KindReference:
		k, err := entity.ToKey(raw)
		if err != nil {
			return nil, err
		}
		return k, nil
	case entity.KindTime:
		if s, ok := raw.(string); ok {
			if t, ok := parseStoredTime(s); ok {
				return t.Format(TimeLayout), nil
			}
			return s, nil
		}
	case entity.KindBool:
		switch n := raw.(type) {
		case int64:
			return strconv.FormatBool(n != 0), nil
		case int:
			return strconv.FormatBool(n != 0), nil
		}
	}
	return ConvertValue(raw)
}

// ConvertValue converts a value into an index-safe scalar: timestamps become
// TimeLayout strings, numbers pass through, and anything with a string form
// becomes a string. Composite values fail.
func ConvertValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return x.Format(TimeLayout), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.Format(TimeLayout), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x, nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return nil, err
		}
		if _, again := inner.(driver.Valuer); again {
			return nil, fmt.Errorf("cannot convert %T", v)
		}
		return ConvertValue(inner)
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to an index value", v)
	}
}

func parseStoredTime(s string) (time.Time, bool) {
	for _, layout := range storedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

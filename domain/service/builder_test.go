package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	field string
	calls [][]int64
	value func(key int64) any
	skip  map[int64]bool
	err   error
}

func (p *recordingProvider) FieldName() string { return p.field }

func (p *recordingProvider) Values(_ context.Context, keys []int64) (map[int64]any, error) {
	p.calls = append(p.calls, append([]int64(nil), keys...))
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[int64]any, len(keys))
	for _, k := range keys {
		if p.skip[k] {
			continue
		}
		out[k] = p.value(k)
	}
	return out, nil
}

func TestDocumentBuilder_BuildOneConvertsCachedFields(t *testing.T) {
	schema := authorSchema(t, entity.WithCachedFields("publishing_name", "user", "age", "joined", "active"))
	joined := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	doc, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id":              int64(1),
		"publishing_name": "Bill Fakeington",
		"user_id":         int64(42),
		"age":             int64(51),
		"joined":          joined,
		"active":          true,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), doc.ID())
	assert.Equal(t, map[string]any{
		"publishing_name": "Bill Fakeington",
		"user":            int64(42),
		"age":             int64(51),
		"joined":          "09-03-2024 14:05:07",
		"active":          "true",
	}, doc.Source())
}

func TestDocumentBuilder_DriverShapedValues(t *testing.T) {
	schema := authorSchema(t, entity.WithCachedFields("publishing_name", "joined", "active", "user"))

	doc, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id":              int64(2),
		"publishing_name": []byte("raw"),
		"joined":          "2024-03-09 14:05:07",
		"active":          int64(0),
		"user_id":         nil,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"publishing_name": "raw",
		"joined":          "09-03-2024 14:05:07",
		"active":          "false",
		"user":            nil,
	}, doc.Source())
}

func TestDocumentBuilder_MissingColumnFailsWithFieldNotFound(t *testing.T) {
	schema := authorSchema(t, entity.WithCachedFields("publishing_name", "age"))
	p := &recordingProvider{field: "unique_identifier", value: func(int64) any { return "x" }}
	schema = withProviders(t, schema, p)

	_, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id":              int64(3),
		"publishing_name": "Bill",
	})
	require.ErrorIs(t, err, entity.ErrFieldNotFound)

	var fe *entity.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "library.Author", fe.Type)
	assert.Equal(t, "age", fe.Field)
	assert.Equal(t, int64(3), fe.Key)
	assert.Empty(t, p.calls, "providers must not run once a cached field fails")
}

func TestDocumentBuilder_CompositeValueFailsWithFieldNotConvertible(t *testing.T) {
	schema := authorSchema(t, entity.WithCachedFields("publishing_name"))

	_, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id":              int64(4),
		"publishing_name": map[string]string{"first": "Bill"},
	})
	assert.ErrorIs(t, err, entity.ErrFieldNotConvertible)
	assert.Contains(t, err.Error(), "publishing_name")
}

func TestDocumentBuilder_BuildOneCallsProvidersWithSingletonKey(t *testing.T) {
	p := &recordingProvider{field: "unique_identifier", value: func(k int64) any { return fmt.Sprintf("uid-%d", k) }}
	schema := withProviders(t, authorSchema(t, entity.WithCachedFields("publishing_name")), p)

	doc, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id": int64(5), "publishing_name": "Bill",
	})
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{5}}, p.calls)
	v, _ := doc.Field("unique_identifier")
	assert.Equal(t, "uid-5", v)
}

func TestDocumentBuilder_ProviderOverridesCachedFieldLastWins(t *testing.T) {
	first := &recordingProvider{field: "publishing_name", value: func(int64) any { return "first" }}
	second := &recordingProvider{field: "publishing_name", value: func(int64) any { return "second" }}
	schema := withProviders(t, authorSchema(t, entity.WithCachedFields("publishing_name")), first, second)

	doc, err := NewDocumentBuilder().BuildOne(context.Background(), schema, entity.Row{
		"id": int64(6), "publishing_name": "Bill",
	})
	require.NoError(t, err)

	v, _ := doc.Field("publishing_name")
	assert.Equal(t, "second", v)
}

func TestDocumentBuilder_BuildManyCallsEachProviderOnce(t *testing.T) {
	p := &recordingProvider{field: "unique_identifier", value: func(k int64) any { return fmt.Sprintf("uid-%d", k) }}
	schema := withProviders(t, authorSchema(t, entity.WithCachedFields("publishing_name", "age")), p)
	store := newMemStore(authorRows(25)...)

	docs, err := NewDocumentBuilder().BuildMany(context.Background(), entity.NewSource(store, schema))
	require.NoError(t, err)

	require.Len(t, docs, 25)
	require.Len(t, p.calls, 1)
	assert.Len(t, p.calls[0], 25)
	assert.Equal(t, 1, store.rowsCalls)

	seen := map[any]bool{}
	for k, doc := range docs {
		v, ok := doc.Field("unique_identifier")
		require.True(t, ok, "key %d", k)
		seen[v] = true
		age, _ := doc.Field("age")
		assert.Equal(t, int64(30+k), age)
	}
	assert.Len(t, seen, 25)
}

func TestDocumentBuilder_BuildManyKeepsEmptyDocuments(t *testing.T) {
	schema := authorSchema(t)
	store := newMemStore(authorRows(3)...)

	docs, err := NewDocumentBuilder().BuildMany(context.Background(), entity.NewSource(store, schema))
	require.NoError(t, err)

	require.Len(t, docs, 3)
	for k, doc := range docs {
		assert.Equal(t, k, doc.ID())
		assert.Zero(t, doc.Len())
	}
}

func TestDocumentBuilder_ProviderContractViolationFailsBatch(t *testing.T) {
	p := &recordingProvider{
		field: "unique_identifier",
		value: func(k int64) any { return k },
		skip:  map[int64]bool{2: true},
	}
	schema := withProviders(t, authorSchema(t, entity.WithCachedFields("publishing_name")), p)

	docs, err := NewDocumentBuilder().BuildRows(context.Background(), schema, authorRows(3))
	require.ErrorIs(t, err, entity.ErrProviderContractViolation)
	assert.Nil(t, docs)

	var pe *entity.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []int64{2}, pe.Missing)
	assert.Equal(t, "unique_identifier", pe.Field)
}

func TestDocumentBuilder_ProviderErrorKeepsCause(t *testing.T) {
	boom := errors.New("lookup service down")
	p := &recordingProvider{field: "unique_identifier", err: boom}
	schema := withProviders(t, authorSchema(t), p)

	_, err := NewDocumentBuilder().BuildRows(context.Background(), schema, authorRows(2))
	assert.ErrorIs(t, err, entity.ErrProviderFailed)
	assert.ErrorIs(t, err, boom)
}

func TestDocumentBuilder_ProviderCompositeValueFails(t *testing.T) {
	p := &recordingProvider{field: "tags", value: func(int64) any { return []string{"a"} }}
	schema := withProviders(t, authorSchema(t), p)

	_, err := NewDocumentBuilder().BuildRows(context.Background(), schema, authorRows(1))
	assert.ErrorIs(t, err, entity.ErrFieldNotConvertible)
}

func TestDocumentBuilder_NoRowsSkipsProviders(t *testing.T) {
	p := &recordingProvider{field: "unique_identifier", value: func(int64) any { return 1 }}
	schema := withProviders(t, authorSchema(t), p)

	docs, err := NewDocumentBuilder().BuildRows(context.Background(), schema, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, p.calls)
}

type label string

func (l label) String() string { return "label:" + string(l) }

func TestConvertValue(t *testing.T) {
	ts := time.Date(2021, 12, 31, 23, 59, 1, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"int", 3, 3, false},
		{"float", 2.5, 2.5, false},
		{"string", "s", "s", false},
		{"time", ts, "31-12-2021 23:59:01", false},
		{"time pointer", &ts, "31-12-2021 23:59:01", false},
		{"nil time pointer", (*time.Time)(nil), nil, false},
		{"stringer", label("x"), "label:x", false},
		{"valid null string", sql.NullString{String: "v", Valid: true}, "v", false},
		{"invalid null string", sql.NullString{}, nil, false},
		{"slice", []int{1}, nil, true},
		{"struct", struct{ A int }{1}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func withProviders(t *testing.T, base entity.Schema, providers ...entity.Provider) entity.Schema {
	t.Helper()
	var cached []string
	for _, f := range base.CachedFields() {
		cached = append(cached, f.Name())
	}
	s, err := entity.NewSchema(base.Name(), base.Table(), base.Key(), base.Fields(),
		entity.WithCachedFields(cached...),
		entity.WithProviders(providers...),
	)
	require.NoError(t, err)
	return s
}

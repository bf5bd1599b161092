package entity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorFields() (Field, []Field) {
	key := NewField("id", "id", KindInt)
	return key, []Field{
		key,
		NewField("publishing_name", "publishing_name", KindString),
		NewField("age", "age", KindInt),
		NewField("user_id", "user_id", KindInt),
		NewField("user", "user_id", KindReference),
	}
}

func TestNewSchema_Defaults(t *testing.T) {
	key, fields := authorFields()
	s, err := NewSchema("library.Author", "authors", key, fields,
		WithCachedFields("publishing_name", "user"),
	)
	require.NoError(t, err)

	assert.Equal(t, "library-author", s.BaseName())
	assert.Equal(t, "library-author-read", s.ReadAlias())
	assert.Equal(t, "library-author-write", s.WriteAlias())
	assert.Equal(t, []string{"id", "publishing_name", "user_id"}, s.CachedColumns())
	assert.Equal(t, []string{"id", "publishing_name", "age", "user_id"}, s.Columns())
	assert.Equal(t, map[string]any{"settings": map[string]any{}, "mappings": map[string]any{}}, s.Mapping())

	f, ok := s.Field("user")
	require.True(t, ok)
	assert.True(t, f.IsReference())
	assert.Equal(t, "user_id", f.Column())
}

func TestNewSchema_UnknownCachedFieldFailsEagerly(t *testing.T) {
	key, fields := authorFields()
	_, err := NewSchema("library.Author", "authors", key, fields,
		WithCachedFields("publishing_name", "pen_name", "nickname"),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldNotFound)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "library.Author", fe.Type)
	assert.Equal(t, "pen_name", fe.Field)
	assert.Contains(t, err.Error(), "nickname")
}

func TestNewSchema_Invalid(t *testing.T) {
	key, fields := authorFields()
	noop := NewProvider("", func(context.Context, []int64) (map[int64]any, error) { return nil, nil })

	tests := []struct {
		name   string
		schema func() error
	}{
		{"missing table", func() error {
			_, err := NewSchema("library.Author", "", key, fields)
			return err
		}},
		{"undeclared key", func() error {
			_, err := NewSchema("library.Author", "authors", NewField("pk", "pk", KindInt), fields)
			return err
		}},
		{"duplicate field", func() error {
			_, err := NewSchema("library.Author", "authors", key, append(fields, NewField("age", "age", KindInt)))
			return err
		}},
		{"same alias suffix", func() error {
			_, err := NewSchema("library.Author", "authors", key, fields, WithAliasSuffixes("live", "live"))
			return err
		}},
		{"unnamed provider", func() error {
			_, err := NewSchema("library.Author", "authors", key, fields, WithProviders(noop))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.schema(), ErrInvalidSchema)
		})
	}
}

func TestSchema_Options(t *testing.T) {
	key, fields := authorFields()
	p := NewProvider("unique_identifier", func(_ context.Context, keys []int64) (map[int64]any, error) {
		out := make(map[int64]any, len(keys))
		for _, k := range keys {
			out[k] = k
		}
		return out, nil
	})
	body := map[string]any{"mappings": map[string]any{"properties": map[string]any{}}}

	s, err := NewSchema("library.Author", "authors", key, fields,
		WithIndexName("authors"),
		WithAliasSuffixes("live", "next"),
		WithMapping(body),
		WithProviders(p),
	)
	require.NoError(t, err)

	assert.Equal(t, "authors-live", s.ReadAlias())
	assert.Equal(t, "authors-next", s.WriteAlias())
	assert.Equal(t, body, s.Mapping())
	require.Len(t, s.Providers(), 1)
	assert.Equal(t, "unique_identifier", s.Providers()[0].FieldName())
	assert.Empty(t, s.CachedFields())

	vals, err := s.Providers()[0].Values(context.Background(), []int64{3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]any{3: int64(3)}, vals)
}

func TestSchema_KeyOf(t *testing.T) {
	key, fields := authorFields()
	s, err := NewSchema("library.Author", "authors", key, fields)
	require.NoError(t, err)

	k, err := s.KeyOf(Row{"id": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), k)

	_, err = s.KeyOf(Row{"age": 3})
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, err = s.KeyOf(Row{"id": "seven"})
	assert.ErrorIs(t, err, ErrFieldNotConvertible)
}

func TestToKey(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{int64(1), 1, false},
		{int(2), 2, false},
		{uint32(3), 3, false},
		{float64(4), 4, false},
		{float64(4.5), 0, true},
		{uint64(math.MaxInt64), math.MaxInt64, false},
		{uint64(math.MaxInt64) + 1, 0, true},
		{uint64(math.MaxUint64), 0, true},
		{float64(1 << 63), 0, true},
		{[]byte("5"), 5, false},
		{"6", 6, false},
		{nil, 0, true},
		{struct{}{}, 0, true},
	}
	for _, tt := range tests {
		got, err := ToKey(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestDefaultBaseName(t *testing.T) {
	assert.Equal(t, "library-author", DefaultBaseName("library.Author"))
	assert.Equal(t, "blog-post-comment", DefaultBaseName("blog.Post_Comment"))
}

package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueIdentifier_ReturnsDistinctValueForEveryKey(t *testing.T) {
	p := UniqueIdentifier()
	assert.Equal(t, UniqueIdentifierField, p.FieldName())

	keys := []int64{1, 2, 3, 4, 5}
	values, err := p.Values(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, values, len(keys))

	seen := map[any]bool{}
	for _, k := range keys {
		v, ok := values[k].(string)
		require.True(t, ok)
		assert.Len(t, v, 32)
		assert.NotContains(t, v, "-")
		seen[v] = true
	}
	assert.Len(t, seen, len(keys))
}

func TestModels(t *testing.T) {
	models := Models()
	require.Len(t, models, 2)
	assert.IsType(t, &User{}, models[0])
	assert.Equal(t, "authors", Author{}.TableName())
	assert.NotEmpty(t, AuthorOptions())
	assert.NotEmpty(t, UserOptions())
}

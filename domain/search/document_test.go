package search

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_IsImmutable(t *testing.T) {
	src := map[string]any{"publishing_name": "Bill Fakeington"}
	doc := NewDocument(3, src)
	src["publishing_name"] = "changed"

	v, ok := doc.Field("publishing_name")
	require.True(t, ok)
	assert.Equal(t, "Bill Fakeington", v)

	out := doc.Source()
	out["user"] = 42
	_, ok = doc.Field("user")
	assert.False(t, ok)
	assert.Equal(t, "3", doc.DocID())
}

func TestDocument_EmptySourceMarshalsAsObject(t *testing.T) {
	data, err := json.Marshal(NewDocument(1, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	data, err = json.Marshal(Document{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestDecodeSource_RoundTrip(t *testing.T) {
	doc := NewDocument(9, map[string]any{
		"publishing_name": "Bill Fakeington",
		"user":            int64(42),
		"age":             int64(31),
		"rating":          4.5,
		"created":         "19-10-2026 10:00:00",
		"deleted":         nil,
	})
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	got, err := DecodeSource(data)
	require.NoError(t, err)
	assert.Equal(t, doc.Source(), got)
}

func TestDecodeSource_Invalid(t *testing.T) {
	_, err := DecodeSource([]byte(`{"a":`))
	assert.Error(t, err)

	got, err := DecodeSource([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseDocID(t *testing.T) {
	k, err := ParseDocID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), k)

	_, err = ParseDocID("abc")
	assert.Error(t, err)
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, Request{Query: "bill", SortBy: []string{"-age", "_score"}}.Validate())
	assert.Error(t, Request{From: -1}.Validate())
	assert.Error(t, Request{SortBy: []string{"-"}}.Validate())
	assert.Error(t, Request{SortBy: []string{"age; drop"}}.Validate())

	name, desc := SortField("-age")
	assert.Equal(t, "age", name)
	assert.True(t, desc)
	assert.Equal(t, DefaultLimit, Request{}.PageSize())
	assert.Equal(t, 5, Request{Limit: 5}.PageSize())
}

func TestAliasActionsAndOperations(t *testing.T) {
	add := AddAlias("authors-1", "authors-read")
	rm := RemoveAlias("authors-0", "authors-read")
	assert.True(t, add.IsAdd())
	assert.False(t, rm.IsAdd())
	assert.Equal(t, "remove authors-read -> authors-0", rm.String())

	up := UpsertOperation(NewDocument(4, nil))
	del := DeleteOperation(5)
	assert.Equal(t, int64(4), up.ID())
	assert.False(t, up.IsDelete())
	assert.True(t, del.IsDelete())

	total := BulkResult{Indexed: 2}.Add(BulkResult{Deleted: 1, Missing: 1})
	assert.Equal(t, BulkResult{Indexed: 2, Deleted: 1, Missing: 1}, total)

	page := ResultPage{Hits: []Hit{{ID: "2"}, {ID: "1"}}}
	assert.Equal(t, []string{"2", "1"}, page.IDs())
}

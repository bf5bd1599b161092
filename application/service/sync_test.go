package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSyncFixture(t *testing.T) (*fixture, *Sync) {
	t.Helper()
	f := newFixture(t)
	_, err := f.manager.Initialize(context.Background(), f.authors)
	require.NoError(t, err)
	return f, NewSync(f.store, f.engine, log.Discard())
}

func TestSync_SaveIndexesDocument(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()

	keys := f.seedAuthors(t, s, "Bill Fakeington")

	doc, found, err := f.manager.Document(ctx, f.authors, keys[0])
	require.NoError(t, err)
	require.True(t, found)
	name, _ := doc.Field("publishing_name")
	assert.Equal(t, "Bill Fakeington", name)

	row, ok, err := s.Get(ctx, f.authors, keys[0])
	require.NoError(t, err)
	require.True(t, ok)
	row["publishing_name"] = "William Fakeington"
	_, err = s.Save(ctx, f.authors, row)
	require.NoError(t, err)

	doc, found, err = f.manager.Document(ctx, f.authors, keys[0])
	require.NoError(t, err)
	require.True(t, found)
	name, _ = doc.Field("publishing_name")
	assert.Equal(t, "William Fakeington", name)
}

func TestSync_DeleteRemovesDocument(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()
	keys := f.seedAuthors(t, s, "Bill Fakeington")

	deleted, err := s.Delete(ctx, f.authors, keys[0])
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := f.manager.Document(ctx, f.authors, keys[0])
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = s.Delete(ctx, f.authors, keys[0])
	require.NoError(t, err, "deleting an absent document is not an error")
	assert.False(t, deleted)
}

func TestSync_CreateThenDeleteLeavesNothing(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()

	for range 3 {
		keys := f.seedAuthors(t, s, "Transient Fakeington")
		_, err := s.Delete(ctx, f.authors, keys[0])
		require.NoError(t, err)
	}
	assert.Zero(t, f.count(t, "fakeington"))

	_, ok, err := s.MaxKey(ctx, f.authors)
	require.NoError(t, err)
	assert.False(t, ok, "no rows left")
}

func TestSync_IndexFailureKeepsRow(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()
	cause := errors.New("cluster unavailable")
	f.engine.failOn("Index", cause)

	saved, err := s.Save(ctx, f.users, entity.Row{"email": "bill@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, cause)
	require.NotNil(t, saved, "the stored row is returned")

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "save", syncErr.Op)
	assert.Equal(t, "library.User", syncErr.EntityType)

	key, err := f.users.KeyOf(saved)
	require.NoError(t, err)
	assert.Equal(t, key, syncErr.Key)

	_, ok, err := f.store.Get(ctx, f.users, key)
	require.NoError(t, err)
	assert.True(t, ok, "relational write is not rolled back")
}

func TestSync_UninitializedIndex(t *testing.T) {
	f := newFixture(t)
	s := NewSync(f.store, f.engine, log.Discard())

	_, err := s.Save(context.Background(), f.users, entity.Row{"email": "bill@example.com"})
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, search.ErrUnknownIndex)
}

func TestSync_DeleteFailure(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()
	keys := f.seedAuthors(t, s, "Bill Fakeington")
	f.engine.failOn("Delete", errors.New("timeout"))

	deleted, err := s.Delete(ctx, f.authors, keys[0])
	assert.True(t, deleted)
	assert.ErrorIs(t, err, ErrSyncFailed)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "delete", syncErr.Op)
}

func TestSync_Refresh(t *testing.T) {
	f, s := newSyncFixture(t)
	ctx := context.Background()
	keys := f.seedAuthors(t, f.store, "Bill Fakeington", "Jill Fakeington")

	exists, err := s.Refresh(ctx, f.authors, keys[0])
	require.NoError(t, err)
	assert.True(t, exists)
	_, found, err := f.manager.Document(ctx, f.authors, keys[0])
	require.NoError(t, err)
	assert.True(t, found)

	_, err = s.Refresh(ctx, f.authors, keys[1])
	require.NoError(t, err)
	_, err = f.store.Delete(ctx, f.authors, keys[1])
	require.NoError(t, err)

	exists, err = s.Refresh(ctx, f.authors, keys[1])
	require.NoError(t, err)
	assert.False(t, exists)
	_, found, err = f.manager.Document(ctx, f.authors, keys[1])
	require.NoError(t, err)
	assert.False(t, found)
}

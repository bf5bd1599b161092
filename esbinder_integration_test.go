package esbinder_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cr0mbly/esbinder"
	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/domain/search"
	searchinfra "github.com/cr0mbly/esbinder/infrastructure/search"
	"github.com/cr0mbly/esbinder/internal/config"
	"github.com/cr0mbly/esbinder/internal/library"
	"github.com/cr0mbly/esbinder/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...esbinder.Option) *esbinder.Client {
	t.Helper()
	dir := t.TempDir()
	opts = append([]esbinder.Option{
		esbinder.WithDataDir(dir),
		esbinder.WithSQLite(filepath.Join(dir, "esbinder.db")),
		esbinder.WithBleveInMemory(),
		esbinder.WithLogger(log.Discard()),
	}, opts...)
	client, err := esbinder.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Migrate(library.Models()...))
	return client
}

func registerLibrary(t *testing.T, client *esbinder.Client) (users, authors entity.Schema) {
	t.Helper()
	users, err := client.Register(&library.User{}, library.UserOptions()...)
	require.NoError(t, err)
	authors, err = client.Register(&library.Author{}, library.AuthorOptions()...)
	require.NoError(t, err)
	return users, authors
}

func TestNew_RequiresDatabase(t *testing.T) {
	_, err := esbinder.New(esbinder.WithDataDir(t.TempDir()), esbinder.WithBleveInMemory())
	assert.ErrorIs(t, err, esbinder.ErrNoDatabase)
}

func TestNew_ElasticsearchWithoutEndpoint(t *testing.T) {
	dir := t.TempDir()
	_, err := esbinder.New(
		esbinder.WithDataDir(dir),
		esbinder.WithSQLite(filepath.Join(dir, "esbinder.db")),
		esbinder.WithElasticsearch(config.NewElasticConfig()),
		esbinder.WithLogger(log.Discard()),
	)
	assert.ErrorIs(t, err, config.ErrMissingElasticEndpoint)
}

func TestClient_Close(t *testing.T) {
	dir := t.TempDir()
	client, err := esbinder.New(
		esbinder.WithDataDir(dir),
		esbinder.WithSQLite(filepath.Join(dir, "esbinder.db")),
		esbinder.WithBleveInMemory(),
		esbinder.WithLogger(log.Discard()),
	)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), esbinder.ErrClientClosed)

	_, err = client.Register(&library.User{})
	assert.ErrorIs(t, err, esbinder.ErrClientClosed)
	_, err = client.Rebuild(context.Background(), "library.User")
	assert.ErrorIs(t, err, esbinder.ErrClientClosed)
}

func TestClient_Register(t *testing.T) {
	client := newTestClient(t)
	users, authors := registerLibrary(t, client)

	assert.Equal(t, "library.User", users.Name())
	assert.Equal(t, "library-author-read", authors.ReadAlias())
	assert.Equal(t, "library-author-write", authors.WriteAlias())

	names := []string{}
	for _, s := range client.Schemas() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"library.User", "library.Author"}, names)

	_, err := client.Register(&library.User{})
	assert.ErrorIs(t, err, esbinder.ErrAlreadyRegistered)

	_, err = client.Schema("library.Book")
	assert.ErrorIs(t, err, esbinder.ErrUnknownEntity)
	_, err = client.Search(context.Background(), "library.Book", search.Request{})
	assert.ErrorIs(t, err, esbinder.ErrUnknownEntity)
}

func TestClient_RegisterRejectsUnknownCachedField(t *testing.T) {
	client := newTestClient(t)
	_, err := client.Register(&library.Author{}, entity.WithCachedFields("pen_name"))
	assert.ErrorIs(t, err, entity.ErrFieldNotFound)
	assert.Empty(t, client.Schemas())
}

func TestClient_MappingsOverrideRegistration(t *testing.T) {
	body := map[string]any{
		"settings": map[string]any{"analyzer": "english"},
		"mappings": map[string]any{},
	}
	client := newTestClient(t, esbinder.WithMappings(config.Mappings{"library.Author": body}))

	authors, err := client.Register(&library.Author{}, library.AuthorOptions()...)
	require.NoError(t, err)
	assert.Equal(t, body, authors.Mapping())
}

// TestClient_AuthorEndToEnd walks an Author from bootstrap to search:
// writes through the client store are searchable at once, a rebuild keeps
// them and assigns fresh provider values, and a delete removes the
// document.
func TestClient_AuthorEndToEnd(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	users, authors := registerLibrary(t, client)

	state, err := client.State(ctx, authors.Name())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUninitialized, state)

	require.NoError(t, client.InitializeAll(ctx))
	require.NoError(t, client.InitializeAll(ctx), "bootstrap is idempotent")

	state, err = client.State(ctx, authors.Name())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateBootstrapped, state)

	store := client.Store()
	user, err := store.Save(ctx, users, entity.Row{"email": "bill@example.com"})
	require.NoError(t, err)
	userKey, err := users.KeyOf(user)
	require.NoError(t, err)

	author, err := store.Save(ctx, authors, entity.Row{
		"user_id":         userKey,
		"publishing_name": "Bill Fakeington",
		"age":             int64(42),
	})
	require.NoError(t, err)
	authorKey, err := authors.KeyOf(author)
	require.NoError(t, err)

	doc, found, err := client.Indexes.Document(ctx, authors, authorKey)
	require.NoError(t, err)
	require.True(t, found)
	ref, _ := doc.Field("user")
	assert.Equal(t, userKey, ref)
	before, _ := doc.Field(library.UniqueIdentifierField)
	assert.NotEmpty(t, before)

	page, err := client.Search(ctx, authors.Name(), search.Request{Query: "fakeington"})
	require.NoError(t, err)
	assert.Equal(t, []int64{authorKey}, page.Keys)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "Bill Fakeington", page.Rows[0]["publishing_name"])

	results, err := client.RebuildAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "library.User", results[0].EntityType)
	assert.Equal(t, 1, results[1].Documents)

	state, err = client.State(ctx, authors.Name())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStable, state)

	doc, found, err = client.Indexes.Document(ctx, authors, authorKey)
	require.NoError(t, err)
	require.True(t, found)
	after, _ := doc.Field(library.UniqueIdentifierField)
	assert.NotEqual(t, before, after, "providers run again on rebuild")

	deleted, err := store.Delete(ctx, authors, authorKey)
	require.NoError(t, err)
	assert.True(t, deleted)

	page, err = client.Search(ctx, authors.Name(), search.Request{Query: "fakeington"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestClient_RebuildFilteredSource(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	users, _ := registerLibrary(t, client)
	require.NoError(t, client.InitializeAll(ctx))

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := client.Store().Save(ctx, users, entity.Row{"email": email})
		require.NoError(t, err)
	}

	source, err := client.Source(users.Name(), repository.WithCondition("email", "b@example.com"))
	require.NoError(t, err)
	res, err := client.Indexes.Purge(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	page, err := client.Search(ctx, users.Name(), search.Request{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.Total)

	result, err := client.Rebuild(ctx, users.Name(), service.WithKeepOldIndex())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Documents)
	assert.Len(t, result.Previous, 1)

	indices, found, err := client.Engine().AliasIndices(ctx, result.Previous[0])
	require.NoError(t, err)
	assert.False(t, found, "a physical index is not an alias")
	assert.Empty(t, indices)
}

// gatedEngine holds the first Bulk call until release is closed.
type gatedEngine struct {
	search.Engine
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEngine) Bulk(ctx context.Context, target string, ops []search.Operation) (search.BulkResult, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Engine.Bulk(ctx, target, ops)
}

func TestClient_ConcurrentRebuildKeepsOldIndex(t *testing.T) {
	ctx := context.Background()
	bleveEngine, err := searchinfra.NewBleveEngine()
	require.NoError(t, err)
	engine := &gatedEngine{Engine: bleveEngine, entered: make(chan struct{}), release: make(chan struct{})}
	client := newTestClient(t, esbinder.WithEngine(engine))
	users, _ := registerLibrary(t, client)
	require.NoError(t, client.InitializeAll(ctx))
	_, err = client.Store().Save(ctx, users, entity.Row{"email": "bill@example.com"})
	require.NoError(t, err)

	type outcome struct {
		result service.RebuildResult
		err    error
	}
	plain := make(chan outcome, 1)
	go func() {
		res, err := client.Rebuild(ctx, users.Name())
		plain <- outcome{res, err}
	}()
	<-engine.entered

	keep := make(chan outcome, 1)
	go func() {
		res, err := client.Rebuild(ctx, users.Name(), service.WithKeepOldIndex())
		keep <- outcome{res, err}
	}()
	close(engine.release)

	first := <-plain
	require.NoError(t, first.err)
	second := <-keep
	require.NoError(t, second.err)

	assert.NotEqual(t, first.result.Index, second.result.Index, "keep-old rebuild runs on its own")
	assert.Equal(t, []string{first.result.Index}, second.result.Previous)

	_, _, err = client.Engine().Get(ctx, first.result.Index, 1)
	assert.NoError(t, err, "index replaced by the keep-old rebuild is still there")
	read, _, err := client.Engine().AliasIndices(ctx, users.ReadAlias())
	require.NoError(t, err)
	assert.Equal(t, []string{second.result.Index}, read)
}

package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/infrastructure/persistence"
	infrasearch "github.com/cr0mbly/esbinder/infrastructure/search"
	"github.com/cr0mbly/esbinder/internal/library"
	"github.com/cr0mbly/esbinder/internal/log"
	"github.com/cr0mbly/esbinder/internal/testdb"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    persistence.RowStore
	rebuilds persistence.RebuildStore
	engine   *faultEngine
	manager  *IndexManager
	authors  entity.Schema
	users    entity.Schema
	emails   int
}

func newFixture(t *testing.T, options ...IndexManagerOption) *fixture {
	t.Helper()
	db := testdb.New(t)
	authors, err := persistence.Describe(db, &library.Author{}, library.AuthorOptions()...)
	require.NoError(t, err)
	users, err := persistence.Describe(db, &library.User{}, library.UserOptions()...)
	require.NoError(t, err)

	bleveEngine, err := infrasearch.NewBleveEngine(infrasearch.WithBleveLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bleveEngine.Close() })

	engine := &faultEngine{Engine: bleveEngine}
	rebuilds := persistence.NewRebuildStore(db)
	options = append([]IndexManagerOption{
		WithRebuildStore(rebuilds),
		WithIndexLogger(log.Discard()),
	}, options...)

	return &fixture{
		store:    persistence.NewRowStore(db),
		rebuilds: rebuilds,
		engine:   engine,
		manager:  NewIndexManager(engine, options...),
		authors:  authors,
		users:    users,
	}
}

func (f *fixture) source() entity.Source {
	return entity.NewSource(f.store, f.authors)
}

// seedAuthors stores one user and one author per name and returns the
// author keys.
func (f *fixture) seedAuthors(t *testing.T, store entity.Store, names ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	keys := make([]int64, 0, len(names))
	for _, name := range names {
		f.emails++
		user, err := f.store.Save(ctx, f.users, entity.Row{"email": fmt.Sprintf("user%d@example.com", f.emails)})
		require.NoError(t, err)
		userKey, err := f.users.KeyOf(user)
		require.NoError(t, err)

		author, err := store.Save(ctx, f.authors, entity.Row{
			"user_id":         userKey,
			"publishing_name": name,
			"age":             int64(30 + f.emails),
		})
		require.NoError(t, err)
		key, err := f.authors.KeyOf(author)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	return keys
}

func (f *fixture) aliases(t *testing.T) (read, write []string) {
	t.Helper()
	ctx := context.Background()
	read, _, err := f.engine.AliasIndices(ctx, f.authors.ReadAlias())
	require.NoError(t, err)
	write, _, err = f.engine.AliasIndices(ctx, f.authors.WriteAlias())
	require.NoError(t, err)
	return read, write
}

func (f *fixture) count(t *testing.T, query string) uint64 {
	t.Helper()
	page, err := f.engine.Search(context.Background(), f.authors.ReadAlias(), search.Request{Query: query})
	require.NoError(t, err)
	return page.Total
}

// faultEngine wraps an engine and fails selected calls.
type faultEngine struct {
	search.Engine

	mu          sync.Mutex
	failures    map[string]error
	aliasCalls  int
	failAliasAt int
	bulkCalls   int
	bulkHook    func(target string)
}

func (f *faultEngine) failOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = map[string]error{}
	}
	f.failures[method] = err
}

// failUpdateAliasesAt fails the nth UpdateAliases call from now on, counting
// from one.
func (f *faultEngine) failUpdateAliasesAt(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliasCalls = 0
	f.failAliasAt = n
}

func (f *faultEngine) fault(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[method]
}

func (f *faultEngine) bulks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bulkCalls
}

func (f *faultEngine) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	if err := f.fault("CreateIndex"); err != nil {
		return err
	}
	return f.Engine.CreateIndex(ctx, name, body)
}

func (f *faultEngine) DeleteIndex(ctx context.Context, name string) error {
	if err := f.fault("DeleteIndex"); err != nil {
		return err
	}
	return f.Engine.DeleteIndex(ctx, name)
}

func (f *faultEngine) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	f.mu.Lock()
	f.aliasCalls++
	failNow := f.failAliasAt > 0 && f.aliasCalls == f.failAliasAt
	f.mu.Unlock()
	if failNow {
		return fmt.Errorf("alias update rejected")
	}
	if err := f.fault("UpdateAliases"); err != nil {
		return err
	}
	return f.Engine.UpdateAliases(ctx, actions)
}

func (f *faultEngine) Index(ctx context.Context, target string, doc search.Document) error {
	if err := f.fault("Index"); err != nil {
		return err
	}
	return f.Engine.Index(ctx, target, doc)
}

func (f *faultEngine) Delete(ctx context.Context, target string, id int64) (bool, error) {
	if err := f.fault("Delete"); err != nil {
		return false, err
	}
	return f.Engine.Delete(ctx, target, id)
}

func (f *faultEngine) Bulk(ctx context.Context, target string, ops []search.Operation) (search.BulkResult, error) {
	f.mu.Lock()
	f.bulkCalls++
	hook := f.bulkHook
	f.mu.Unlock()
	if hook != nil {
		hook(target)
	}
	if err := f.fault("Bulk"); err != nil {
		return search.BulkResult{}, err
	}
	return f.Engine.Bulk(ctx, target, ops)
}

func (f *faultEngine) Refresh(ctx context.Context, target string) error {
	if err := f.fault("Refresh"); err != nil {
		return err
	}
	return f.Engine.Refresh(ctx, target)
}

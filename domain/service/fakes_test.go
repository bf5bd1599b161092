package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory entity.Store for rows with integer-valued conditions.
type memStore struct {
	mu        sync.Mutex
	rows      map[int64]entity.Row
	rowsCalls int
	beforeRow func(call int, s *memStore)
	rowsErr   func(call int) error
}

func newMemStore(rows ...entity.Row) *memStore {
	s := &memStore{rows: map[int64]entity.Row{}}
	for _, r := range rows {
		k, _ := entity.ToKey(r["id"])
		s.rows[k] = r
	}
	return s
}

func (s *memStore) match(row entity.Row, q repository.Query) bool {
	for _, c := range q.Conditions() {
		v, _ := entity.ToKey(row[c.Field()])
		switch c.Operator() {
		case repository.OpEqual:
			want, _ := entity.ToKey(c.Value())
			if v != want {
				return false
			}
		case repository.OpGreaterThan:
			if v <= c.Value().(int64) {
				return false
			}
		case repository.OpLessThanOrEqual:
			if v > c.Value().(int64) {
				return false
			}
		case repository.OpIn:
			if !slices.Contains(c.Value().([]int64), v) {
				return false
			}
		}
	}
	return true
}

func (s *memStore) sortedKeys(q repository.Query) []int64 {
	var keys []int64
	for k, row := range s.rows {
		if s.match(row, q) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (s *memStore) MaxKey(_ context.Context, _ entity.Schema, options ...repository.Option) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.sortedKeys(repository.Build(options...))
	if len(keys) == 0 {
		return 0, false, nil
	}
	return keys[len(keys)-1], true, nil
}

func (s *memStore) Rows(_ context.Context, _ entity.Schema, columns []string, options ...repository.Option) ([]entity.Row, error) {
	s.mu.Lock()
	s.rowsCalls++
	call := s.rowsCalls
	hook := s.beforeRow
	s.mu.Unlock()

	if hook != nil {
		hook(call, s)
	}
	if s.rowsErr != nil {
		if err := s.rowsErr(call); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q := repository.Build(options...)
	keys := s.sortedKeys(q)
	if n := q.LimitValue(); n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	out := make([]entity.Row, 0, len(keys))
	for _, k := range keys {
		row := entity.Row{}
		for _, c := range columns {
			if v, ok := s.rows[k][c]; ok {
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, _ entity.Schema, key int64) (entity.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[key]
	return r, ok, nil
}

func (s *memStore) Save(_ context.Context, _ entity.Schema, row entity.Row) (entity.Row, error) {
	return nil, errors.New("not supported")
}

func (s *memStore) Delete(_ context.Context, _ entity.Schema, key int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key]
	delete(s.rows, key)
	return ok, nil
}

func (s *memStore) insert(row entity.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, _ := entity.ToKey(row["id"])
	s.rows[k] = row
}

func (s *memStore) remove(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
}

func authorSchema(t *testing.T, options ...entity.SchemaOption) entity.Schema {
	t.Helper()
	key := entity.NewField("id", "id", entity.KindInt)
	fields := []entity.Field{
		key,
		entity.NewField("publishing_name", "publishing_name", entity.KindString),
		entity.NewField("age", "age", entity.KindInt),
		entity.NewField("user", "user_id", entity.KindReference),
		entity.NewField("joined", "joined", entity.KindTime),
		entity.NewField("active", "active", entity.KindBool),
	}
	s, err := entity.NewSchema("library.Author", "authors", key, fields, options...)
	require.NoError(t, err)
	return s
}

func authorRows(n int) []entity.Row {
	rows := make([]entity.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, entity.Row{
			"id":              int64(i),
			"publishing_name": "author",
			"age":             int64(30 + i),
			"user_id":         int64(100 + i),
		})
	}
	return rows
}

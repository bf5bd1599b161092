package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/internal/database"
	"gorm.io/gorm"
)

// RowStore implements entity.Store over dynamic GORM tables. Rows are plain
// column maps; every column named by a caller is checked against the schema
// before it reaches SQL.
type RowStore struct {
	db database.Database
}

// NewRowStore creates a new RowStore.
func NewRowStore(db database.Database) RowStore {
	return RowStore{db: db}
}

func (s RowStore) table(tx *gorm.DB, schema entity.Schema) *gorm.DB {
	return tx.Table(schema.Table())
}

func (s RowStore) checkColumns(schema entity.Schema, columns []string) error {
	for _, c := range columns {
		if !schema.HasColumn(c) {
			return fmt.Errorf("%w: column %q on %s", entity.ErrFieldNotFound, c, schema.Name())
		}
	}
	return nil
}

func (s RowStore) checkOptions(schema entity.Schema, options []repository.Option) error {
	q := repository.Build(options...)
	var columns []string
	for _, c := range q.Conditions() {
		columns = append(columns, c.Field())
	}
	for _, o := range q.Orders() {
		columns = append(columns, o.Field())
	}
	return s.checkColumns(schema, columns)
}

// MaxKey returns the largest key matching the options.
func (s RowStore) MaxKey(ctx context.Context, schema entity.Schema, options ...repository.Option) (int64, bool, error) {
	if err := s.checkOptions(schema, options); err != nil {
		return 0, false, err
	}
	var max sql.NullInt64
	db := database.ApplyConditions(s.table(s.db.Session(ctx), schema), options...)
	err := db.Select("MAX(" + s.db.QuoteIdentifier(schema.Key().Column()) + ")").Row().Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max key of %s: %w", schema.Table(), err)
	}
	return max.Int64, max.Valid, nil
}

// Rows projects columns for every row matching the options.
func (s RowStore) Rows(ctx context.Context, schema entity.Schema, columns []string, options ...repository.Option) ([]entity.Row, error) {
	return s.rows(s.db.Session(ctx), schema, columns, options...)
}

func (s RowStore) rows(tx *gorm.DB, schema entity.Schema, columns []string, options ...repository.Option) ([]entity.Row, error) {
	if len(columns) == 0 {
		columns = schema.Columns()
	}
	if err := s.checkColumns(schema, columns); err != nil {
		return nil, err
	}
	if err := s.checkOptions(schema, options); err != nil {
		return nil, err
	}

	var found []map[string]any
	db := database.ApplyOptions(s.table(tx, schema).Select(columns), options...)
	if err := db.Find(&found).Error; err != nil {
		return nil, fmt.Errorf("read %s: %w", schema.Table(), err)
	}

	rows := make([]entity.Row, len(found))
	for i, m := range found {
		rows[i] = entity.Row(m)
	}
	return rows, nil
}

// Get fetches one row by key.
func (s RowStore) Get(ctx context.Context, schema entity.Schema, key int64) (entity.Row, bool, error) {
	return s.get(s.db.Session(ctx), schema, key)
}

func (s RowStore) get(tx *gorm.DB, schema entity.Schema, key int64) (entity.Row, bool, error) {
	rows, err := s.rows(tx, schema, nil,
		repository.WithCondition(schema.Key().Column(), key),
		repository.WithLimit(1),
	)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Save inserts a row without a key and updates one with a key. A keyed row
// that does not exist yet is inserted with that key.
func (s RowStore) Save(ctx context.Context, schema entity.Schema, row entity.Row) (entity.Row, error) {
	keyColumn := schema.Key().Column()
	values := row.Clone()
	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	if err := s.checkColumns(schema, columns); err != nil {
		return nil, err
	}

	var key int64
	if v, ok := values[keyColumn]; ok && v != nil {
		k, err := entity.ToKey(v)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", schema.Table(), err)
		}
		key = k
	}
	if key == 0 {
		delete(values, keyColumn)
	}

	return database.Atomic(ctx, s.db, func(tx *gorm.DB) (entity.Row, error) {
		if key != 0 {
			updated, err := s.update(tx, schema, key, values)
			if err != nil {
				return nil, err
			}
			if !updated {
				if key, err = s.insert(tx, schema, values); err != nil {
					return nil, err
				}
			}
		} else {
			var err error
			if key, err = s.insert(tx, schema, values); err != nil {
				return nil, err
			}
		}

		stored, ok, err := s.get(tx, schema, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("save %s: row %d vanished after write", schema.Table(), key)
		}
		return stored, nil
	})
}

func (s RowStore) update(tx *gorm.DB, schema entity.Schema, key int64, values entity.Row) (bool, error) {
	keyColumn := schema.Key().Column()
	set := make(map[string]any, len(values))
	for c, v := range values {
		if c != keyColumn {
			set[c] = v
		}
	}

	where := s.db.QuoteIdentifier(keyColumn) + " = ?"
	if len(set) == 0 {
		var n int64
		if err := s.table(tx, schema).Where(where, key).Count(&n).Error; err != nil {
			return false, fmt.Errorf("update %s: %w", schema.Table(), err)
		}
		return n > 0, nil
	}

	result := s.table(tx, schema).Where(where, key).Updates(set)
	if result.Error != nil {
		return false, fmt.Errorf("update %s: %w", schema.Table(), result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}
	// Some drivers report zero affected rows when nothing changed.
	var n int64
	if err := s.table(tx, schema).Where(where, key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("update %s: %w", schema.Table(), err)
	}
	return n > 0, nil
}

func (s RowStore) insert(tx *gorm.DB, schema entity.Schema, values entity.Row) (int64, error) {
	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	slices.Sort(columns)

	quotedTable := s.db.QuoteIdentifier(schema.Table())
	quotedKey := s.db.QuoteIdentifier(schema.Key().Column())

	var stmt string
	args := make([]any, 0, len(columns))
	if len(columns) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quotedTable, quotedKey)
	} else {
		quoted := make([]string, len(columns))
		marks := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = s.db.QuoteIdentifier(c)
			marks[i] = "?"
			args = append(args, values[c])
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quotedTable, strings.Join(quoted, ", "), strings.Join(marks, ", "), quotedKey)
	}

	var key int64
	if err := tx.Raw(stmt, args...).Row().Scan(&key); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", schema.Table(), err)
	}
	return key, nil
}

// Delete removes the row with key, reporting whether it existed.
func (s RowStore) Delete(ctx context.Context, schema entity.Schema, key int64) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		s.db.QuoteIdentifier(schema.Table()), s.db.QuoteIdentifier(schema.Key().Column()))
	result := s.db.Session(ctx).Exec(stmt, key)
	if result.Error != nil {
		return false, fmt.Errorf("delete from %s: %w", schema.Table(), result.Error)
	}
	return result.RowsAffected > 0, nil
}

package database

import (
	"context"

	"gorm.io/gorm"
)

// Atomic runs fn inside a transaction and returns its result. An error or
// panic from fn rolls the transaction back; a panic is re-raised after.
func Atomic[T any](ctx context.Context, db Database, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var result T
	err := db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := fn(tx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

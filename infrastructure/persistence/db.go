// Package persistence provides database storage implementations.
package persistence

import (
	"fmt"

	"github.com/cr0mbly/esbinder/internal/database"
)

// AutoMigrate creates or updates the rebuild ledger table and the tables of
// any registered entity models.
func AutoMigrate(db database.Database, models ...any) error {
	all := append([]any{&RebuildModel{}}, models...)
	if err := db.GORM().AutoMigrate(all...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

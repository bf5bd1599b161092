// Package testdb opens throwaway SQLite databases for tests.
package testdb

import (
	"context"
	"testing"

	"github.com/cr0mbly/esbinder/infrastructure/persistence"
	"github.com/cr0mbly/esbinder/internal/database"
	"github.com/cr0mbly/esbinder/internal/library"
)

// New returns an in-memory database holding the rebuild ledger and the
// library fixture tables. It is closed when t finishes.
func New(t testing.TB) database.Database {
	t.Helper()
	db, err := database.NewDatabase(context.Background(), "sqlite:///:memory:", nil)
	if err != nil {
		t.Fatalf("testdb: open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := persistence.AutoMigrate(db, library.Models()...); err != nil {
		t.Fatalf("testdb: migrate: %v", err)
	}
	return db
}

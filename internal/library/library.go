// Package library contains the example entity types used by the CLI and the
// integration tests: users and the authors that belong to them.
package library

import (
	"context"
	"strings"
	"time"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/google/uuid"
)

// User is an account that may publish as one or more authors.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// TableName returns the users table.
func (User) TableName() string { return "users" }

// Author is a publishing identity of a user.
type Author struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	UserID         int64 `gorm:"index;not null"`
	User           *User `gorm:"constraint:OnDelete:CASCADE"`
	PublishingName string
	Age            int
	CreatedAt      time.Time
}

// TableName returns the authors table.
func (Author) TableName() string { return "authors" }

// Models returns every model for migration, parents first.
func Models() []any {
	return []any{&User{}, &Author{}}
}

// UniqueIdentifierField is the document field filled by UniqueIdentifier.
const UniqueIdentifierField = "unique_identifier"

// UniqueIdentifier returns a provider assigning every key a fresh opaque
// identifier (a dashless UUID).
func UniqueIdentifier() entity.Provider {
	return entity.NewProvider(UniqueIdentifierField, func(_ context.Context, keys []int64) (map[int64]any, error) {
		out := make(map[int64]any, len(keys))
		for _, k := range keys {
			out[k] = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		return out, nil
	})
}

// AuthorOptions configures the Author schema.
func AuthorOptions() []entity.SchemaOption {
	return []entity.SchemaOption{
		entity.WithCachedFields("publishing_name", "user"),
		entity.WithProviders(UniqueIdentifier()),
		entity.WithMapping(map[string]any{
			"settings": map[string]any{},
			"mappings": map[string]any{
				"properties": map[string]any{
					"publishing_name":     map[string]any{"type": "text"},
					"user":                map[string]any{"type": "long"},
					UniqueIdentifierField: map[string]any{"type": "keyword"},
				},
			},
		}),
	}
}

// UserOptions configures the User schema.
func UserOptions() []entity.SchemaOption {
	return []entity.SchemaOption{
		entity.WithCachedFields("email", "created_at"),
		entity.WithProviders(UniqueIdentifier()),
	}
}

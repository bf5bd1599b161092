package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/internal/database"
)

// RebuildModel is the ledger row for one index rebuild.
type RebuildModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	EntityType string `gorm:"index;not null"`
	Index      string `gorm:"column:index_name"`
	Previous   string
	Orphaned   string `gorm:"index"`
	Stage      string `gorm:"not null"`
	Status     string `gorm:"index;not null"`
	Documents  int
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TableName returns the ledger table name.
func (RebuildModel) TableName() string { return "esbinder_rebuilds" }

func decodeRebuild(m RebuildModel) lifecycle.Rebuild {
	var finished time.Time
	if m.FinishedAt != nil {
		finished = *m.FinishedAt
	}
	return lifecycle.ReconstructRebuild(
		m.ID,
		m.EntityType,
		m.Index,
		m.Previous,
		m.Orphaned,
		lifecycle.Stage(m.Stage),
		lifecycle.Status(m.Status),
		m.Documents,
		m.Message,
		m.StartedAt,
		finished,
	)
}

func encodeRebuild(r lifecycle.Rebuild) RebuildModel {
	var finished *time.Time
	if t := r.FinishedAt(); !t.IsZero() {
		finished = &t
	}
	return RebuildModel{
		ID:         r.ID(),
		EntityType: r.EntityType(),
		Index:      r.Index(),
		Previous:   r.Previous(),
		Orphaned:   r.Orphaned(),
		Stage:      string(r.Stage()),
		Status:     string(r.Status()),
		Documents:  r.Documents(),
		Message:    r.Message(),
		StartedAt:  r.StartedAt(),
		FinishedAt: finished,
	}
}

// RebuildStore keeps the rebuild ledger in the application database.
type RebuildStore struct {
	database.Repository[lifecycle.Rebuild, RebuildModel]
}

// NewRebuildStore returns a RebuildStore over db. The ledger table must
// already be migrated.
func NewRebuildStore(db database.Database) RebuildStore {
	codec := database.Codec[lifecycle.Rebuild, RebuildModel]{Decode: decodeRebuild, Encode: encodeRebuild}
	return RebuildStore{Repository: database.NewRepository(db, codec, "rebuild")}
}

// Latest returns the most recent rebuild of an entity type with the given status.
func (s RebuildStore) Latest(ctx context.Context, entityType string, status lifecycle.Status) (lifecycle.Rebuild, bool, error) {
	found, err := s.Find(ctx,
		lifecycle.WithEntityType(entityType),
		lifecycle.WithStatus(status),
		lifecycle.WithNewestFirst(),
		repository.WithLimit(1),
	)
	if err != nil {
		return lifecycle.Rebuild{}, false, fmt.Errorf("latest rebuild: %w", err)
	}
	if len(found) == 0 {
		return lifecycle.Rebuild{}, false, nil
	}
	return found[0], true, nil
}

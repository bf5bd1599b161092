// Package lifecycle tracks the index state of each entity type and records
// every rebuild attempt.
package lifecycle

import (
	"context"
	"time"

	"github.com/cr0mbly/esbinder/domain/repository"
)

// State is where an entity type is in its index lifecycle.
type State int

// State values.
const (
	StateUninitialized State = iota
	StateBootstrapped
	StateRebuilding
	StateStable
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBootstrapped:
		return "bootstrapped"
	case StateRebuilding:
		return "rebuilding"
	case StateStable:
		return "stable"
	default:
		return "uninitialized"
	}
}

// Stage names a step of the rebuild protocol.
type Stage string

// Rebuild stages, in protocol order.
const (
	StageCapture   Stage = "capture"
	StageCreate    Stage = "create"
	StageBindWrite Stage = "bind-write"
	StagePopulate  Stage = "populate"
	StageBindRead  Stage = "bind-read"
	StageDrop      Stage = "drop"
	StageDone      Stage = "done"
)

// Status is the outcome of a rebuild.
type Status string

// Status values.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Rebuild is the record of one rebuild of an entity type's index.
type Rebuild struct {
	id         int64
	entityType string
	index      string
	previous   string
	orphaned   string
	stage      Stage
	status     Status
	documents  int
	message    string
	startedAt  time.Time
	finishedAt time.Time
}

// NewRebuild starts a running record.
func NewRebuild(entityType string, startedAt time.Time) Rebuild {
	return Rebuild{
		entityType: entityType,
		stage:      StageCapture,
		status:     StatusRunning,
		startedAt:  startedAt,
	}
}

// ReconstructRebuild rebuilds a record from persistence.
func ReconstructRebuild(
	id int64,
	entityType, index, previous, orphaned string,
	stage Stage,
	status Status,
	documents int,
	message string,
	startedAt, finishedAt time.Time,
) Rebuild {
	return Rebuild{
		id:         id,
		entityType: entityType,
		index:      index,
		previous:   previous,
		orphaned:   orphaned,
		stage:      stage,
		status:     status,
		documents:  documents,
		message:    message,
		startedAt:  startedAt,
		finishedAt: finishedAt,
	}
}

// ID returns the record id (0 until saved).
func (r Rebuild) ID() int64 { return r.id }

// EntityType returns the entity type name.
func (r Rebuild) EntityType() string { return r.entityType }

// Index returns the physical index the rebuild populated.
func (r Rebuild) Index() string { return r.index }

// Previous returns the index the read alias pointed at before the rebuild.
func (r Rebuild) Previous() string { return r.previous }

// Orphaned returns the indices left behind because they could not be
// dropped, comma separated.
func (r Rebuild) Orphaned() string { return r.orphaned }

// Stage returns the last stage reached.
func (r Rebuild) Stage() Stage { return r.stage }

// Status returns the outcome.
func (r Rebuild) Status() Status { return r.status }

// Documents returns the number of documents written.
func (r Rebuild) Documents() int { return r.documents }

// Message returns the failure or warning message.
func (r Rebuild) Message() string { return r.message }

// StartedAt returns when the rebuild started.
func (r Rebuild) StartedAt() time.Time { return r.startedAt }

// FinishedAt returns when the rebuild finished, or zero while running.
func (r Rebuild) FinishedAt() time.Time { return r.finishedAt }

// WithID returns a copy with the record id set.
func (r Rebuild) WithID(id int64) Rebuild {
	r.id = id
	return r
}

// WithPrevious returns a copy recording the superseded index.
func (r Rebuild) WithPrevious(name string) Rebuild {
	r.previous = name
	return r
}

// WithIndex returns a copy recording the new index.
func (r Rebuild) WithIndex(name string) Rebuild {
	r.index = name
	return r
}

// AtStage returns a copy advanced to stage.
func (r Rebuild) AtStage(stage Stage) Rebuild {
	r.stage = stage
	return r
}

// AddDocuments returns a copy with n more documents written.
func (r Rebuild) AddDocuments(n int) Rebuild {
	r.documents += n
	return r
}

// Orphan returns a copy recording an index that could not be dropped.
// Several orphans are kept comma separated.
func (r Rebuild) Orphan(name, message string) Rebuild {
	if r.orphaned != "" {
		r.orphaned += "," + name
	} else {
		r.orphaned = name
	}
	r.message = message
	return r
}

// Succeed returns a finished, successful copy.
func (r Rebuild) Succeed(at time.Time) Rebuild {
	r.stage = StageDone
	r.status = StatusSucceeded
	r.finishedAt = at
	return r
}

// Fail returns a finished, failed copy keeping the stage reached.
func (r Rebuild) Fail(err error, at time.Time) Rebuild {
	r.status = StatusFailed
	r.finishedAt = at
	if err != nil {
		r.message = err.Error()
	}
	return r
}

// Duration returns how long the rebuild ran.
func (r Rebuild) Duration() time.Duration {
	if r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

// RebuildStore persists rebuild records.
type RebuildStore interface {
	Save(ctx context.Context, r Rebuild) (Rebuild, error)
	Find(ctx context.Context, options ...repository.Option) ([]Rebuild, error)
	FindOne(ctx context.Context, options ...repository.Option) (Rebuild, error)
	// Latest returns the most recent record of an entity type with status.
	Latest(ctx context.Context, entityType string, status Status) (Rebuild, bool, error)
}

// WithEntityType filters records by entity type.
func WithEntityType(name string) repository.Option {
	return repository.WithCondition("entity_type", name)
}

// WithStatus filters records by status.
func WithStatus(s Status) repository.Option {
	return repository.WithCondition("status", string(s))
}

// WithOrphaned selects records that left an index behind.
func WithOrphaned() repository.Option {
	return repository.WithWhere("orphaned", repository.OpNotEqual, "")
}

// WithNewestFirst orders records from the most recent.
func WithNewestFirst() repository.Option {
	return repository.WithOrderDesc("id")
}

package service

import (
	"errors"
	"fmt"

	"github.com/cr0mbly/esbinder/domain/lifecycle"
)

var (
	// ErrIndexRebuildFailed indicates a rebuild stopped before the read alias
	// was switched to the new index.
	ErrIndexRebuildFailed = errors.New("index rebuild failed")
	// ErrSyncFailed indicates a relational write succeeded but the matching
	// index write did not.
	ErrSyncFailed = errors.New("index sync failed")
)

// RebuildError describes the stage a rebuild failed at. It matches
// ErrIndexRebuildFailed and the underlying cause.
type RebuildError struct {
	EntityType string
	Stage      lifecycle.Stage
	Index      string
	Cause      error
}

func (e *RebuildError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("%s: %s at stage %s (index %s): %v", ErrIndexRebuildFailed, e.EntityType, e.Stage, e.Index, e.Cause)
	}
	return fmt.Sprintf("%s: %s at stage %s: %v", ErrIndexRebuildFailed, e.EntityType, e.Stage, e.Cause)
}

// Unwrap exposes the category and the cause to errors.Is and errors.As.
func (e *RebuildError) Unwrap() []error {
	return []error{ErrIndexRebuildFailed, e.Cause}
}

// SyncError describes a failed index write for one entity.
type SyncError struct {
	Op         string
	EntityType string
	Key        int64
	Cause      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s %s %d: %v", ErrSyncFailed, e.Op, e.EntityType, e.Key, e.Cause)
}

// Unwrap exposes the category and the cause to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	return []error{ErrSyncFailed, e.Cause}
}

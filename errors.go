package esbinder

import "errors"

// Exported errors for library consumers.
var (
	// ErrNoDatabase indicates no relational database was configured.
	ErrNoDatabase = errors.New("esbinder: no database configured")

	// ErrUnknownEntity indicates an entity type that was never registered.
	ErrUnknownEntity = errors.New("esbinder: unknown entity type")

	// ErrAlreadyRegistered indicates a second registration of an entity type.
	ErrAlreadyRegistered = errors.New("esbinder: entity type already registered")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("esbinder: client is closed")
)

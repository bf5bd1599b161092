package entity

import (
	"errors"
	"fmt"
)

// Schema and provider errors.
var (
	ErrFieldNotFound             = errors.New("field not found")
	ErrFieldNotConvertible       = errors.New("field not convertible")
	ErrProviderContractViolation = errors.New("provider contract violation")
	ErrProviderFailed            = errors.New("provider failed")
	ErrInvalidSchema             = errors.New("invalid schema")
)

// FieldError identifies the entity type and field that failed to resolve or convert.
// It matches both its category (ErrFieldNotFound, ErrFieldNotConvertible) and the
// underlying cause under errors.Is.
type FieldError struct {
	Type  string
	Field string
	Key   int64
	Err   error
	Cause error
}

// NewFieldError creates a FieldError without a row key.
func NewFieldError(typeName, field string, category error) *FieldError {
	return &FieldError{Type: typeName, Field: field, Err: category}
}

// Error implements error.
func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%s.%s: %v", e.Type, e.Field, e.Err)
	if e.Key != 0 {
		msg = fmt.Sprintf("%s.%s (key %d): %v", e.Type, e.Field, e.Key, e.Err)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the category and the cause.
func (e *FieldError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// ProviderError reports a custom field provider that failed or broke its contract.
type ProviderError struct {
	Type    string
	Field   string
	Missing []int64
	Err     error
	Cause   error
}

// Error implements error.
func (e *ProviderError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s.%s: %v: no value for %d of the requested keys (first %d)",
			e.Type, e.Field, e.Err, len(e.Missing), e.Missing[0])
	case e.Cause != nil:
		return fmt.Sprintf("%s.%s: %v: %v", e.Type, e.Field, e.Err, e.Cause)
	default:
		return fmt.Sprintf("%s.%s: %v", e.Type, e.Field, e.Err)
	}
}

// Unwrap exposes the category and the cause.
func (e *ProviderError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

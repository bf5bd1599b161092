// Package jsonapi provides JSON:API document types for API responses.
package jsonapi

import (
	"encoding/json"
	"time"
)

// Document is a JSON:API top-level document.
// See: https://jsonapi.org/format/#document-structure
type Document struct {
	Data   any     `json:"data,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
	Links  *Links  `json:"links,omitempty"`
	Errors []Error `json:"errors,omitempty"`
}

// Meta holds non-standard meta-information.
type Meta map[string]any

// Links holds pagination and self links.
type Links struct {
	Self string `json:"self,omitempty"`
	Prev string `json:"prev,omitempty"`
	Next string `json:"next,omitempty"`
}

// Resource is a JSON:API resource object.
type Resource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes any    `json:"attributes"`
	Meta       Meta   `json:"meta,omitempty"`
}

// Error is a JSON:API error object.
// See: https://jsonapi.org/format/#error-objects
type Error struct {
	Status string       `json:"status,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the request parameter that caused an error.
type ErrorSource struct {
	Parameter string `json:"parameter,omitempty"`
}

// NewResource creates a resource.
func NewResource(resourceType, id string, attrs any) *Resource {
	return &Resource{Type: resourceType, ID: id, Attributes: attrs}
}

// NewSingleResponse wraps one resource.
func NewSingleResponse(resource *Resource) *Document {
	return &Document{Data: resource}
}

// NewListResponse wraps a list of resources. A nil list is sent as [].
func NewListResponse(resources []*Resource) *Document {
	if resources == nil {
		resources = []*Resource{}
	}
	return &Document{Data: resources}
}

// NewErrorResponse wraps errors.
func NewErrorResponse(errors ...Error) *Document {
	return &Document{Errors: errors}
}

// NewError creates an error with status, title and detail.
func NewError(status, title, detail string) Error {
	return Error{Status: status, Title: title, Detail: detail}
}

// DateTime serializes a time as RFC 3339, or null when zero.
type DateTime time.Time

// MarshalJSON implements json.Marshaler.
func (dt DateTime) MarshalJSON() ([]byte, error) {
	t := time.Time(dt)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler.
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*dt = DateTime{}
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return err
	}
	*dt = DateTime(t)
	return nil
}

// Time returns the underlying time.
func (dt DateTime) Time() time.Time { return time.Time(dt) }

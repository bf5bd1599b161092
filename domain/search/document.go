// Package search defines the document model and engine contract of the
// derived full-text index.
package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Document is the index representation of one entity: its key and a flat
// mapping of field name to index-safe scalar.
type Document struct {
	id     int64
	source map[string]any
}

// NewDocument creates a Document. A nil source becomes an empty one.
func NewDocument(id int64, source map[string]any) Document {
	if source == nil {
		source = map[string]any{}
	}
	return Document{id: id, source: maps.Clone(source)}
}

// ID returns the entity key.
func (d Document) ID() int64 { return d.id }

// DocID returns the key as the engine document id.
func (d Document) DocID() string { return strconv.FormatInt(d.id, 10) }

// Source returns a copy of the document fields.
func (d Document) Source() map[string]any { return maps.Clone(d.source) }

// Field returns one field value.
func (d Document) Field(name string) (any, bool) {
	v, ok := d.source[name]
	return v, ok
}

// Names returns the field names in sorted order.
func (d Document) Names() []string {
	return slices.Sorted(maps.Keys(d.source))
}

// Len returns the number of fields.
func (d Document) Len() int { return len(d.source) }

// MarshalJSON encodes the document body.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.source == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.source)
}

// ParseDocID converts an engine document id back to an entity key.
func ParseDocID(id string) (int64, error) {
	k, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("document id %q: %w", id, err)
	}
	return k, nil
}

// DecodeSource decodes a stored document body. Integral JSON numbers become
// int64 and the rest float64, so a stored key reads back as the same value.
func DecodeSource(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document source: %w", err)
	}
	for k, v := range raw {
		raw[k] = normalizeNumber(v)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case map[string]any:
		for k, inner := range n {
			n[k] = normalizeNumber(inner)
		}
		return n
	case []any:
		for i, inner := range n {
			n[i] = normalizeNumber(inner)
		}
		return n
	default:
		return v
	}
}

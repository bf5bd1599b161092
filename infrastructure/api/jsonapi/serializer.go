package jsonapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/search"
)

// Resource types.
const (
	TypeIndex    = "index"
	TypeRebuild  = "rebuild"
	TypeDocument = "document"
	TypeRow      = "row"
)

// IndexAttributes describes the index of one entity type.
type IndexAttributes struct {
	EntityType   string   `json:"entity_type"`
	Table        string   `json:"table"`
	BaseName     string   `json:"base_name"`
	ReadAlias    string   `json:"read_alias"`
	WriteAlias   string   `json:"write_alias"`
	ReadIndices  []string `json:"read_indices"`
	WriteIndices []string `json:"write_indices"`
	State        string   `json:"state"`
	CachedFields []string `json:"cached_fields"`
	Providers    []string `json:"providers"`
}

// RebuildAttributes describes one rebuild run.
type RebuildAttributes struct {
	EntityType string    `json:"entity_type"`
	Index      string    `json:"index"`
	Previous   []string  `json:"previous"`
	Orphaned   []string  `json:"orphaned"`
	Stage      string    `json:"stage,omitempty"`
	Status     string    `json:"status,omitempty"`
	Documents  int       `json:"documents"`
	Message    string    `json:"message,omitempty"`
	StartedAt  *DateTime `json:"started_at,omitempty"`
	FinishedAt *DateTime `json:"finished_at,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// DocumentAttributes holds an indexed document.
type DocumentAttributes struct {
	EntityType string         `json:"entity_type"`
	Source     map[string]any `json:"source"`
}

// RowAttributes holds a stored row.
type RowAttributes struct {
	EntityType string         `json:"entity_type"`
	Values     map[string]any `json:"values"`
}

// IndexResource serializes the index of schema with its current bindings.
func IndexResource(schema entity.Schema, state lifecycle.State, read, write []string) *Resource {
	cached := []string{}
	for _, f := range schema.CachedFields() {
		cached = append(cached, f.Name())
	}
	providers := []string{}
	for _, p := range schema.Providers() {
		providers = append(providers, p.FieldName())
	}
	return NewResource(TypeIndex, schema.Name(), IndexAttributes{
		EntityType:   schema.Name(),
		Table:        schema.Table(),
		BaseName:     schema.BaseName(),
		ReadAlias:    schema.ReadAlias(),
		WriteAlias:   schema.WriteAlias(),
		ReadIndices:  nonNil(read),
		WriteIndices: nonNil(write),
		State:        state.String(),
		CachedFields: cached,
		Providers:    providers,
	})
}

// RebuildResultResource serializes the outcome of a completed rebuild.
func RebuildResultResource(r service.RebuildResult) *Resource {
	return NewResource(TypeRebuild, strconv.FormatInt(r.ID, 10), RebuildAttributes{
		EntityType: r.EntityType,
		Index:      r.Index,
		Previous:   nonNil(r.Previous),
		Orphaned:   nonNil(r.Orphaned),
		Stage:      string(lifecycle.StageDone),
		Status:     string(lifecycle.StatusSucceeded),
		Documents:  r.Documents,
		DurationMS: r.Duration.Milliseconds(),
	})
}

// RebuildResource serializes a rebuild ledger record.
func RebuildResource(r lifecycle.Rebuild) *Resource {
	return NewResource(TypeRebuild, strconv.FormatInt(r.ID(), 10), RebuildAttributes{
		EntityType: r.EntityType(),
		Index:      r.Index(),
		Previous:   split(r.Previous()),
		Orphaned:   split(r.Orphaned()),
		Stage:      string(r.Stage()),
		Status:     string(r.Status()),
		Documents:  r.Documents(),
		Message:    r.Message(),
		StartedAt:  timePtr(r.StartedAt()),
		FinishedAt: timePtr(r.FinishedAt()),
		DurationMS: r.Duration().Milliseconds(),
	})
}

// DocumentResource serializes an indexed document.
func DocumentResource(entityType string, doc search.Document) *Resource {
	return NewResource(TypeDocument, doc.DocID(), DocumentAttributes{
		EntityType: entityType,
		Source:     doc.Source(),
	})
}

// RowResource serializes a stored row under its key.
func RowResource(entityType string, key int64, row entity.Row) *Resource {
	values := make(map[string]any, len(row))
	for k, v := range row {
		values[k] = v
	}
	return NewResource(TypeRow, strconv.FormatInt(key, 10), RowAttributes{
		EntityType: entityType,
		Values:     values,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func split(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}

func timePtr(t time.Time) *DateTime {
	if t.IsZero() {
		return nil
	}
	dt := DateTime(t)
	return &dt
}

package search

import (
	"context"
	"errors"
)

// Engine errors.
var (
	ErrUnknownIndex   = errors.New("unknown index or alias")
	ErrAmbiguousAlias = errors.New("alias resolves to more than one index")
	ErrIndexExists    = errors.New("index already exists")
	ErrBulkFailed     = errors.New("bulk operation failed")
)

// Engine is the search engine client contract. Targets are physical index
// names or aliases; an alias used as a write target must resolve to exactly
// one index. Absence of documents and aliases is reported through the found
// flag, never as an error.
type Engine interface {
	// CreateIndex creates a physical index with a settings/mappings body.
	CreateIndex(ctx context.Context, name string, body map[string]any) error
	// DeleteIndex drops a physical index and any alias bindings to it.
	DeleteIndex(ctx context.Context, name string) error
	// UpdateAliases applies every action in one atomic request.
	UpdateAliases(ctx context.Context, actions []AliasAction) error
	// AliasIndices lists the indices an alias points at; found is false when
	// the alias does not exist.
	AliasIndices(ctx context.Context, alias string) (indices []string, found bool, err error)
	// Index upserts one document by id.
	Index(ctx context.Context, target string, doc Document) error
	// Get reads one document by id.
	Get(ctx context.Context, target string, id int64) (Document, bool, error)
	// Delete removes one document by id; found is false when it was already absent.
	Delete(ctx context.Context, target string, id int64) (found bool, err error)
	// Bulk applies upserts and deletes to one target.
	Bulk(ctx context.Context, target string, ops []Operation) (BulkResult, error)
	// Refresh makes every write to target visible to Search.
	Refresh(ctx context.Context, target string) error
	// Search runs a query and returns ordered hits.
	Search(ctx context.Context, target string, req Request) (ResultPage, error)
	// Close releases engine resources.
	Close() error
}

type aliasActionKind int

const (
	aliasAdd aliasActionKind = iota
	aliasRemove
)

// AliasAction binds or unbinds an alias from an index.
type AliasAction struct {
	kind  aliasActionKind
	index string
	alias string
}

// AddAlias returns an action binding alias to index.
func AddAlias(index, alias string) AliasAction {
	return AliasAction{kind: aliasAdd, index: index, alias: alias}
}

// RemoveAlias returns an action unbinding alias from index.
func RemoveAlias(index, alias string) AliasAction {
	return AliasAction{kind: aliasRemove, index: index, alias: alias}
}

// IsAdd reports whether the action binds.
func (a AliasAction) IsAdd() bool { return a.kind == aliasAdd }

// Index returns the physical index name.
func (a AliasAction) Index() string { return a.index }

// Alias returns the alias name.
func (a AliasAction) Alias() string { return a.alias }

// String returns a readable representation.
func (a AliasAction) String() string {
	if a.IsAdd() {
		return "add " + a.alias + " -> " + a.index
	}
	return "remove " + a.alias + " -> " + a.index
}

// Operation is one item of a bulk request.
type Operation struct {
	delete bool
	id     int64
	doc    Document
}

// UpsertOperation indexes doc, replacing any document with the same id.
func UpsertOperation(doc Document) Operation {
	return Operation{id: doc.ID(), doc: doc}
}

// DeleteOperation removes the document with id.
func DeleteOperation(id int64) Operation {
	return Operation{delete: true, id: id}
}

// IsDelete reports whether the operation removes a document.
func (o Operation) IsDelete() bool { return o.delete }

// ID returns the document id.
func (o Operation) ID() int64 { return o.id }

// Document returns the document to upsert.
func (o Operation) Document() Document { return o.doc }

// BulkResult counts applied bulk operations.
type BulkResult struct {
	Indexed int
	Deleted int
	// Missing counts deletes whose document was already absent.
	Missing int
}

// Add sums two results.
func (r BulkResult) Add(other BulkResult) BulkResult {
	return BulkResult{
		Indexed: r.Indexed + other.Indexed,
		Deleted: r.Deleted + other.Deleted,
		Missing: r.Missing + other.Missing,
	}
}

// Package search provides search.Engine implementations over bleve and
// Elasticsearch.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bleveStandard "github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/datetime/flexible"
	bleveEn "github.com/blevesearch/bleve/v2/analysis/lang/en"
	bleveRu "github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/hashicorp/go-multierror"

	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/domain/service"
)

const (
	sourceFieldName  = "_source"
	dateParserName   = "esbinder-datetime"
	aliasesFileName  = "aliases.json"
	bleveEngineLabel = "bleve"
)

// Available text analyzers, selected with settings.analyzer.
var analyzerMapping = map[string]string{
	"standard": bleveStandard.Name,
	"english":  bleveEn.AnalyzerName,
	"russian":  bleveRu.AnalyzerName,
}

// BleveEngine is an embedded search.Engine. Indices live in memory or in
// one directory per index; aliases are kept as bleve index aliases so a
// rebind is observed atomically by concurrent searches.
type BleveEngine struct {
	mu      sync.RWMutex
	dir     string
	indexes map[string]bleve.Index
	aliases map[string]*bleveAlias
	logger  *slog.Logger
}

type bleveAlias struct {
	alias   bleve.IndexAlias
	members []string
}

// BleveOption configures a BleveEngine.
type BleveOption func(*BleveEngine)

// WithBleveDir stores indices on disk under dir. Existing indices and alias
// bindings under dir are reopened.
func WithBleveDir(dir string) BleveOption {
	return func(e *BleveEngine) { e.dir = dir }
}

// WithBleveLogger sets the logger.
func WithBleveLogger(l *slog.Logger) BleveOption {
	return func(e *BleveEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewBleveEngine creates an embedded engine, in memory unless WithBleveDir
// is given.
func NewBleveEngine(options ...BleveOption) (*BleveEngine, error) {
	e := &BleveEngine{
		indexes: map[string]bleve.Index{},
		aliases: map[string]*bleveAlias{},
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.dir == "" {
		return e, nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bleve directory: %w", err)
	}
	if err := e.load(); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *BleveEngine) load() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("read bleve directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		idx, err := bleve.Open(filepath.Join(e.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("open index %s: %w", entry.Name(), err)
		}
		e.indexes[entry.Name()] = idx
	}

	data, err := os.ReadFile(filepath.Join(e.dir, aliasesFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read aliases: %w", err)
	}
	var bindings map[string][]string
	if err := json.Unmarshal(data, &bindings); err != nil {
		return fmt.Errorf("decode aliases: %w", err)
	}
	for name, members := range bindings {
		live := make([]string, 0, len(members))
		for _, m := range members {
			if _, ok := e.indexes[m]; ok {
				live = append(live, m)
			}
		}
		if len(live) == 0 {
			continue
		}
		e.aliases[name] = e.newAlias(live)
	}
	e.logger.Info("opened bleve indices", slog.String("dir", e.dir), slog.Int("indices", len(e.indexes)), slog.Int("aliases", len(e.aliases)))
	return nil
}

func (e *BleveEngine) newAlias(members []string) *bleveAlias {
	idxs := make([]bleve.Index, 0, len(members))
	for _, m := range members {
		idxs = append(idxs, e.indexes[m])
	}
	return &bleveAlias{alias: bleve.NewIndexAlias(idxs...), members: members}
}

// saveAliases persists alias bindings; callers hold the write lock.
func (e *BleveEngine) saveAliases() error {
	if e.dir == "" {
		return nil
	}
	bindings := make(map[string][]string, len(e.aliases))
	for name, a := range e.aliases {
		bindings[name] = a.members
	}
	data, err := json.Marshal(bindings)
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	tmp := filepath.Join(e.dir, aliasesFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write aliases: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(e.dir, aliasesFileName)); err != nil {
		return fmt.Errorf("write aliases: %w", err)
	}
	return nil
}

// CreateIndex creates a physical index. Mapping properties of type text,
// keyword, date, boolean and the numeric types are translated; other
// fields are indexed dynamically.
func (e *BleveEngine) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := indexMapping(body)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[name]; ok {
		return fmt.Errorf("%w: %s", search.ErrIndexExists, name)
	}
	if _, ok := e.aliases[name]; ok {
		return fmt.Errorf("%w: %s is an alias", search.ErrIndexExists, name)
	}

	var idx bleve.Index
	if e.dir == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.New(filepath.Join(e.dir, name), m)
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	e.indexes[name] = idx
	e.logger.Debug("created index", slog.String("engine", bleveEngineLabel), slog.String("index", name))
	return nil
}

// DeleteIndex closes and removes a physical index and unbinds it from every
// alias. Aliases left without indices are removed.
func (e *BleveEngine) DeleteIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %s", search.ErrUnknownIndex, name)
	}
	for aliasName, a := range e.aliases {
		if !slices.Contains(a.members, name) {
			continue
		}
		a.members = slices.DeleteFunc(slices.Clone(a.members), func(m string) bool { return m == name })
		if len(a.members) == 0 {
			delete(e.aliases, aliasName)
			continue
		}
		a.alias.Remove(idx)
	}
	delete(e.indexes, name)

	var result error
	if err := idx.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close index %s: %w", name, err))
	}
	if e.dir != "" {
		if err := os.RemoveAll(filepath.Join(e.dir, name)); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove index %s: %w", name, err))
		}
	}
	if err := e.saveAliases(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// UpdateAliases applies all actions or none of them.
func (e *BleveEngine) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := map[string][]string{}
	members := func(alias string) []string {
		if m, ok := next[alias]; ok {
			return m
		}
		if a, ok := e.aliases[alias]; ok {
			return slices.Clone(a.members)
		}
		return nil
	}
	for _, action := range actions {
		if _, ok := e.indexes[action.Index()]; !ok {
			return fmt.Errorf("%w: %s", search.ErrUnknownIndex, action.Index())
		}
		if _, ok := e.indexes[action.Alias()]; ok {
			return fmt.Errorf("alias %s collides with an index name", action.Alias())
		}
		current := members(action.Alias())
		if action.IsAdd() {
			if !slices.Contains(current, action.Index()) {
				current = append(current, action.Index())
			}
			next[action.Alias()] = current
			continue
		}
		if !slices.Contains(current, action.Index()) {
			return fmt.Errorf("%w: alias %s is not bound to %s", search.ErrUnknownIndex, action.Alias(), action.Index())
		}
		next[action.Alias()] = slices.DeleteFunc(current, func(m string) bool { return m == action.Index() })
	}

	for aliasName, want := range next {
		existing, ok := e.aliases[aliasName]
		if len(want) == 0 {
			delete(e.aliases, aliasName)
			continue
		}
		if !ok {
			e.aliases[aliasName] = e.newAlias(want)
			continue
		}
		var in, out []bleve.Index
		for _, m := range want {
			if !slices.Contains(existing.members, m) {
				in = append(in, e.indexes[m])
			}
		}
		for _, m := range existing.members {
			if !slices.Contains(want, m) {
				out = append(out, e.indexes[m])
			}
		}
		existing.alias.Swap(in, out)
		existing.members = want
	}
	return e.saveAliases()
}

// AliasIndices lists the indices an alias points at.
func (e *BleveEngine) AliasIndices(ctx context.Context, alias string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.aliases[alias]
	if !ok {
		return nil, false, nil
	}
	out := slices.Clone(a.members)
	sort.Strings(out)
	return out, true, nil
}

// single resolves a target to exactly one physical index. Callers hold
// e.mu for as long as they use the index so DeleteIndex and Close wait.
func (e *BleveEngine) single(target string) (bleve.Index, error) {
	if idx, ok := e.indexes[target]; ok {
		return idx, nil
	}
	a, ok := e.aliases[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", search.ErrUnknownIndex, target)
	}
	if len(a.members) != 1 {
		return nil, fmt.Errorf("%w: %s -> %v", search.ErrAmbiguousAlias, target, a.members)
	}
	return e.indexes[a.members[0]], nil
}

// searchable resolves a target to an index or to the alias itself. Callers
// hold e.mu.
func (e *BleveEngine) searchable(target string) (bleve.Index, error) {
	if idx, ok := e.indexes[target]; ok {
		return idx, nil
	}
	if a, ok := e.aliases[target]; ok {
		return a.alias, nil
	}
	return nil, fmt.Errorf("%w: %s", search.ErrUnknownIndex, target)
}

// Index upserts one document.
func (e *BleveEngine) Index(ctx context.Context, target string, doc search.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.single(target)
	if err != nil {
		return err
	}
	data, err := bleveDocument(doc)
	if err != nil {
		return err
	}
	if err := idx.Index(doc.DocID(), data); err != nil {
		return fmt.Errorf("index document %s: %w", doc.DocID(), err)
	}
	return nil
}

// Get reads one document back from its stored source.
func (e *BleveEngine) Get(ctx context.Context, target string, id int64) (search.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return search.Document{}, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.single(target)
	if err != nil {
		return search.Document{}, false, err
	}
	doc, err := idx.Document(docID(id))
	if err != nil {
		return search.Document{}, false, fmt.Errorf("get document %d: %w", id, err)
	}
	if doc == nil {
		return search.Document{}, false, nil
	}
	var raw []byte
	doc.VisitFields(func(f index.Field) {
		if f.Name() == sourceFieldName {
			raw = f.Value()
		}
	})
	source, err := search.DecodeSource(raw)
	if err != nil {
		return search.Document{}, false, fmt.Errorf("decode document %d: %w", id, err)
	}
	return search.NewDocument(id, source), true, nil
}

// Delete removes one document.
func (e *BleveEngine) Delete(ctx context.Context, target string, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.single(target)
	if err != nil {
		return false, err
	}
	key := docID(id)
	found, err := exists(idx, key)
	if err != nil || !found {
		return false, err
	}
	if err := idx.Delete(key); err != nil {
		return false, fmt.Errorf("delete document %s: %w", key, err)
	}
	return true, nil
}

// Bulk applies operations in one batch. Items that fail to map are skipped
// and reported together with ErrBulkFailed.
func (e *BleveEngine) Bulk(ctx context.Context, target string, ops []search.Operation) (search.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return search.BulkResult{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.single(target)
	if err != nil {
		return search.BulkResult{}, err
	}

	var (
		result   search.BulkResult
		failures error
	)
	batch := idx.NewBatch()
	for _, op := range ops {
		if op.IsDelete() {
			key := docID(op.ID())
			found, err := exists(idx, key)
			if err != nil {
				failures = multierror.Append(failures, err)
				continue
			}
			if !found {
				result.Missing++
				continue
			}
			batch.Delete(key)
			result.Deleted++
			continue
		}
		data, err := bleveDocument(op.Document())
		if err != nil {
			failures = multierror.Append(failures, err)
			continue
		}
		if err := batch.Index(op.Document().DocID(), data); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("document %s: %w", op.Document().DocID(), err))
			continue
		}
		result.Indexed++
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return search.BulkResult{}, fmt.Errorf("%w: %w", search.ErrBulkFailed, err)
		}
	}
	if failures != nil {
		return result, fmt.Errorf("%w: %w", search.ErrBulkFailed, failures)
	}
	return result, nil
}

// Refresh is a no-op: bleve batches are searchable once applied.
func (e *BleveEngine) Refresh(_ context.Context, target string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, err := e.searchable(target)
	return err
}

// Search runs a query string query, or match-all for an empty query.
func (e *BleveEngine) Search(ctx context.Context, target string, req search.Request) (search.ResultPage, error) {
	if err := req.Validate(); err != nil {
		return search.ResultPage{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, err := e.searchable(target)
	if err != nil {
		return search.ResultPage{}, err
	}

	var q query.Query = bleve.NewMatchAllQuery()
	if req.Query != "" {
		q = bleve.NewQueryStringQuery(req.Query)
	}
	bReq := bleve.NewSearchRequestOptions(q, req.PageSize(), req.From, false)
	if req.HasSort() {
		bReq.SortBy(req.SortBy)
	}

	serp, err := idx.SearchInContext(ctx, bReq)
	if err != nil {
		return search.ResultPage{}, fmt.Errorf("bleve search: %w", err)
	}
	page := search.ResultPage{
		Total: serp.Total,
		Hits:  make([]search.Hit, 0, len(serp.Hits)),
	}
	for _, h := range serp.Hits {
		page.Hits = append(page.Hits, search.Hit{ID: h.ID, Score: h.Score})
	}
	return page, nil
}

// Close closes every index.
func (e *BleveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var result error
	for name, idx := range e.indexes {
		if err := idx.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close index %s: %w", name, err))
		}
	}
	e.indexes = map[string]bleve.Index{}
	e.aliases = map[string]*bleveAlias{}
	return result
}

func docID(id int64) string { return strconv.FormatInt(id, 10) }

func exists(idx bleve.Index, id string) (bool, error) {
	doc, err := idx.Document(id)
	if err != nil {
		return false, fmt.Errorf("lookup document %s: %w", id, err)
	}
	return doc != nil, nil
}

// bleveDocument flattens a document for indexing. Null fields are left out
// of the index and kept in the stored source.
func bleveDocument(doc search.Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.DocID(), err)
	}
	data := make(map[string]any, doc.Len()+1)
	for name, v := range doc.Source() {
		if v == nil {
			continue
		}
		data[name] = v
	}
	data[sourceFieldName] = string(raw)
	return data, nil
}

// indexMapping translates an Elasticsearch style create body.
func indexMapping(body map[string]any) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.StoreDynamic = false
	err := im.AddCustomDateTimeParser(dateParserName, map[string]any{
		"type":    flexible.Name,
		"layouts": []any{service.TimeLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("register date parser: %w", err)
	}

	if settings, ok := body["settings"].(map[string]any); ok {
		if name, ok := settings["analyzer"].(string); ok {
			analyzer, known := analyzerMapping[name]
			if !known {
				return nil, fmt.Errorf("unknown analyzer %q", name)
			}
			im.DefaultAnalyzer = analyzer
		}
	}

	doc := bleve.NewDocumentMapping()
	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false
	doc.AddFieldMappingsAt(sourceFieldName, source)

	mappings, _ := body["mappings"].(map[string]any)
	properties, _ := mappings["properties"].(map[string]any)
	for name, raw := range properties {
		prop, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %s: expected an object", name)
		}
		typ, _ := prop["type"].(string)
		fm := fieldMapping(typ)
		if fm == nil {
			continue
		}
		if analyzer, ok := prop["analyzer"].(string); ok {
			if a, known := analyzerMapping[analyzer]; known {
				fm.Analyzer = a
			}
		}
		fm.Store = false
		doc.AddFieldMappingsAt(name, fm)
	}
	im.DefaultMapping = doc
	return im, nil
}

func fieldMapping(typ string) *mapping.FieldMapping {
	switch typ {
	case "text":
		return bleve.NewTextFieldMapping()
	case "keyword", "boolean":
		return bleve.NewKeywordFieldMapping()
	case "long", "integer", "short", "byte", "double", "float", "half_float", "scaled_float":
		return bleve.NewNumericFieldMapping()
	case "date":
		fm := bleve.NewDateTimeFieldMapping()
		fm.DateFormat = dateParserName
		return fm
	default:
		return nil
	}
}

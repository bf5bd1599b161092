package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/hashicorp/go-multierror"

	"github.com/cr0mbly/esbinder/domain/search"
)

// ErrInvalidSecret indicates an Elasticsearch secret in an unknown format.
var ErrInvalidSecret = errors.New("invalid elasticsearch secret")

// ElasticConfig configures an ElasticEngine.
type ElasticConfig struct {
	Addresses []string
	// Secret is "basic:user:pass" or "token:api-key"; empty means anonymous.
	Secret string
	// Refresh is passed to write requests: "true", "false" or "wait_for".
	Refresh string
	// Workers is the number of bulk indexer workers; zero uses the default.
	Workers   int
	Transport http.RoundTripper
}

// ElasticEngine implements search.Engine against an Elasticsearch 7 cluster.
type ElasticEngine struct {
	client  *elasticsearch.Client
	refresh string
	workers int
	logger  *slog.Logger
}

func parseSecret(secret string, cfg *elasticsearch.Config) error {
	switch {
	case strings.HasPrefix(secret, "basic:"):
		userpass := strings.Split(strings.TrimPrefix(secret, "basic:"), ":")
		if len(userpass) != 2 {
			return fmt.Errorf("%w: basic auth should have format 'basic:user:pass'", ErrInvalidSecret)
		}
		cfg.Username, cfg.Password = userpass[0], userpass[1]
		return nil
	case strings.HasPrefix(secret, "token:"):
		cfg.APIKey = strings.TrimPrefix(secret, "token:")
		return nil
	}
	return fmt.Errorf("%w: should start with one of %v", ErrInvalidSecret, []string{"basic:", "token:"})
}

// NewElasticEngine creates a client for the configured cluster.
func NewElasticEngine(cfg ElasticConfig, logger *slog.Logger) (*ElasticEngine, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch addresses are not set")
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	}
	if cfg.Secret != "" {
		if err := parseSecret(cfg.Secret, &esCfg); err != nil {
			return nil, err
		}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	e := NewElasticEngineWithClient(client, logger)
	e.refresh = cfg.Refresh
	e.workers = cfg.Workers
	return e, nil
}

// NewElasticEngineWithClient wraps an existing client.
func NewElasticEngineWithClient(client *elasticsearch.Client, logger *slog.Logger) *ElasticEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ElasticEngine{client: client, logger: logger}
}

type elasticError struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Result string `json:"result"`
}

// responseError turns an error response into a Go error. 404 responses
// naming a missing index map to search.ErrUnknownIndex.
func responseError(op string, resp *esapi.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response body: %w", op, err)
	}
	var e elasticError
	_ = json.Unmarshal(body, &e)
	switch {
	case e.Error.Type == "index_not_found_exception", e.Error.Type == "aliases_not_found_exception":
		return fmt.Errorf("%s: %w: %s", op, search.ErrUnknownIndex, e.Error.Reason)
	case e.Error.Type == "resource_already_exists_exception":
		return fmt.Errorf("%s: %w: %s", op, search.ErrIndexExists, e.Error.Reason)
	case e.Error.Type == "illegal_argument_exception" && strings.Contains(e.Error.Reason, "more than one"):
		return fmt.Errorf("%s: %w: %s", op, search.ErrAmbiguousAlias, e.Error.Reason)
	}
	return fmt.Errorf("%s: elastic responded %d: %s", op, resp.StatusCode, string(body))
}

func encode(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}

func closeBody(logger *slog.Logger, resp *esapi.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Warn("failed to close response body", slog.String("error", err.Error()))
	}
}

// CreateIndex creates an index with the given settings and mappings body.
func (e *ElasticEngine) CreateIndex(ctx context.Context, name string, body map[string]any) error {
	if body == nil {
		body = map[string]any{}
	}
	payload, err := encode(body)
	if err != nil {
		return err
	}
	resp, err := e.client.Indices.Create(
		name,
		e.client.Indices.Create.WithBody(payload),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return responseError("create index "+name, resp)
	}
	return nil
}

// DeleteIndex drops an index; its aliases go with it.
func (e *ElasticEngine) DeleteIndex(ctx context.Context, name string) error {
	resp, err := e.client.Indices.Delete(
		[]string{name},
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return responseError("delete index "+name, resp)
	}
	return nil
}

// UpdateAliases sends every action in one _aliases request, which the
// cluster applies atomically.
func (e *ElasticEngine) UpdateAliases(ctx context.Context, actions []search.AliasAction) error {
	body := struct {
		Actions []map[string]map[string]string `json:"actions"`
	}{Actions: make([]map[string]map[string]string, 0, len(actions))}
	for _, a := range actions {
		verb := "remove"
		if a.IsAdd() {
			verb = "add"
		}
		body.Actions = append(body.Actions, map[string]map[string]string{
			verb: {"index": a.Index(), "alias": a.Alias()},
		})
	}
	payload, err := encode(body)
	if err != nil {
		return err
	}
	resp, err := e.client.Indices.UpdateAliases(
		payload,
		e.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("update aliases: %w", err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return responseError("update aliases", resp)
	}
	return nil
}

// AliasIndices lists the indices an alias points at.
func (e *ElasticEngine) AliasIndices(ctx context.Context, alias string) ([]string, bool, error) {
	resp, err := e.client.Indices.GetAlias(
		e.client.Indices.GetAlias.WithName(alias),
		e.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, false, fmt.Errorf("get alias %s: %w", alias, err)
	}
	defer closeBody(e.logger, resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.IsError() {
		return nil, false, responseError("get alias "+alias, resp)
	}
	var bindings map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&bindings); err != nil {
		return nil, false, fmt.Errorf("get alias %s: decode response: %w", alias, err)
	}
	indices := make([]string, 0, len(bindings))
	for name := range bindings {
		indices = append(indices, name)
	}
	sort.Strings(indices)
	return indices, len(indices) > 0, nil
}

// Index upserts one document.
func (e *ElasticEngine) Index(ctx context.Context, target string, doc search.Document) error {
	payload, err := encode(doc)
	if err != nil {
		return err
	}
	opts := []func(*esapi.IndexRequest){
		e.client.Index.WithDocumentID(doc.DocID()),
		e.client.Index.WithContext(ctx),
	}
	if e.refresh != "" {
		opts = append(opts, e.client.Index.WithRefresh(e.refresh))
	}
	resp, err := e.client.Index(target, payload, opts...)
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.DocID(), err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return responseError("index document "+doc.DocID(), resp)
	}
	return nil
}

// Get reads one document.
func (e *ElasticEngine) Get(ctx context.Context, target string, id int64) (search.Document, bool, error) {
	resp, err := e.client.Get(target, docID(id), e.client.Get.WithContext(ctx))
	if err != nil {
		return search.Document{}, false, fmt.Errorf("get document %d: %w", id, err)
	}
	defer closeBody(e.logger, resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return search.Document{}, false, fmt.Errorf("get document %d: read response: %w", id, err)
	}
	var r struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
		elasticError
	}
	_ = json.Unmarshal(body, &r)
	if resp.StatusCode == http.StatusNotFound && r.Error.Type == "" {
		return search.Document{}, false, nil
	}
	if resp.IsError() {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return search.Document{}, false, responseError(fmt.Sprintf("get document %d", id), resp)
	}
	if !r.Found {
		return search.Document{}, false, nil
	}
	source, err := search.DecodeSource(r.Source)
	if err != nil {
		return search.Document{}, false, err
	}
	return search.NewDocument(id, source), true, nil
}

// Delete removes one document.
func (e *ElasticEngine) Delete(ctx context.Context, target string, id int64) (bool, error) {
	opts := []func(*esapi.DeleteRequest){e.client.Delete.WithContext(ctx)}
	if e.refresh != "" {
		opts = append(opts, e.client.Delete.WithRefresh(e.refresh))
	}
	resp, err := e.client.Delete(target, docID(id), opts...)
	if err != nil {
		return false, fmt.Errorf("delete document %d: %w", id, err)
	}
	defer closeBody(e.logger, resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("delete document %d: read response: %w", id, err)
	}
	var r elasticError
	_ = json.Unmarshal(body, &r)
	if resp.StatusCode == http.StatusNotFound && r.Result == "not_found" {
		return false, nil
	}
	if resp.IsError() {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return false, responseError(fmt.Sprintf("delete document %d", id), resp)
	}
	return true, nil
}

// Bulk streams the operations through a bulk indexer. Deletes of absent
// documents are counted as missing; every other item failure is collected
// and returned together with ErrBulkFailed.
func (e *ElasticEngine) Bulk(ctx context.Context, target string, ops []search.Operation) (search.BulkResult, error) {
	var (
		mu       sync.Mutex
		result   search.BulkResult
		failures error
	)
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     e.client,
		Index:      target,
		Refresh:    e.refresh,
		NumWorkers: e.workers,
		OnError: func(_ context.Context, err error) {
			mu.Lock()
			defer mu.Unlock()
			failures = multierror.Append(failures, err)
		},
	})
	if err != nil {
		return search.BulkResult{}, fmt.Errorf("create bulk indexer: %w", err)
	}

	onSuccess := func(_ context.Context, item esutil.BulkIndexerItem, _ esutil.BulkIndexerResponseItem) {
		mu.Lock()
		defer mu.Unlock()
		if item.Action == "delete" {
			result.Deleted++
			return
		}
		result.Indexed++
	}
	onFailure := func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			failures = multierror.Append(failures, fmt.Errorf("%s %s: %w", item.Action, item.DocumentID, err))
		case item.Action == "delete" && res.Status == http.StatusNotFound && res.Error.Type == "":
			result.Missing++
		default:
			failures = multierror.Append(failures, fmt.Errorf("%s %s: %s: %s", item.Action, item.DocumentID, res.Error.Type, res.Error.Reason))
		}
	}

	for _, op := range ops {
		item := esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: docID(op.ID()),
			OnSuccess:  onSuccess,
			OnFailure:  onFailure,
		}
		if op.IsDelete() {
			item.Action = "delete"
		} else {
			payload, err := encode(op.Document())
			if err != nil {
				onFailure(ctx, item, esutil.BulkIndexerResponseItem{}, err)
				continue
			}
			item.Body = payload
		}
		if err := bi.Add(ctx, item); err != nil {
			_ = bi.Close(ctx)
			return result, fmt.Errorf("add bulk item: %w", err)
		}
	}
	if err := bi.Close(ctx); err != nil {
		return result, fmt.Errorf("close bulk indexer: %w", err)
	}

	stats := bi.Stats()
	e.logger.Debug("bulk applied",
		slog.String("target", target),
		slog.Uint64("indexed", stats.NumIndexed),
		slog.Uint64("deleted", stats.NumDeleted),
		slog.Uint64("failed", stats.NumFailed),
	)
	if failures != nil {
		return result, fmt.Errorf("%w: %w", search.ErrBulkFailed, failures)
	}
	return result, nil
}

// Refresh makes recent writes to target searchable.
func (e *ElasticEngine) Refresh(ctx context.Context, target string) error {
	resp, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithIndex(target),
		e.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", target, err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return responseError("refresh "+target, resp)
	}
	return nil
}

type elasticSearchResponse struct {
	Hits struct {
		Total struct {
			Value uint64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID    string   `json:"_id"`
			Score *float64 `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildQuery(req search.Request) map[string]any {
	q := map[string]any{"match_all": map[string]any{}}
	if req.Query != "" {
		q = map[string]any{"query_string": map[string]any{"query": req.Query}}
	}
	body := map[string]any{
		"query":            q,
		"from":             req.From,
		"size":             req.PageSize(),
		"track_total_hits": true,
	}
	if req.HasSort() {
		sorts := make([]any, 0, len(req.SortBy))
		for _, s := range req.SortBy {
			name, desc := search.SortField(s)
			order := "asc"
			if desc {
				order = "desc"
			}
			sorts = append(sorts, map[string]any{name: map[string]any{"order": order}})
		}
		body["sort"] = sorts
	}
	return body
}

// Search runs a query_string query, or match_all for an empty query.
func (e *ElasticEngine) Search(ctx context.Context, target string, req search.Request) (search.ResultPage, error) {
	if err := req.Validate(); err != nil {
		return search.ResultPage{}, err
	}
	payload, err := encode(buildQuery(req))
	if err != nil {
		return search.ResultPage{}, err
	}
	resp, err := e.client.Search(
		e.client.Search.WithIndex(target),
		e.client.Search.WithBody(payload),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return search.ResultPage{}, fmt.Errorf("search %s: %w", target, err)
	}
	defer closeBody(e.logger, resp)
	if resp.IsError() {
		return search.ResultPage{}, responseError("search "+target, resp)
	}

	var r elasticSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return search.ResultPage{}, fmt.Errorf("search %s: decode response: %w", target, err)
	}
	page := search.ResultPage{
		Total: r.Hits.Total.Value,
		Hits:  make([]search.Hit, 0, len(r.Hits.Hits)),
	}
	for _, h := range r.Hits.Hits {
		hit := search.Hit{ID: h.ID}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		page.Hits = append(page.Hits, hit)
	}
	return page, nil
}

// Close releases idle connections.
func (e *ElasticEngine) Close() error {
	if t, ok := e.client.Transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	return nil
}

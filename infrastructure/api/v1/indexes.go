// Package v1 provides the v1 API routes.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cr0mbly/esbinder"
	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/search"
	"github.com/cr0mbly/esbinder/infrastructure/api/jsonapi"
	"github.com/cr0mbly/esbinder/infrastructure/api/middleware"
	"github.com/cr0mbly/esbinder/infrastructure/api/v1/dto"
)

// IndexesRouter handles index lifecycle, search and row endpoints.
type IndexesRouter struct {
	client *esbinder.Client
	logger *slog.Logger
}

// NewIndexesRouter creates a new IndexesRouter.
func NewIndexesRouter(client *esbinder.Client) *IndexesRouter {
	return &IndexesRouter{
		client: client,
		logger: client.Logger(),
	}
}

// Routes returns the chi router for index endpoints. Reads run under
// readTimeout; rebuilds and other mutations hold the request until done.
func (r *IndexesRouter) Routes(readTimeout time.Duration) chi.Router {
	router := chi.NewRouter()

	router.Group(func(router chi.Router) {
		router.Use(chimiddleware.Timeout(readTimeout))
		router.Get("/", r.List)
		router.Get("/{entity}", r.Get)
		router.Get("/{entity}/rebuilds", r.ListRebuilds)
		router.Get("/{entity}/search", r.Search)
		router.Get("/{entity}/documents/{id}", r.GetDocument)
	})

	router.Post("/{entity}/initialize", r.Initialize)
	router.Post("/{entity}/rebuild", r.Rebuild)
	router.Post("/{entity}/reindex", r.Reindex)
	router.Post("/{entity}/purge", r.Purge)
	router.Post("/{entity}/documents/{id}/refresh", r.RefreshDocument)
	router.Post("/{entity}/rows", r.SaveRow)
	router.Delete("/{entity}/rows/{id}", r.DeleteRow)

	return router
}

// List handles GET /api/v1/indexes.
func (r *IndexesRouter) List(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	schemas := r.client.Schemas()
	resources := make([]*jsonapi.Resource, 0, len(schemas))
	for _, schema := range schemas {
		resource, err := r.indexResource(req, schema)
		if err != nil {
			middleware.WriteError(w, req, err, r.logger)
			return
		}
		resources = append(resources, resource)
	}

	doc := jsonapi.NewListResponse(resources)
	doc.Meta = jsonapi.Meta{"total_count": len(resources)}
	r.logger.DebugContext(ctx, "listed indexes", slog.Int("count", len(resources)))
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// Get handles GET /api/v1/indexes/{entity}.
func (r *IndexesRouter) Get(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	resource, err := r.indexResource(req, schema)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(resource))
}

// Initialize handles POST /api/v1/indexes/{entity}/initialize.
func (r *IndexesRouter) Initialize(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	created, err := r.client.Indexes.Initialize(req.Context(), schema)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	resource, err := r.indexResource(req, schema)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	doc := jsonapi.NewSingleResponse(resource)
	doc.Meta = jsonapi.Meta{"created": created}
	middleware.WriteJSON(w, status, doc)
}

// Rebuild handles POST /api/v1/indexes/{entity}/rebuild. The keep_old query
// parameter leaves the previous physical index in place.
func (r *IndexesRouter) Rebuild(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "entity")

	var options []service.RebuildOption
	if v := req.URL.Query().Get("keep_old"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, req, middleware.NewBadRequestError("invalid keep_old", err), r.logger)
			return
		}
		if keep {
			options = append(options, service.WithKeepOldIndex())
		}
	}

	result, err := r.client.Rebuild(req.Context(), name, options...)
	if err != nil {
		middleware.WriteError(w, req, r.notFound(err), r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(jsonapi.RebuildResultResource(result)))
}

// Reindex handles POST /api/v1/indexes/{entity}/reindex.
func (r *IndexesRouter) Reindex(w http.ResponseWriter, req *http.Request) {
	source, ok := r.source(w, req)
	if !ok {
		return
	}
	result, err := r.client.Indexes.Reindex(req.Context(), source)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bulkResponse(result))
}

// Purge handles POST /api/v1/indexes/{entity}/purge. Documents are removed
// from the index; rows are left untouched.
func (r *IndexesRouter) Purge(w http.ResponseWriter, req *http.Request) {
	source, ok := r.source(w, req)
	if !ok {
		return
	}
	result, err := r.client.Indexes.Purge(req.Context(), source)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bulkResponse(result))
}

// ListRebuilds handles GET /api/v1/indexes/{entity}/rebuilds.
func (r *IndexesRouter) ListRebuilds(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	pagination := ParsePagination(req, 20)

	total, err := r.client.Rebuilds.Count(ctx, lifecycle.WithEntityType(schema.Name()))
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	rebuilds, err := r.client.Rebuilds.Find(ctx, append(
		pagination.Options(),
		lifecycle.WithEntityType(schema.Name()),
		lifecycle.WithNewestFirst(),
	)...)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	resources := make([]*jsonapi.Resource, 0, len(rebuilds))
	for _, rebuild := range rebuilds {
		resources = append(resources, jsonapi.RebuildResource(rebuild))
	}
	doc := jsonapi.NewListResponse(resources)
	doc.Meta = PaginationMeta(pagination, total)
	doc.Links = PaginationLinks(req, pagination, total)
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// Search handles GET /api/v1/indexes/{entity}/search. The q parameter is the
// query text and sort is a comma-separated list of fields, each optionally
// prefixed with "-" for descending order.
func (r *IndexesRouter) Search(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	pagination := ParsePagination(req, search.DefaultLimit)

	request := search.Request{
		Query: req.URL.Query().Get("q"),
		From:  pagination.Offset(),
		Limit: pagination.PageSize(),
	}
	for _, field := range strings.Split(req.URL.Query().Get("sort"), ",") {
		if field = strings.TrimSpace(field); field != "" {
			request.SortBy = append(request.SortBy, field)
		}
	}
	if err := request.Validate(); err != nil {
		middleware.WriteError(w, req, middleware.NewBadRequestError(err.Error(), err), r.logger)
		return
	}

	result, err := r.client.Search(req.Context(), schema.Name(), request)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}

	resources := make([]*jsonapi.Resource, 0, len(result.Rows))
	for i, row := range result.Rows {
		resources = append(resources, jsonapi.RowResource(schema.Name(), result.Keys[i], row))
	}
	total := int64(result.Total)
	doc := jsonapi.NewListResponse(resources)
	doc.Meta = PaginationMeta(pagination, total)
	doc.Links = PaginationLinks(req, pagination, total)
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// GetDocument handles GET /api/v1/indexes/{entity}/documents/{id}.
func (r *IndexesRouter) GetDocument(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	key, ok := r.key(w, req)
	if !ok {
		return
	}

	doc, found, err := r.client.Indexes.Document(req.Context(), schema, key)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	if !found {
		middleware.WriteError(w, req, middleware.NewNotFoundError(fmt.Sprintf("%s %d is not indexed", schema.Name(), key)), r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jsonapi.NewSingleResponse(jsonapi.DocumentResource(schema.Name(), doc)))
}

// RefreshDocument handles POST /api/v1/indexes/{entity}/documents/{id}/refresh.
// The document is rewritten from the stored row, or removed when the row is
// gone.
func (r *IndexesRouter) RefreshDocument(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	key, ok := r.key(w, req)
	if !ok {
		return
	}

	exists, err := r.client.Sync.Refresh(req.Context(), schema, key)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	if !exists {
		middleware.WriteError(w, req, middleware.NewNotFoundError(fmt.Sprintf("%s %d does not exist", schema.Name(), key)), r.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveRow handles POST /api/v1/indexes/{entity}/rows. The saved row is
// mirrored into the index.
func (r *IndexesRouter) SaveRow(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}

	var body dto.RowRequest
	decoder := json.NewDecoder(req.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		middleware.WriteError(w, req, middleware.NewBadRequestError("invalid request body", err), r.logger)
		return
	}
	if len(body.Data.Attributes.Values) == 0 {
		middleware.WriteError(w, req, middleware.NewBadRequestError("values are required", nil), r.logger)
		return
	}

	row, err := body.Row()
	if err != nil {
		middleware.WriteError(w, req, middleware.NewBadRequestError(err.Error(), err), r.logger)
		return
	}
	saved, err := r.client.Sync.Save(req.Context(), schema, row)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	key, err := schema.KeyOf(saved)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, jsonapi.NewSingleResponse(jsonapi.RowResource(schema.Name(), key, saved)))
}

// DeleteRow handles DELETE /api/v1/indexes/{entity}/rows/{id}.
func (r *IndexesRouter) DeleteRow(w http.ResponseWriter, req *http.Request) {
	schema, ok := r.schema(w, req)
	if !ok {
		return
	}
	key, ok := r.key(w, req)
	if !ok {
		return
	}

	deleted, err := r.client.Sync.Delete(req.Context(), schema, key)
	if err != nil {
		middleware.WriteError(w, req, err, r.logger)
		return
	}
	if !deleted {
		middleware.WriteError(w, req, middleware.NewNotFoundError(fmt.Sprintf("%s %d does not exist", schema.Name(), key)), r.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *IndexesRouter) indexResource(req *http.Request, schema entity.Schema) (*jsonapi.Resource, error) {
	ctx := req.Context()
	state, err := r.client.Indexes.State(ctx, schema)
	if err != nil {
		return nil, err
	}
	read, _, err := r.client.Engine().AliasIndices(ctx, schema.ReadAlias())
	if err != nil {
		return nil, err
	}
	write, _, err := r.client.Engine().AliasIndices(ctx, schema.WriteAlias())
	if err != nil {
		return nil, err
	}
	return jsonapi.IndexResource(schema, state, read, write), nil
}

func (r *IndexesRouter) schema(w http.ResponseWriter, req *http.Request) (entity.Schema, bool) {
	schema, err := r.client.Schema(chi.URLParam(req, "entity"))
	if err != nil {
		middleware.WriteError(w, req, r.notFound(err), r.logger)
		return entity.Schema{}, false
	}
	return schema, true
}

func (r *IndexesRouter) source(w http.ResponseWriter, req *http.Request) (entity.Source, bool) {
	source, err := r.client.Source(chi.URLParam(req, "entity"))
	if err != nil {
		middleware.WriteError(w, req, r.notFound(err), r.logger)
		return entity.Source{}, false
	}
	return source, true
}

func (r *IndexesRouter) key(w http.ResponseWriter, req *http.Request) (int64, bool) {
	key, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		middleware.WriteError(w, req, middleware.NewBadRequestError("invalid id", err), r.logger)
		return 0, false
	}
	return key, true
}

func (r *IndexesRouter) notFound(err error) error {
	if errors.Is(err, esbinder.ErrUnknownEntity) {
		return middleware.NewNotFoundError(err.Error())
	}
	return err
}

func bulkResponse(result search.BulkResult) *jsonapi.Document {
	return &jsonapi.Document{Meta: jsonapi.Meta{
		"indexed": result.Indexed,
		"deleted": result.Deleted,
		"missing": result.Missing,
	}}
}

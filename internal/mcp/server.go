// Package mcp exposes index search over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cr0mbly/esbinder/application/service"
	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/lifecycle"
	"github.com/cr0mbly/esbinder/domain/search"
)

// Catalog lists registered entity types and their index state.
type Catalog interface {
	Schemas() []entity.Schema
	Schema(name string) (entity.Schema, error)
	State(ctx context.Context, name string) (lifecycle.State, error)
}

// Searcher runs a search against the read alias of an entity type.
type Searcher interface {
	Search(ctx context.Context, name string, req search.Request) (service.SearchResult, error)
}

// DocumentReader reads an indexed document back through the read alias.
type DocumentReader interface {
	Document(ctx context.Context, schema entity.Schema, key int64) (search.Document, bool, error)
}

// Server wraps the MCP server with index tools.
type Server struct {
	mcpServer *server.MCPServer
	catalog   Catalog
	searcher  Searcher
	documents DocumentReader
	logger    *slog.Logger
}

// NewServer creates a new MCP server with the given dependencies.
func NewServer(catalog Catalog, searcher Searcher, documents DocumentReader, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		catalog:   catalog,
		searcher:  searcher,
		documents: documents,
		logger:    logger,
	}

	mcpServer := server.NewMCPServer(
		"esbinder",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_indexes",
		mcp.WithDescription("List the searchable entity types with their index state and cached fields"),
	), s.handleListIndexes)

	mcpServer.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Full-text search over one entity type; returns the matching rows"),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Registered entity type, e.g. library.Author"),
		),
		mcp.WithString("query",
			mcp.Description("Query text; empty matches every document"),
		),
		mcp.WithString("sort",
			mcp.Description("Comma-separated sort fields, prefix with - for descending"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of rows to return (default: 10)"),
		),
	), s.handleSearch)

	mcpServer.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Get the indexed document of one entity"),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Registered entity type"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Primary key of the entity"),
		),
	), s.handleGetDocument)
}

type indexResult struct {
	EntityType   string   `json:"entity_type"`
	State        string   `json:"state"`
	CachedFields []string `json:"cached_fields"`
}

func (s *Server) handleListIndexes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	schemas := s.catalog.Schemas()
	results := make([]indexResult, 0, len(schemas))
	for _, schema := range schemas {
		state, err := s.catalog.State(ctx, schema.Name())
		if err != nil {
			s.logger.Error("failed to read index state", slog.String("entity", schema.Name()), slog.Any("error", err))
			return mcp.NewToolResultError(fmt.Sprintf("state of %s: %v", schema.Name(), err)), nil
		}
		fields := make([]string, 0, len(schema.CachedFields()))
		for _, f := range schema.CachedFields() {
			fields = append(fields, f.Name())
		}
		results = append(results, indexResult{
			EntityType:   schema.Name(),
			State:        state.String(),
			CachedFields: fields,
		})
	}
	return jsonResult(results)
}

type searchResult struct {
	Total uint64           `json:"total"`
	Rows  []map[string]any `json:"rows"`
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("entity_type")
	if err != nil {
		return mcp.NewToolResultError("entity_type is required"), nil
	}

	req := search.Request{
		Query: request.GetString("query", ""),
		Limit: request.GetInt("limit", 10),
	}
	for _, field := range strings.Split(request.GetString("sort", ""), ",") {
		if field = strings.TrimSpace(field); field != "" {
			req.SortBy = append(req.SortBy, field)
		}
	}

	result, err := s.searcher.Search(ctx, name, req)
	if err != nil {
		s.logger.Error("search failed", slog.String("entity", name), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	rows := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, row)
	}
	return jsonResult(searchResult{Total: result.Total, Rows: rows})
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("entity_type")
	if err != nil {
		return mcp.NewToolResultError("entity_type is required"), nil
	}
	idStr, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	key, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid id: %s", idStr)), nil
	}

	schema, err := s.catalog.Schema(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, found, err := s.documents.Document(ctx, schema, key)
	if err != nil {
		s.logger.Error("failed to get document", slog.String("entity", name), slog.Int64("id", key), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("get document: %v", err)), nil
	}
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("%s %d is not indexed", name, key)), nil
	}
	return jsonResult(doc.Source())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

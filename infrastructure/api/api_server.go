package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cr0mbly/esbinder"
	apimiddleware "github.com/cr0mbly/esbinder/infrastructure/api/middleware"
	v1 "github.com/cr0mbly/esbinder/infrastructure/api/v1"
	mcpinternal "github.com/cr0mbly/esbinder/internal/mcp"
)

// ReadTimeout bounds the read-only /api/v1 routes.
const ReadTimeout = 60 * time.Second

// APIServer serves an esbinder Client over HTTP:
//
//	GET  /, /health, /healthz   service info and liveness
//	     /api/v1/indexes/...    JSON:API index management and search
//	     /mcp                   streamable MCP endpoint
//
// Mutating /api/v1 routes require one of apiKeys when any are configured.
type APIServer struct {
	client  *esbinder.Client
	apiKeys []string
	version string
	logger  *slog.Logger

	once    sync.Once
	handler http.Handler
}

// NewAPIServer returns an APIServer for client.
func NewAPIServer(client *esbinder.Client, apiKeys []string) *APIServer {
	return &APIServer{
		client:  client,
		apiKeys: apiKeys,
		version: "dev",
		logger:  client.Logger(),
	}
}

// WithVersion sets the version reported at / and by the MCP endpoint.
func (a *APIServer) WithVersion(version string) *APIServer {
	a.version = version
	return a
}

// Handler returns the routes, building them on first use.
func (a *APIServer) Handler() http.Handler {
	a.once.Do(func() { a.handler = a.routes() })
	return a.handler
}

func (a *APIServer) routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", a.info)
	router.Get("/health", health)
	router.Get("/healthz", health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(apimiddleware.WriteProtectAuth(a.apiKeys))
		r.Mount("/indexes", v1.NewIndexesRouter(a.client).Routes(ReadTimeout))
	})

	// MCP streams its own responses and runs without a timeout.
	mcp := mcpinternal.NewServer(a.client, a.client, a.client.Indexes, a.version, a.logger)
	router.Mount("/mcp", server.NewStreamableHTTPServer(mcp.MCPServer()))

	return router
}

func (a *APIServer) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"name": "esbinder", "version": a.version, "indexes": len(a.client.Schemas())})
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

package router

import (
	"net/http"

	"github.com/babelcloud/gbox/packages/frame-export/internal/server/handlers"
)

// APIRouter handles health and status routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	var serverService handlers.ServerService
	if srv, ok := server.(handlers.ServerService); ok {
		serverService = srv
	}
	r.handlers = handlers.NewAPIHandlers(serverService)

	mux.HandleFunc("GET /api/health", r.handlers.HandleHealth)
	mux.HandleFunc("GET /api/status", r.handlers.HandleStatus)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}

package router

import (
	"net/http"

	"github.com/babelcloud/gbox/packages/frame-export/internal/server/handlers"
)

// ExportsRouter handles export and progress routes
type ExportsRouter struct {
	handlers *handlers.ExportHandlers
}

// RegisterRoutes registers the export endpoints. It does nothing when server
// does not implement handlers.ServerService.
func (r *ExportsRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	serverService, ok := server.(handlers.ServerService)
	if !ok {
		return
	}
	r.handlers = handlers.NewExportHandlers(serverService)

	mux.HandleFunc("POST /api/exports/video", r.handlers.HandleVideoExport)
	mux.HandleFunc("POST /api/exports/frames", r.handlers.HandleFramesExport)
	mux.HandleFunc("GET /api/exports/{id}", r.handlers.HandleExportStatus)
	mux.HandleFunc("GET /ws/exports/{id}", r.handlers.HandleProgressWebSocket)
}

// GetPathPrefix returns the path prefix for this router
func (r *ExportsRouter) GetPathPrefix() string {
	return "/api/exports"
}

package handlers

import (
	"net/http"
)

// APIHandlers serves health and status.
type APIHandlers struct {
	serverService ServerService
}

func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{serverService: serverSvc}
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"gbox-export"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		RespondJSON(w, http.StatusOK, map[string]interface{}{"status": "running", "service": "gbox-export"})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.serverService.IsRunning(),
		"port":    h.serverService.GetPort(),
		"uptime":  h.serverService.GetUptime().String(),
		"version": h.serverService.GetVersion(),
	})
}

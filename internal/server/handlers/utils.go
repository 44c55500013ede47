package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
)

// RespondJSON sends a JSON response with the given status code and data
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends {"success": false, "error": msg}.
func RespondError(w http.ResponseWriter, statusCode int, msg string) {
	RespondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// statusForError maps an export failure kind to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, export.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrUnsupportedEncoderConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, export.ErrSourceNotReady):
		return http.StatusConflict
	case errors.Is(err, export.ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isValidJobID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

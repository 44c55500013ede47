package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/utils/keymutex"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/progress"
	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
)

// ExportIDHeader carries the job id of an export response.
const ExportIDHeader = "X-Export-ID"

const maxRequestBody = 1 << 20

// ExportHandlers serves the export endpoints and their progress streams.
type ExportHandlers struct {
	serverService ServerService
	upgrader      websocket.Upgrader
	// Requests for the same job id run one at a time.
	jobLock keymutex.KeyMutex
}

// NewExportHandlers creates export handlers backed by serverSvc.
func NewExportHandlers(serverSvc ServerService) *ExportHandlers {
	return &ExportHandlers{
		serverService: serverSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		jobLock: keymutex.NewHashed(64),
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func resolveJobID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	if !isValidJobID(id) {
		return "", fmt.Errorf("invalid export id %q", id)
	}
	return id, nil
}

// HandleVideoExport handles POST /api/exports/video.
func (h *ExportHandlers) HandleVideoExport(w http.ResponseWriter, r *http.Request) {
	var req VideoExportRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	jobID, err := resolveJobID(req.ID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.run(w, r, jobID, ".webm", func(ctx context.Context) (*export.Result, error) {
		return h.serverService.ExportVideo(ctx, jobID, req)
	})
}

// HandleFramesExport handles POST /api/exports/frames.
func (h *ExportHandlers) HandleFramesExport(w http.ResponseWriter, r *http.Request) {
	var req FramesExportRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	jobID, err := resolveJobID(req.ID)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.run(w, r, jobID, ".zip", func(ctx context.Context) (*export.Result, error) {
		return h.serverService.ExportFrames(ctx, jobID, req)
	})
}

func (h *ExportHandlers) run(w http.ResponseWriter, r *http.Request, jobID, ext string, fn func(context.Context) (*export.Result, error)) {
	logger := util.GetLogger().With("component", "export_handler", "job", jobID)

	h.jobLock.LockKey(jobID)
	defer h.jobLock.UnlockKey(jobID)

	w.Header().Set(ExportIDHeader, jobID)
	res, err := fn(r.Context())
	if err != nil {
		logger.Warn("Export failed", "error", err)
		RespondJSON(w, statusForError(err), map[string]interface{}{
			"success": false,
			"id":      jobID,
			"kind":    export.KindOf(err).String(),
			"error":   err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", res.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+ext))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		logger.Warn("Failed to write export body", "error", err)
	}
}

// HandleExportStatus handles GET /api/exports/{id} with the latest event.
func (h *ExportHandlers) HandleExportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	b, ok := h.serverService.LookupProgress(jobID)
	if !ok {
		RespondError(w, http.StatusNotFound, "export not found")
		return
	}
	ev, ok := b.Last()
	if !ok {
		RespondJSON(w, http.StatusOK, progress.Event{JobID: jobID, Kind: "pending"})
		return
	}
	RespondJSON(w, http.StatusOK, ev)
}

// HandleProgressWebSocket handles GET /ws/exports/{id}. Events are sent as
// JSON text messages until the export ends or the client disconnects.
func (h *ExportHandlers) HandleProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if !isValidJobID(jobID) {
		http.Error(w, "Invalid export id", http.StatusBadRequest)
		return
	}
	logger := util.GetLogger().With("component", "export_progress", "job", jobID)

	// Subscribe before the upgrade completes so no event published after the
	// client connects is missed.
	b, ok := h.serverService.LookupProgress(jobID)
	if !ok {
		b = h.serverService.Progress(jobID)
	}
	subID, events := b.Subscribe(32)
	defer func() {
		b.Unsubscribe(subID)
		if _, started := b.Last(); !started {
			h.serverService.ReleaseProgress(jobID)
		}
	}()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade progress WebSocket", "error", err)
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("Progress WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, progressCloseMessage(b))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("Progress WebSocket write error", "error", err)
				return
			}
		}
	}
}

// progressCloseMessage tells a client why its event stream ended. A stream
// that ends while the job is still live means the subscriber fell behind.
func progressCloseMessage(b *progress.Broadcaster) []byte {
	if b.Closed() {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "export finished")
	}
	return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow")
}

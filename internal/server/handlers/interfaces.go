package handlers

import (
	"context"
	"time"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/progress"
)

// ServerService defines the server operations handlers need.
type ServerService interface {
	IsRunning() bool
	GetPort() int
	GetUptime() time.Duration
	GetVersion() string

	// Exports run synchronously and publish progress under jobID.
	ExportVideo(ctx context.Context, jobID string, req VideoExportRequest) (*export.Result, error)
	ExportFrames(ctx context.Context, jobID string, req FramesExportRequest) (*export.Result, error)

	// Progress returns the broadcaster of jobID, creating a pending one so
	// clients may subscribe before the export request arrives.
	Progress(jobID string) *progress.Broadcaster
	LookupProgress(jobID string) (*progress.Broadcaster, bool)
	ReleaseProgress(jobID string)
}

// SceneOptions selects the built-in particle scene.
type SceneOptions struct {
	Particles int   `json:"particles,omitempty"`
	Seed      int64 `json:"seed,omitempty"`
}

// VideoExportRequest is the body of POST /api/exports/video. Zero fields
// take the server defaults.
type VideoExportRequest struct {
	ID               string       `json:"id,omitempty"`
	Width            uint32       `json:"width,omitempty"`
	Height           uint32       `json:"height,omitempty"`
	FPS              uint32       `json:"fps,omitempty"`
	Frames           uint32       `json:"frames,omitempty"`
	Codec            string       `json:"codec,omitempty"`
	Bitrate          uint32       `json:"bitrate,omitempty"`
	ClusterMaxMillis uint32       `json:"cluster_max_millis,omitempty"`
	Scene            SceneOptions `json:"scene,omitempty"`
}

// FramesExportRequest is the body of POST /api/exports/frames.
type FramesExportRequest struct {
	ID     string       `json:"id,omitempty"`
	Width  int          `json:"width,omitempty"`
	Height int          `json:"height,omitempty"`
	Frames uint32       `json:"frames,omitempty"`
	FPS    uint32       `json:"fps,omitempty"`
	Prefix string       `json:"prefix,omitempty"`
	Scene  SceneOptions `json:"scene,omitempty"`
}

// Package export drives offline exports: it renders frames one at a time,
// captures them, and packages them either as a WebM video or as a ZIP of
// still images. Output is a pure function of the frames and configuration.
package export

import (
	"log/slog"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
)

const (
	// MaxEncoderQueue is the encoder backlog above which the frame loop
	// waits for the encoder to drain.
	MaxEncoderQueue = 6

	DefaultCodec      = "vp09.00.10.08"
	DefaultFilePrefix = "frame"
	DefaultImageFPS   = 30
)

// Stage names reported through ProgressFunc.
const (
	StageRender   = "render"
	StageDrain    = "drain"
	StageFinalize = "finalize"
	StageDone     = "done"
)

// Progress is reported after each frame and at the end of an export.
type Progress struct {
	Stage string
	// Frame is the number of frames completed.
	Frame int
	Total int
	Bytes int
}

// ProgressFunc receives progress updates on the export goroutine.
type ProgressFunc func(Progress)

// Result is a finished export.
type Result struct {
	Data     []byte
	MIMEType string
	Frames   int
	// Video is set for video exports.
	Video *webm.Stats
	// Entries is set for image-sequence exports.
	Entries int
}

func exportLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return util.GetLogger().With("component", "export")
}

func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

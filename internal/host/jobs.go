package host

import (
	"context"
	"log/slog"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
)

// SceneVideoJob renders the particle scene into a WebM video.
type SceneVideoJob struct {
	Video     export.VideoConfig
	Scene     SceneConfig
	Encoders  export.VideoEncoderFactory
	Progress  export.ProgressFunc
	Logger    *slog.Logger
	MuxingApp string
}

// Run allocates a canvas of the video size and exports it.
func (j SceneVideoJob) Run(ctx context.Context) (*export.Result, error) {
	canvas := NewCanvas(int(j.Video.Width), int(j.Video.Height))
	scene := NewParticleScene(canvas, j.Scene)
	return export.ExportVideo(ctx, j.Video, export.VideoDeps{
		Render:    scene.Render,
		Surface:   canvas,
		Encoders:  j.Encoders,
		Progress:  j.Progress,
		Logger:    j.Logger,
		MuxingApp: j.MuxingApp,
	})
}

// SceneFramesJob renders the particle scene into a ZIP of PNG stills.
type SceneFramesJob struct {
	Width    int
	Height   int
	Frames   export.ImageSequenceConfig
	Scene    SceneConfig
	Progress export.ProgressFunc
	Logger   *slog.Logger
}

// Run allocates a canvas and exports the image sequence.
func (j SceneFramesJob) Run(ctx context.Context) (*export.Result, error) {
	canvas := NewCanvas(j.Width, j.Height)
	scene := NewParticleScene(canvas, j.Scene)
	return export.ExportImageSequenceArchive(ctx, j.Frames, export.ImageDeps{
		Render:   scene.Render,
		Surface:  canvas,
		Images:   NewPNGEncoder(),
		Progress: j.Progress,
		Logger:   j.Logger,
	})
}

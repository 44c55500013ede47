package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/archive"
)

// ImageSequenceConfig describes a ZIP-of-stills export.
type ImageSequenceConfig struct {
	FrameCount uint32
	// FilePrefix names entries prefix_000000, prefix_000001, ...
	FilePrefix string
	// FPS only sets the time values passed to the renderer.
	FPS uint32
}

// ImageDeps are the host collaborators of an image-sequence export.
type ImageDeps struct {
	Render   RenderFunc
	Surface  Surface
	Images   ImageEncoder
	Progress ProgressFunc
	Logger   *slog.Logger
}

// EntryName returns the archive name of frame index.
func EntryName(prefix string, index int, ext string) string {
	return fmt.Sprintf("%s_%06d%s", prefix, index, ext)
}

// ExportImageSequenceArchive renders cfg.FrameCount frames, encodes each as a
// still image and returns a store-only ZIP of them.
func ExportImageSequenceArchive(ctx context.Context, cfg ImageSequenceConfig, deps ImageDeps) (*Result, error) {
	if cfg.FrameCount < 1 {
		return nil, newError(KindInvalidConfiguration, noFrame, fmt.Errorf("frame count must be at least 1"))
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}
	if cfg.FPS == 0 {
		cfg.FPS = DefaultImageFPS
	}
	if deps.Render == nil || deps.Surface == nil || deps.Images == nil {
		return nil, newError(KindInvalidConfiguration, noFrame, fmt.Errorf("render, surface and image encoder are required"))
	}
	logger := exportLogger(deps.Logger)

	if w, h := deps.Surface.Size(); w <= 0 || h <= 0 {
		return nil, newError(KindSourceNotReady, noFrame, fmt.Errorf("surface is %dx%d", w, h))
	}

	packager := archive.NewPackager(logger.With("component", "zip_packager"))
	total := int(cfg.FrameCount)
	dt := 1 / float64(cfg.FPS)
	ext := deps.Images.Extension()

	logger.Info("Image sequence export started", "frames", total, "prefix", cfg.FilePrefix)
	start := time.Now()

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindCanceled, i, err)
		}

		if err := deps.Render(ctx, i, float64(i)/float64(cfg.FPS), dt); err != nil {
			return nil, newError(KindRenderFailure, i, err)
		}
		if err := deps.Surface.Finish(ctx); err != nil {
			return nil, newError(KindFrameCaptureFailure, i, err)
		}
		img, err := deps.Surface.Capture(ctx)
		if err != nil {
			return nil, newError(KindFrameCaptureFailure, i, err)
		}
		data, err := deps.Images.EncodeImage(ctx, img)
		if err != nil {
			return nil, newError(KindImageEncodeFailure, i, err)
		}
		if err := packager.AddFile(EntryName(cfg.FilePrefix, i, ext), data); err != nil {
			return nil, newError(KindMuxFailure, i, err)
		}

		report(deps.Progress, Progress{Stage: StageRender, Frame: i + 1, Total: total})
	}

	report(deps.Progress, Progress{Stage: StageFinalize, Frame: total, Total: total})
	data, err := packager.Finalize()
	if err != nil {
		return nil, newError(KindMuxFailure, noFrame, err)
	}

	logger.Info("Image sequence export finished",
		"frames", total,
		"bytes", len(data),
		"duration", time.Since(start).Truncate(time.Millisecond))
	report(deps.Progress, Progress{Stage: StageDone, Frame: total, Total: total, Bytes: len(data)})

	return &Result{
		Data:     data,
		MIMEType: archive.MIMEType,
		Frames:   total,
		Entries:  len(packager.Entries()),
	}, nil
}

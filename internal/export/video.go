package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

// VideoConfig describes a WebM export.
type VideoConfig struct {
	Width      uint32
	Height     uint32
	FPS        uint32
	FrameCount uint32
	Codec      string
	Bitrate    uint32
	// ClusterMaxMillis defaults to 3000 and is clamped to [250, 30000].
	ClusterMaxMillis uint32
}

func (c VideoConfig) normalize() (VideoConfig, error) {
	if c.Width == 0 || c.Height == 0 {
		return c, fmt.Errorf("dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.FPS < 1 {
		return c, fmt.Errorf("fps must be at least 1")
	}
	if c.FrameCount < 1 {
		return c, fmt.Errorf("frame count must be at least 1")
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	c.ClusterMaxMillis = webm.ClampClusterMax(c.ClusterMaxMillis)
	return c, nil
}

// KeyframeInterval is the frame distance between forced keyframes, about
// two seconds of video.
func (c VideoConfig) KeyframeInterval() int {
	return int(c.FPS) * 2
}

// VideoDeps are the host collaborators of a video export.
type VideoDeps struct {
	Render   RenderFunc
	Surface  Surface
	Encoders VideoEncoderFactory
	Progress ProgressFunc
	Logger   *slog.Logger
	// MuxingApp overrides the application name written into the header.
	MuxingApp string
}

// FrameTimestamp returns round(index * 1e6 / fps) microseconds.
func FrameTimestamp(index int, fps uint32) (uint64, error) {
	return binutil.MulDivRound(uint64(index), 1_000_000, uint64(fps))
}

// ExportVideo renders cfg.FrameCount frames, encodes them and returns a
// complete WebM stream. Any failure aborts the export without output.
func ExportVideo(ctx context.Context, cfg VideoConfig, deps VideoDeps) (*Result, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, newError(KindInvalidConfiguration, noFrame, err)
	}
	if deps.Render == nil || deps.Surface == nil || deps.Encoders == nil {
		return nil, newError(KindInvalidConfiguration, noFrame, fmt.Errorf("render, surface and encoder are required"))
	}
	logger := exportLogger(deps.Logger)

	encCfg := EncoderConfig{
		Codec:            cfg.Codec,
		Width:            cfg.Width,
		Height:           cfg.Height,
		FPS:              cfg.FPS,
		Bitrate:          cfg.Bitrate,
		KeyframeInterval: cfg.KeyframeInterval(),
	}
	supported, err := deps.Encoders.IsConfigSupported(ctx, encCfg)
	if err != nil {
		return nil, newError(KindUnsupportedEncoderConfiguration, noFrame, err)
	}
	if !supported {
		return nil, newError(KindUnsupportedEncoderConfiguration, noFrame,
			fmt.Errorf("%s %dx%d@%d %dbps", cfg.Codec, cfg.Width, cfg.Height, cfg.FPS, cfg.Bitrate))
	}

	if w, h := deps.Surface.Size(); w <= 0 || h <= 0 {
		return nil, newError(KindSourceNotReady, noFrame, fmt.Errorf("surface is %dx%d", w, h))
	}

	muxer, err := webm.NewMuxer(webm.Config{
		Width:            cfg.Width,
		Height:           cfg.Height,
		FPS:              cfg.FPS,
		Codec:            cfg.Codec,
		ClusterMaxMillis: cfg.ClusterMaxMillis,
		MuxingApp:        deps.MuxingApp,
		WritingApp:       deps.MuxingApp,
	}, webm.WithLogger(logger.With("component", "webm_muxer")))
	if err != nil {
		return nil, newError(KindInvalidConfiguration, noFrame, err)
	}

	collector := &chunkCollector{}
	encoder, err := deps.Encoders.NewVideoEncoder(ctx, encCfg, collector)
	if err != nil {
		return nil, newError(KindUnsupportedEncoderConfiguration, noFrame, errors.Wrap(err, "failed to create encoder"))
	}
	closed := false
	defer func() {
		if !closed {
			if cerr := encoder.Close(); cerr != nil {
				logger.Warn("Encoder close error after failed export", "error", cerr)
			}
		}
	}()

	logger.Info("Video export started",
		"codec", cfg.Codec,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"frames", cfg.FrameCount,
		"cluster_max_ms", cfg.ClusterMaxMillis)
	start := time.Now()

	drain := func() error {
		chunks, cerr := collector.drain()
		if cerr != nil {
			return cerr
		}
		for _, c := range chunks {
			if err := muxer.AddChunk(c); err != nil {
				return newError(KindMuxFailure, noFrame, err)
			}
		}
		return nil
	}

	total := int(cfg.FrameCount)
	dt := 1 / float64(cfg.FPS)
	keyInterval := cfg.KeyframeInterval()

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindCanceled, i, err)
		}

		if err := deps.Render(ctx, i, float64(i)/float64(cfg.FPS), dt); err != nil {
			return nil, newError(KindRenderFailure, i, err)
		}
		if err := deps.Surface.Finish(ctx); err != nil {
			return nil, newError(KindFrameCaptureFailure, i, errors.Wrap(err, "failed to finish draw work"))
		}
		img, err := deps.Surface.Capture(ctx)
		if err != nil {
			return nil, newError(KindFrameCaptureFailure, i, err)
		}

		ts, err := FrameTimestamp(i, cfg.FPS)
		if err != nil {
			return nil, newError(KindInvalidConfiguration, i, err)
		}
		next, err := FrameTimestamp(i+1, cfg.FPS)
		if err != nil {
			return nil, newError(KindInvalidConfiguration, i, err)
		}

		frame := VideoFrame{Index: i, TimestampMicros: ts, DurationMicros: next - ts, Image: img}
		keyframe := i == 0 || i%keyInterval == 0
		if err := encoder.Encode(ctx, frame, keyframe); err != nil {
			return nil, newError(KindEncodeFailure, i, err)
		}
		if err := drain(); err != nil {
			return nil, err
		}

		if encoder.QueueSize() > MaxEncoderQueue {
			logger.Debug("Encoder backlog, waiting", "frame", i, "queue", encoder.QueueSize())
			if err := encoder.Flush(ctx); err != nil {
				return nil, newError(KindEncodeFailure, i, errors.Wrap(err, "flush"))
			}
			if err := drain(); err != nil {
				return nil, err
			}
			if q := encoder.QueueSize(); q > MaxEncoderQueue {
				logger.Warn("Encoder queue still above limit after flush", "frame", i, "queue", q)
			}
		}

		report(deps.Progress, Progress{Stage: StageRender, Frame: i + 1, Total: total, Bytes: muxer.Stats().Bytes})
	}

	report(deps.Progress, Progress{Stage: StageDrain, Frame: total, Total: total, Bytes: muxer.Stats().Bytes})
	if err := encoder.Flush(ctx); err != nil {
		return nil, newError(KindEncodeFailure, noFrame, errors.Wrap(err, "final flush"))
	}
	if err := drain(); err != nil {
		return nil, err
	}
	closed = true
	if err := encoder.Close(); err != nil {
		return nil, newError(KindEncodeFailure, noFrame, errors.Wrap(err, "close"))
	}
	// Close may deliver trailing output or a late failure.
	if err := drain(); err != nil {
		return nil, err
	}

	report(deps.Progress, Progress{Stage: StageFinalize, Frame: total, Total: total, Bytes: muxer.Stats().Bytes})
	data, err := muxer.Finalize()
	if err != nil {
		return nil, newError(KindMuxFailure, noFrame, err)
	}
	stats := muxer.Stats()

	logger.Info("Video export finished",
		"frames", total,
		"clusters", stats.Clusters,
		"blocks", stats.Blocks,
		"bytes", len(data),
		"duration", time.Since(start).Truncate(time.Millisecond))
	report(deps.Progress, Progress{Stage: StageDone, Frame: total, Total: total, Bytes: len(data)})

	return &Result{
		Data:     data,
		MIMEType: webm.MIMEType,
		Frames:   total,
		Video:    &stats,
	}, nil
}

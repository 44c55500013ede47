package export

import (
	"context"
	"image"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

// RenderFunc draws frame index at elapsed time t with step dt, both in
// seconds, onto the surface the export captures from.
type RenderFunc func(ctx context.Context, index int, t, dt float64) error

// Surface is the drawable the renderer targets.
type Surface interface {
	Size() (width, height int)
	// Finish blocks until all pending draw work has completed.
	Finish(ctx context.Context) error
	// Capture snapshots the current contents.
	Capture(ctx context.Context) (image.Image, error)
}

// ImageEncoder turns a captured frame into still-image bytes.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img image.Image) ([]byte, error)
	// Extension is appended to archive entry names, e.g. ".png".
	Extension() string
}

// EncoderConfig is what a video encoder is asked to support.
type EncoderConfig struct {
	Codec   string
	Width   uint32
	Height  uint32
	FPS     uint32
	Bitrate uint32
	// KeyframeInterval is the frame distance between requested keyframes.
	KeyframeInterval int
}

// VideoFrame is one captured frame submitted for encoding.
type VideoFrame struct {
	Index           int
	TimestampMicros uint64
	DurationMicros  uint64
	Image           image.Image
}

// ChunkSink receives encoder output. Implementations of VideoEncoder may call
// it from any goroutine.
type ChunkSink interface {
	WriteChunk(chunk webm.EncodedChunk)
	// Fail reports an encode error for frame, or -1 when no frame applies.
	Fail(frame int, err error)
}

// VideoEncoderFactory is the host's video encode capability.
type VideoEncoderFactory interface {
	IsConfigSupported(ctx context.Context, cfg EncoderConfig) (bool, error)
	NewVideoEncoder(ctx context.Context, cfg EncoderConfig, sink ChunkSink) (VideoEncoder, error)
}

// VideoEncoder compresses frames asynchronously and delivers chunks to its sink.
type VideoEncoder interface {
	Encode(ctx context.Context, frame VideoFrame, keyframe bool) error
	// QueueSize is the number of submitted frames not yet delivered.
	QueueSize() int
	// Flush waits for submitted frames to be delivered. It may return early
	// when the encoder stalls; frames still queued are delivered by Close.
	Flush(ctx context.Context) error
	Close() error
}

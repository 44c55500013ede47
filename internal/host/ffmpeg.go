package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/vp9"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
)

var vpxCodecPattern = regexp.MustCompile(`(?i)^vp0?[89]($|\.)`)

// FFmpegFactory creates encoders backed by an ffmpeg child process. Raw RGBA
// frames go in on stdin and IVF packets come back on stdout.
type FFmpegFactory struct {
	Binary string
	Logger *slog.Logger

	lookPath func(string) (string, error)
}

// NewFFmpegFactory uses binary, or "ffmpeg" from PATH when empty.
func NewFFmpegFactory(binary string) *FFmpegFactory {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegFactory{
		Binary:   binary,
		Logger:   util.GetLogger().With("component", "ffmpeg_encoder"),
		lookPath: exec.LookPath,
	}
}

// IsConfigSupported accepts VP8/VP9 codec strings when the ffmpeg binary exists.
func (f *FFmpegFactory) IsConfigSupported(ctx context.Context, cfg export.EncoderConfig) (bool, error) {
	if !vpxCodecPattern.MatchString(cfg.Codec) {
		return false, nil
	}
	if cfg.Width == 0 || cfg.Height == 0 || cfg.FPS == 0 {
		return false, nil
	}
	if _, err := f.lookPath(f.Binary); err != nil {
		return false, fmt.Errorf("ffmpeg not available: %w", err)
	}
	return true, nil
}

func ffmpegArgs(cfg export.EncoderConfig) []string {
	lib := "libvpx-vp9"
	if webm.CodecFamily(cfg.Codec) == "vp8" {
		lib = "libvpx"
	}
	keyint := cfg.KeyframeInterval
	if keyint <= 0 {
		keyint = int(cfg.FPS) * 2
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(int(cfg.FPS)),
		"-i", "pipe:0",
		"-c:v", lib,
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(keyint),
		"-keyint_min", strconv.Itoa(keyint),
		"-force_key_frames", fmt.Sprintf("expr:eq(mod(n,%d),0)", keyint),
		// One packet out per frame in, as soon as it is encoded.
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-lag-in-frames", "0",
		"-auto-alt-ref", "0",
	}
	if cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(int(cfg.Bitrate)))
	}
	return append(args, "-flush_packets", "1", "-f", "ivf", "pipe:1")
}

// NewVideoEncoder starts the ffmpeg process.
func (f *FFmpegFactory) NewVideoEncoder(ctx context.Context, cfg export.EncoderConfig, sink export.ChunkSink) (export.VideoEncoder, error) {
	e := newFFmpegEncoder(cfg, sink, f.Logger)

	e.cmd = exec.CommandContext(ctx, f.Binary, ffmpegArgs(cfg)...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	if err := e.cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	e.stdin = stdin

	e.logger.Info("FFmpeg encoder started", "pid", e.cmd.Process.Pid, "codec", cfg.Codec)
	go e.consume(stdout)
	return e, nil
}

type submission struct {
	index           int
	timestampMicros uint64
}

// FFmpegEncoder implements export.VideoEncoder.
type FFmpegEncoder struct {
	cfg    export.EncoderConfig
	family string
	sink   export.ChunkSink
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	frame  *image.RGBA

	mu        sync.Mutex
	inflight  []submission
	delivered chan struct{}
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
	closeErr  error

	stallTimeout time.Duration
}

func newFFmpegEncoder(cfg export.EncoderConfig, sink export.ChunkSink, logger *slog.Logger) *FFmpegEncoder {
	if logger == nil {
		logger = util.GetLogger().With("component", "ffmpeg_encoder")
	}
	return &FFmpegEncoder{
		cfg:       cfg,
		family:    webm.CodecFamily(cfg.Codec),
		sink:      sink,
		logger:    logger,
		frame:     image.NewRGBA(image.Rect(0, 0, int(cfg.Width), int(cfg.Height))),
		delivered: make(chan struct{}, 1),
		done:      make(chan struct{}),

		stallTimeout: 2 * time.Second,
	}
}

// Encode writes one raw frame to ffmpeg. Keyframes follow the GOP passed on
// the command line, which matches the keyframe schedule of the exporter.
func (e *FFmpegEncoder) Encode(ctx context.Context, f export.VideoFrame, keyframe bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return e.exitError()
	default:
	}

	draw.Draw(e.frame, e.frame.Rect, f.Image, f.Image.Bounds().Min, draw.Src)

	e.mu.Lock()
	e.inflight = append(e.inflight, submission{index: f.Index, timestampMicros: f.TimestampMicros})
	e.mu.Unlock()

	if _, err := e.stdin.Write(e.frame.Pix); err != nil {
		return fmt.Errorf("failed to write frame %d to ffmpeg: %w", f.Index, err)
	}
	return nil
}

// QueueSize returns frames written but not yet returned by ffmpeg.
func (e *FFmpegEncoder) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Flush waits until ffmpeg has returned every written frame. ffmpeg may hold
// its last few frames until the input ends, so Flush also returns once no
// packet has arrived for stallTimeout; the held frames are delivered by Close.
func (e *FFmpegEncoder) Flush(ctx context.Context) error {
	timer := time.NewTimer(e.stallTimeout)
	defer timer.Stop()
	for {
		if e.QueueSize() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			if e.QueueSize() == 0 {
				return nil
			}
			return e.exitError()
		case <-timer.C:
			e.logger.Debug("FFmpeg output stalled, leaving frames to Close", "pending", e.QueueSize())
			return nil
		case <-e.delivered:
			timer.Reset(e.stallTimeout)
		}
	}
}

// Close ends the input and waits for ffmpeg to exit.
func (e *FFmpegEncoder) Close() error {
	e.closeOnce.Do(func() {
		if e.stdin != nil {
			e.stdin.Close()
		}
		if e.cmd == nil {
			return
		}
		<-e.done
		if err := e.cmd.Wait(); err != nil {
			e.closeErr = fmt.Errorf("ffmpeg exited: %w: %s", err, bytes.TrimSpace(e.stderr.Bytes()))
		}
		e.logger.Debug("FFmpeg encoder closed", "error", e.closeErr)
	})
	return e.closeErr
}

func (e *FFmpegEncoder) exitError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return e.readErr
	}
	return fmt.Errorf("ffmpeg stopped with %d frames pending", len(e.inflight))
}

// consume reads IVF packets and hands them to the sink in submission order.
func (e *FFmpegEncoder) consume(r io.Reader) {
	defer close(e.done)

	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		e.fail(-1, fmt.Errorf("failed to read IVF header: %w", err))
		return
	}
	e.logger.Debug("IVF stream opened", "fourcc", header.FourCC, "width", header.Width, "height", header.Height)

	for {
		payload, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if n := e.QueueSize(); n > 0 {
				e.fail(-1, fmt.Errorf("ffmpeg ended with %d frames pending", n))
			}
			return
		}
		if err != nil {
			e.fail(-1, fmt.Errorf("failed to read IVF frame: %w", err))
			return
		}

		e.mu.Lock()
		if len(e.inflight) == 0 {
			e.mu.Unlock()
			e.fail(-1, fmt.Errorf("ffmpeg returned more packets than frames submitted"))
			return
		}
		sub := e.inflight[0]
		e.mu.Unlock()

		e.sink.WriteChunk(webm.EncodedChunk{
			TimestampMicros: sub.timestampMicros,
			Keyframe:        isKeyframe(e.family, payload),
			Payload:         payload,
		})

		e.mu.Lock()
		e.inflight = e.inflight[1:]
		e.mu.Unlock()

		select {
		case e.delivered <- struct{}{}:
		default:
		}
	}
}

func (e *FFmpegEncoder) fail(frame int, err error) {
	e.mu.Lock()
	if len(e.inflight) > 0 && frame < 0 {
		frame = e.inflight[0].index
	}
	if e.readErr == nil {
		e.readErr = err
	}
	e.mu.Unlock()

	e.logger.Warn("FFmpeg encoder failed", "frame", frame, "error", err)
	e.sink.Fail(frame, err)
}

// isKeyframe inspects the codec frame header.
func isKeyframe(family string, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	if family == "vp8" {
		// Bit 0 of the frame tag is 0 for key frames.
		return payload[0]&0x01 == 0
	}
	var h vp9.Header
	if err := h.Unmarshal(payload); err != nil {
		return false
	}
	return !h.ShowExistingFrame && !h.NonKeyFrame
}

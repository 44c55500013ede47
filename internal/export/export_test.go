package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/probe"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSurface struct {
	width, height int
	last          int
	finishes      int
	captureErr    error
}

func (s *fakeSurface) Size() (int, int) { return s.width, s.height }

func (s *fakeSurface) Finish(ctx context.Context) error {
	s.finishes++
	return nil
}

func (s *fakeSurface) Capture(ctx context.Context) (image.Image, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	img.SetGray(0, 0, color.Gray{Y: uint8(s.last)})
	return img, nil
}

type renderCall struct {
	index int
	t, dt float64
}

type fakeRenderer struct {
	surface *fakeSurface
	calls   []renderCall
	failAt  int
}

func newRenderer(s *fakeSurface) *fakeRenderer {
	return &fakeRenderer{surface: s, failAt: -1}
}

func (r *fakeRenderer) Render(ctx context.Context, index int, t, dt float64) error {
	if index == r.failAt {
		return errors.New("scene exploded")
	}
	r.calls = append(r.calls, renderCall{index, t, dt})
	r.surface.last = index
	return nil
}

// fakeEncoder holds frames until Flush when deferred is set, otherwise it
// delivers each chunk immediately.
type fakeEncoder struct {
	mu        sync.Mutex
	sink      ChunkSink
	deferred  bool
	failAt    int
	pending   []webm.EncodedChunk
	keyframes []int
	maxQueue  int
	flushes   int
	stalled   bool
	closed    bool
}

func (e *fakeEncoder) Encode(ctx context.Context, f VideoFrame, keyframe bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if keyframe {
		e.keyframes = append(e.keyframes, f.Index)
	}
	if f.Index == e.failAt {
		e.sink.Fail(f.Index, errors.New("codec rejected frame"))
		return nil
	}
	gray := f.Image.(*image.Gray)
	chunk := webm.EncodedChunk{
		TimestampMicros: f.TimestampMicros,
		Keyframe:        keyframe,
		Payload:         []byte{0xF0, gray.GrayAt(0, 0).Y},
	}
	if !e.deferred {
		e.sink.WriteChunk(chunk)
		return nil
	}
	e.pending = append(e.pending, chunk)
	if len(e.pending) > e.maxQueue {
		e.maxQueue = len(e.pending)
	}
	return nil
}

func (e *fakeEncoder) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *fakeEncoder) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushes++
	if e.stalled {
		return nil
	}
	for _, c := range e.pending {
		e.sink.WriteChunk(c)
	}
	e.pending = nil
	return nil
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, c := range e.pending {
		e.sink.WriteChunk(c)
	}
	e.pending = nil
	return nil
}

type fakeFactory struct {
	supported bool
	encoder   *fakeEncoder
	created   int
}

func (f *fakeFactory) IsConfigSupported(ctx context.Context, cfg EncoderConfig) (bool, error) {
	return f.supported, nil
}

func (f *fakeFactory) NewVideoEncoder(ctx context.Context, cfg EncoderConfig, sink ChunkSink) (VideoEncoder, error) {
	f.created++
	f.encoder.sink = sink
	return f.encoder, nil
}

type videoFixture struct {
	surface  *fakeSurface
	renderer *fakeRenderer
	encoder  *fakeEncoder
	factory  *fakeFactory
}

func newVideoFixture() *videoFixture {
	s := &fakeSurface{width: 64, height: 48}
	enc := &fakeEncoder{failAt: -1}
	return &videoFixture{
		surface:  s,
		renderer: newRenderer(s),
		encoder:  enc,
		factory:  &fakeFactory{supported: true, encoder: enc},
	}
}

func (f *videoFixture) deps() VideoDeps {
	return VideoDeps{
		Render:   f.renderer.Render,
		Surface:  f.surface,
		Encoders: f.factory,
		Logger:   quietLogger,
	}
}

func videoConfig(frames uint32) VideoConfig {
	return VideoConfig{Width: 64, Height: 48, FPS: 30, FrameCount: frames, Codec: "vp8", Bitrate: 1_000_000, ClusterMaxMillis: 3000}
}

func TestExportVideoThreeFrames(t *testing.T) {
	f := newVideoFixture()
	res, err := ExportVideo(context.Background(), videoConfig(3), f.deps())
	require.NoError(t, err)
	assert.Equal(t, "video/webm", res.MIMEType)
	assert.Equal(t, 3, res.Frames)

	s, err := probe.InspectWebM(bytes.NewReader(res.Data))
	require.NoError(t, err)
	require.Len(t, s.Tracks, 1)
	assert.Equal(t, "V_VP8", s.Tracks[0].CodecID)
	require.Len(t, s.Clusters, 1)
	c := s.Clusters[0]
	require.Len(t, c.Blocks, 3)
	assert.Equal(t, int16(0), c.Blocks[0].Timecode)
	assert.Equal(t, int16(33), c.Blocks[1].Timecode)
	assert.Equal(t, int16(67), c.Blocks[2].Timecode)
	assert.True(t, c.Blocks[0].Keyframe)
	assert.False(t, c.Blocks[1].Keyframe)
	assert.False(t, c.Blocks[2].Keyframe)

	require.Len(t, f.renderer.calls, 3)
	for i, call := range f.renderer.calls {
		assert.Equal(t, i, call.index)
		assert.InDelta(t, float64(i)/30, call.t, 1e-12)
		assert.InDelta(t, 1.0/30, call.dt, 1e-12)
	}
	assert.Equal(t, 3, f.surface.finishes)
	assert.True(t, f.encoder.closed)
}

func TestExportVideoKeyframeSchedule(t *testing.T) {
	f := newVideoFixture()
	_, err := ExportVideo(context.Background(), videoConfig(130), f.deps())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 60, 120}, f.encoder.keyframes)
}

func TestExportVideoBackpressure(t *testing.T) {
	f := newVideoFixture()
	f.encoder.deferred = true

	res, err := ExportVideo(context.Background(), videoConfig(40), f.deps())
	require.NoError(t, err)

	assert.LessOrEqual(t, f.encoder.maxQueue, MaxEncoderQueue+1)
	assert.Greater(t, f.encoder.flushes, 1)

	s, err := probe.InspectWebM(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, s.BlockCount())
}

func TestExportVideoStalledFlush(t *testing.T) {
	f := newVideoFixture()
	f.encoder.deferred = true
	f.encoder.stalled = true
	var logs bytes.Buffer
	deps := f.deps()
	deps.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	res, err := ExportVideo(context.Background(), videoConfig(20), deps)
	require.NoError(t, err)

	assert.Greater(t, f.encoder.maxQueue, MaxEncoderQueue)
	assert.Contains(t, logs.String(), "Encoder queue still above limit after flush")
	assert.True(t, f.encoder.closed)

	s, err := probe.InspectWebM(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 20, s.BlockCount())
}

func TestExportVideoMatchesFrameGrid(t *testing.T) {
	f := newVideoFixture()
	res, err := ExportVideo(context.Background(), videoConfig(200), f.deps())
	require.NoError(t, err)

	s, err := probe.InspectWebM(bytes.NewReader(res.Data))
	require.NoError(t, err)
	i := 0
	for _, c := range s.Clusters {
		for _, b := range c.Blocks {
			us, err := FrameTimestamp(i, 30)
			require.NoError(t, err)
			ms, err := binutil.MulDivRound(us, 1, 1000)
			require.NoError(t, err)
			assert.Equal(t, ms, b.AbsoluteMsec, "frame %d", i)
			i++
		}
	}
	assert.Equal(t, 200, i)
	assert.GreaterOrEqual(t, len(s.Clusters), 3)
}

func TestExportVideoDeterministic(t *testing.T) {
	run := func() []byte {
		f := newVideoFixture()
		f.encoder.deferred = true
		res, err := ExportVideo(context.Background(), videoConfig(75), f.deps())
		require.NoError(t, err)
		return res.Data
	}
	assert.Equal(t, run(), run())
}

func TestExportVideoUnsupported(t *testing.T) {
	f := newVideoFixture()
	f.factory.supported = false

	res, err := ExportVideo(context.Background(), videoConfig(3), f.deps())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnsupportedEncoderConfiguration)
	assert.Equal(t, KindUnsupportedEncoderConfiguration, KindOf(err))
	assert.Empty(t, f.renderer.calls)
	assert.Zero(t, f.factory.created)
}

func TestExportVideoSourceNotReady(t *testing.T) {
	f := newVideoFixture()
	f.surface.width = 0

	_, err := ExportVideo(context.Background(), videoConfig(3), f.deps())
	assert.ErrorIs(t, err, ErrSourceNotReady)
	assert.Empty(t, f.renderer.calls)
}

func TestExportVideoInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  VideoConfig
	}{
		{"no frames", VideoConfig{Width: 4, Height: 4, FPS: 30}},
		{"no fps", VideoConfig{Width: 4, Height: 4, FrameCount: 1}},
		{"no width", VideoConfig{Height: 4, FPS: 30, FrameCount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVideoFixture()
			_, err := ExportVideo(context.Background(), tt.cfg, f.deps())
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestExportVideoEncoderFailure(t *testing.T) {
	f := newVideoFixture()
	f.encoder.failAt = 2

	res, err := ExportVideo(context.Background(), videoConfig(10), f.deps())
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrEncodeFailure)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, 2, exportErr.Frame)
	assert.Len(t, f.renderer.calls, 3, "no frame rendered after the failing one")
	assert.True(t, f.encoder.closed)
}

func TestExportVideoRenderFailure(t *testing.T) {
	f := newVideoFixture()
	f.renderer.failAt = 4

	_, err := ExportVideo(context.Background(), videoConfig(10), f.deps())
	assert.ErrorIs(t, err, ErrRenderFailure)
	assert.Contains(t, err.Error(), "frame 4")
}

func TestExportVideoCaptureFailure(t *testing.T) {
	f := newVideoFixture()
	f.surface.captureErr = errors.New("context lost")

	_, err := ExportVideo(context.Background(), videoConfig(10), f.deps())
	assert.ErrorIs(t, err, ErrFrameCaptureFailure)
}

func TestExportVideoCanceled(t *testing.T) {
	f := newVideoFixture()
	ctx, cancel := context.WithCancel(context.Background())
	deps := f.deps()
	deps.Progress = func(p Progress) {
		if p.Frame == 5 {
			cancel()
		}
	}

	_, err := ExportVideo(ctx, videoConfig(10), deps)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.renderer.calls, 5)
}

func TestExportVideoProgress(t *testing.T) {
	f := newVideoFixture()
	var events []Progress
	deps := f.deps()
	deps.Progress = func(p Progress) { events = append(events, p) }

	res, err := ExportVideo(context.Background(), videoConfig(4), deps)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, StageRender, events[0].Stage)
	assert.Equal(t, 1, events[0].Frame)
	last := events[len(events)-1]
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, len(res.Data), last.Bytes)
}

// asyncEncoder delivers from a worker goroutine, like a hardware encoder.
type asyncEncoder struct {
	sink    ChunkSink
	frames  chan VideoFrame
	keys    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

func newAsyncEncoder(sink ChunkSink) *asyncEncoder {
	e := &asyncEncoder{
		sink:   sink,
		frames: make(chan VideoFrame, 64),
		keys:   make(chan bool, 64),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *asyncEncoder) run() {
	defer close(e.done)
	for f := range e.frames {
		key := <-e.keys
		e.sink.WriteChunk(webm.EncodedChunk{TimestampMicros: f.TimestampMicros, Keyframe: key, Payload: []byte{byte(f.Index)}})
		e.mu.Lock()
		e.pending--
		e.mu.Unlock()
		e.wg.Done()
	}
}

func (e *asyncEncoder) Encode(ctx context.Context, f VideoFrame, key bool) error {
	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	e.wg.Add(1)
	e.frames <- f
	e.keys <- key
	return nil
}

func (e *asyncEncoder) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *asyncEncoder) Flush(ctx context.Context) error {
	e.wg.Wait()
	return nil
}

func (e *asyncEncoder) Close() error {
	close(e.frames)
	<-e.done
	return nil
}

type asyncFactory struct{}

func (asyncFactory) IsConfigSupported(ctx context.Context, cfg EncoderConfig) (bool, error) {
	return true, nil
}

func (asyncFactory) NewVideoEncoder(ctx context.Context, cfg EncoderConfig, sink ChunkSink) (VideoEncoder, error) {
	return newAsyncEncoder(sink), nil
}

func TestExportVideoAsyncEncoder(t *testing.T) {
	s := &fakeSurface{width: 8, height: 8}
	r := newRenderer(s)
	res, err := ExportVideo(context.Background(), videoConfig(90), VideoDeps{
		Render:   r.Render,
		Surface:  s,
		Encoders: asyncFactory{},
		Logger:   quietLogger,
	})
	require.NoError(t, err)

	summary, err := probe.InspectWebM(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 90, summary.BlockCount())
}

type fakeImageEncoder struct {
	failAt int
	calls  int
}

func (e *fakeImageEncoder) EncodeImage(ctx context.Context, img image.Image) ([]byte, error) {
	defer func() { e.calls++ }()
	if e.calls == e.failAt {
		return nil, errors.New("png: invalid format")
	}
	gray := img.(*image.Gray)
	return []byte{'I', 'M', 'G', gray.GrayAt(0, 0).Y}, nil
}

func (e *fakeImageEncoder) Extension() string { return ".png" }

func TestExportImageSequence(t *testing.T) {
	s := &fakeSurface{width: 8, height: 8}
	r := newRenderer(s)
	res, err := ExportImageSequenceArchive(context.Background(), ImageSequenceConfig{FrameCount: 3}, ImageDeps{
		Render:  r.Render,
		Surface: s,
		Images:  &fakeImageEncoder{failAt: -1},
		Logger:  quietLogger,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/zip", res.MIMEType)
	assert.Equal(t, 3, res.Entries)

	summary, err := probe.InspectZip(res.Data)
	require.NoError(t, err)
	require.Len(t, summary.Entries, 3)

	var offset int64
	for i, e := range summary.Entries {
		assert.Equal(t, EntryName("frame", i, ".png"), e.Name)
		want := []byte{'I', 'M', 'G', byte(i)}
		assert.Equal(t, binutil.CRC32(want), e.CRC32)
		assert.Equal(t, uint64(len(want)), e.Size)
		assert.Equal(t, offset, e.HeaderOffset)
		offset += int64(30 + len(e.Name) + len(want))
	}
	assert.Equal(t, "frame_000002.png", summary.Entries[2].Name)
}

func TestExportImageSequencePrefix(t *testing.T) {
	s := &fakeSurface{width: 8, height: 8}
	r := newRenderer(s)
	res, err := ExportImageSequenceArchive(context.Background(), ImageSequenceConfig{FrameCount: 2, FilePrefix: "shot"}, ImageDeps{
		Render:  r.Render,
		Surface: s,
		Images:  &fakeImageEncoder{failAt: -1},
		Logger:  quietLogger,
	})
	require.NoError(t, err)

	summary, err := probe.InspectZip(res.Data)
	require.NoError(t, err)
	assert.Equal(t, "shot_000001.png", summary.Entries[1].Name)
}

func TestExportImageSequenceEncodeFailure(t *testing.T) {
	s := &fakeSurface{width: 8, height: 8}
	r := newRenderer(s)
	res, err := ExportImageSequenceArchive(context.Background(), ImageSequenceConfig{FrameCount: 5}, ImageDeps{
		Render:  r.Render,
		Surface: s,
		Images:  &fakeImageEncoder{failAt: 1},
		Logger:  quietLogger,
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrImageEncodeFailure)
	assert.Len(t, r.calls, 2)
}

func TestExportImageSequenceSourceNotReady(t *testing.T) {
	s := &fakeSurface{}
	r := newRenderer(s)
	_, err := ExportImageSequenceArchive(context.Background(), ImageSequenceConfig{FrameCount: 1}, ImageDeps{
		Render:  r.Render,
		Surface: s,
		Images:  &fakeImageEncoder{failAt: -1},
		Logger:  quietLogger,
	})
	assert.ErrorIs(t, err, ErrSourceNotReady)
}

func TestErrorFormatting(t *testing.T) {
	err := newError(KindEncodeFailure, 12, errors.New("boom"))
	assert.Equal(t, "video encode failed at frame 12: boom", err.Error())
	assert.Equal(t, "unsupported encoder configuration", newError(KindUnsupportedEncoderConfiguration, noFrame, nil).Error())
	assert.False(t, errors.Is(err, ErrRenderFailure))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

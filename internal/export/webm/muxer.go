// Package webm writes a single-video-track WebM stream. Clusters are built in
// memory and serialized when they close, so every element carries its exact
// size except the streaming Segment.
package webm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export/ebml"
)

const trackNumber = 1

var (
	ErrFinalized     = errors.New("muxer already finalized")
	ErrInvalidConfig = errors.New("invalid muxer configuration")
	ErrNonMonotonic  = errors.New("chunk timestamp goes backwards")
	ErrTimecodeRange = errors.New("block timecode outside signed 16-bit range")
)

// EncodedChunk is one compressed frame handed over by a video encoder.
type EncodedChunk struct {
	TimestampMicros uint64
	Keyframe        bool
	Payload         []byte
}

// Stats describes what a muxer has written so far.
type Stats struct {
	Clusters  int
	Blocks    int
	Keyframes int
	Bytes     int
}

type cluster struct {
	startMillis uint64
	blocks      [][]byte
	size        int
}

// Muxer accumulates encoded chunks into clusters. It is not safe for
// concurrent use.
type Muxer struct {
	cfg    Config
	logger *slog.Logger

	out       bytes.Buffer
	open      *cluster
	lastMicro uint64
	started   bool
	finalized bool
	stats     Stats
}

// Option customizes a Muxer.
type Option func(*Muxer)

// WithLogger sets the logger used for cluster diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Muxer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMuxer validates cfg and writes the stream header.
func NewMuxer(cfg Config, opts ...Option) (*Muxer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Muxer{
		cfg:    cfg,
		logger: slog.With("component", "webm_muxer"),
	}
	for _, opt := range opts {
		opt(m)
	}

	header, err := buildHeader(cfg)
	if err != nil {
		return nil, err
	}
	m.out.Write(header)
	m.logger.Debug("WebM header written",
		"codec_id", CodecID(cfg.Codec),
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"size", len(header))
	return m, nil
}

func buildHeader(cfg Config) ([]byte, error) {
	frameDuration, err := binutil.MulDivRound(1_000_000_000, 1, uint64(cfg.FPS))
	if err != nil {
		return nil, err
	}

	ebmlHeader := ebml.Master(ebml.IDEBML,
		ebml.Uint(ebml.IDEBMLVersion, 1),
		ebml.Uint(ebml.IDEBMLReadVersion, 1),
		ebml.Uint(ebml.IDEBMLMaxIDLength, 4),
		ebml.Uint(ebml.IDEBMLMaxSizeLength, 8),
		ebml.String(ebml.IDDocType, "webm"),
		ebml.Uint(ebml.IDDocTypeVersion, 2),
		ebml.Uint(ebml.IDDocTypeReadVersion, 2),
	)

	info := ebml.Master(ebml.IDInfo,
		ebml.Uint(ebml.IDTimecodeScale, 1_000_000),
		ebml.String(ebml.IDMuxingApp, cfg.MuxingApp),
		ebml.String(ebml.IDWritingApp, cfg.WritingApp),
	)

	tracks := ebml.Master(ebml.IDTracks,
		ebml.Master(ebml.IDTrackEntry,
			ebml.Uint(ebml.IDTrackNumber, trackNumber),
			ebml.Uint(ebml.IDTrackUID, trackNumber),
			ebml.Uint(ebml.IDTrackType, 1),
			ebml.String(ebml.IDCodecID, CodecID(cfg.Codec)),
			ebml.Uint(ebml.IDDefaultDuration, frameDuration),
			ebml.Master(ebml.IDVideo,
				ebml.Uint(ebml.IDPixelWidth, uint64(cfg.Width)),
				ebml.Uint(ebml.IDPixelHeight, uint64(cfg.Height)),
			),
		),
	)

	return ebml.Concat(
		ebmlHeader,
		ebml.IDSegment.Bytes(),
		binutil.UnknownSize,
		info,
		tracks,
	), nil
}

// AddChunk appends one encoded frame. Chunks must arrive in timestamp order.
// The payload is copied.
func (m *Muxer) AddChunk(chunk EncodedChunk) error {
	if m.finalized {
		return ErrFinalized
	}
	if m.started && chunk.TimestampMicros < m.lastMicro {
		return fmt.Errorf("%w: %dus after %dus", ErrNonMonotonic, chunk.TimestampMicros, m.lastMicro)
	}

	ms, err := binutil.MulDivRound(chunk.TimestampMicros, 1, 1000)
	if err != nil {
		return err
	}

	switch {
	case m.open == nil:
		m.openCluster(ms)
	case ms-m.open.startMillis >= uint64(m.cfg.ClusterMaxMillis):
		m.flushCluster()
		m.openCluster(ms)
	case chunk.Keyframe &&
		ms-m.open.startMillis > uint64(m.cfg.KeyframeSplitMillis) &&
		len(m.open.blocks) > m.cfg.KeyframeSplitMinBlocks:
		m.flushCluster()
		m.openCluster(ms)
	}

	rel := ms - m.open.startMillis
	if rel > 32767 {
		return fmt.Errorf("%w: %dms", ErrTimecodeRange, rel)
	}

	block := simpleBlock(int16(rel), chunk.Keyframe, chunk.Payload)
	m.open.blocks = append(m.open.blocks, block)
	m.open.size += len(block)

	m.started = true
	m.lastMicro = chunk.TimestampMicros
	m.stats.Blocks++
	if chunk.Keyframe {
		m.stats.Keyframes++
	}
	return nil
}

func simpleBlock(timecode int16, keyframe bool, payload []byte) []byte {
	var flags byte
	if keyframe {
		flags = 0x80
	}
	body := make([]byte, 0, 4+len(payload))
	body = append(body, binutil.MustVint(trackNumber)...)
	body = binary.BigEndian.AppendUint16(body, uint16(timecode))
	body = append(body, flags)
	body = append(body, payload...)
	return ebml.Element(ebml.IDSimpleBlock, body)
}

func (m *Muxer) openCluster(startMillis uint64) {
	m.open = &cluster{startMillis: startMillis}
}

// flushCluster serializes the open cluster. It is a no-op without one.
func (m *Muxer) flushCluster() {
	c := m.open
	if c == nil {
		return
	}
	m.open = nil

	children := make([][]byte, 0, len(c.blocks)+1)
	children = append(children, ebml.Uint(ebml.IDTimecode, c.startMillis))
	children = append(children, c.blocks...)
	el := ebml.Master(ebml.IDCluster, children...)
	m.out.Write(el)
	m.stats.Clusters++

	m.logger.Debug("Cluster flushed",
		"timecode_ms", c.startMillis,
		"blocks", len(c.blocks),
		"size", len(el))
}

// Finalize flushes the open cluster and returns the complete stream. The
// muxer cannot be used afterwards.
func (m *Muxer) Finalize() ([]byte, error) {
	if m.finalized {
		return nil, ErrFinalized
	}
	m.flushCluster()
	m.finalized = true

	out := m.out.Bytes()
	m.stats.Bytes = len(out)
	m.logger.Debug("WebM stream finalized",
		"clusters", m.stats.Clusters,
		"blocks", m.stats.Blocks,
		"bytes", len(out))
	return out, nil
}

// Stats returns counters for the stream written so far.
func (m *Muxer) Stats() Stats {
	s := m.stats
	if !m.finalized {
		s.Bytes = m.out.Len()
	}
	return s
}

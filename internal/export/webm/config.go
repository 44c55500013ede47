package webm

import (
	"fmt"
	"regexp"

	"github.com/vishalkuo/bimap"
)

const (
	// MIMEType labels the muxer output.
	MIMEType = "video/webm"

	// DefaultClusterMaxMillis is the cluster duration cap used when none is configured.
	DefaultClusterMaxMillis = 3000
	// MinClusterMaxMillis is the smallest cap ClampClusterMax allows.
	MinClusterMaxMillis = 250
	// MaxClusterMaxMillis keeps block timecodes well inside the signed 16-bit range.
	MaxClusterMaxMillis = 30000

	// DefaultKeyframeSplitMillis is how long a cluster must have run before a
	// keyframe starts a new one.
	DefaultKeyframeSplitMillis = 1000
	// DefaultKeyframeSplitMinBlocks is the block count a cluster must exceed
	// before a keyframe starts a new one.
	DefaultKeyframeSplitMinBlocks = 1

	defaultMuxingApp  = "gbox-frame-export"
	defaultWritingApp = "gbox-frame-export"
)

var vp8Pattern = regexp.MustCompile(`(?i)vp0?8`)

// codecIDs maps codec families to Matroska CodecID strings.
var codecIDs = func() *bimap.BiMap[string, string] {
	m := bimap.NewBiMap[string, string]()
	m.Insert("vp8", "V_VP8")
	m.Insert("vp9", "V_VP9")
	return m
}()

// CodecFamily returns "vp8" for codec strings that look like VP8 and "vp9"
// for everything else.
func CodecFamily(codec string) string {
	if vp8Pattern.MatchString(codec) {
		return "vp8"
	}
	return "vp9"
}

// CodecID returns the Matroska CodecID for a configured codec string.
func CodecID(codec string) string {
	id, _ := codecIDs.Get(CodecFamily(codec))
	return id
}

// FamilyForCodecID is the inverse of CodecID. ok is false for ids this
// package never writes.
func FamilyForCodecID(codecID string) (family string, ok bool) {
	return codecIDs.GetInverse(codecID)
}

// ClampClusterMax applies the default, floor and ceiling to a configured
// cluster duration cap.
func ClampClusterMax(ms uint32) uint32 {
	switch {
	case ms == 0:
		return DefaultClusterMaxMillis
	case ms < MinClusterMaxMillis:
		return MinClusterMaxMillis
	case ms > MaxClusterMaxMillis:
		return MaxClusterMaxMillis
	}
	return ms
}

// Config is fixed at construction.
type Config struct {
	Width  uint32
	Height uint32
	FPS    uint32
	Codec  string

	// ClusterMaxMillis caps the duration of a cluster. Zero selects
	// DefaultClusterMaxMillis.
	ClusterMaxMillis uint32
	// KeyframeSplitMillis and KeyframeSplitMinBlocks tune the early split on
	// keyframes. Zero selects the defaults.
	KeyframeSplitMillis    uint32
	KeyframeSplitMinBlocks int

	MuxingApp  string
	WritingApp string
}

func (c Config) withDefaults() Config {
	if c.ClusterMaxMillis == 0 {
		c.ClusterMaxMillis = DefaultClusterMaxMillis
	}
	if c.KeyframeSplitMillis == 0 {
		c.KeyframeSplitMillis = DefaultKeyframeSplitMillis
	}
	if c.KeyframeSplitMinBlocks == 0 {
		c.KeyframeSplitMinBlocks = DefaultKeyframeSplitMinBlocks
	}
	if c.MuxingApp == "" {
		c.MuxingApp = defaultMuxingApp
	}
	if c.WritingApp == "" {
		c.WritingApp = defaultWritingApp
	}
	return c
}

func (c Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPS == 0 {
		return fmt.Errorf("%w: fps must be at least 1", ErrInvalidConfig)
	}
	if c.ClusterMaxMillis > 32767 {
		return fmt.Errorf("%w: cluster cap %dms exceeds the 16-bit block timecode range", ErrInvalidConfig, c.ClusterMaxMillis)
	}
	if c.KeyframeSplitMinBlocks < 0 {
		return fmt.Errorf("%w: negative keyframe split block count", ErrInvalidConfig)
	}
	return nil
}

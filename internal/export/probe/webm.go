// Package probe reads exported files back with independent parsers and
// summarizes them. The WebM side uses at-wat/ebml-go, the ZIP side uses
// archive/zip, so a summary doubles as an interoperability check.
package probe

import (
	"fmt"
	"io"

	"github.com/at-wat/ebml-go"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/webm"
)

type webmContainer struct {
	Header  webmHeader `ebml:"EBML"`
	Segment webmSegment
}

type webmHeader struct {
	EBMLVersion            uint64
	EBMLReadVersion        uint64
	EBMLMaxIDLength        uint64
	EBMLMaxSizeLength      uint64
	EBMLDocType            string
	EBMLDocTypeVersion     uint64
	EBMLDocTypeReadVersion uint64
}

type webmInfo struct {
	TimecodeScale uint64
	MuxingApp     string
	WritingApp    string
}

type webmVideo struct {
	PixelWidth  uint64
	PixelHeight uint64
}

type webmTrackEntry struct {
	TrackNumber     uint64
	TrackUID        uint64
	TrackType       uint64
	CodecID         string
	DefaultDuration uint64
	Video           webmVideo
}

type webmTracks struct {
	TrackEntry []webmTrackEntry
}

type webmCluster struct {
	Timecode    uint64
	SimpleBlock []ebml.Block
}

type webmSegment struct {
	Info    webmInfo
	Tracks  webmTracks
	Cluster []webmCluster
}

// Block is one SimpleBlock as seen by the reference parser.
type Block struct {
	Track        uint64 `json:"track" toml:"track"`
	Timecode     int16  `json:"timecode" toml:"timecode"`
	AbsoluteMsec uint64 `json:"absolute_ms" toml:"absolute_ms"`
	Keyframe     bool   `json:"keyframe" toml:"keyframe"`
	Size         int    `json:"size" toml:"size"`
}

// Cluster is one parsed cluster.
type Cluster struct {
	Timecode uint64  `json:"timecode" toml:"timecode"`
	Blocks   []Block `json:"blocks" toml:"blocks"`
}

// Track is one parsed TrackEntry.
type Track struct {
	Number          uint64 `json:"number" toml:"number"`
	Type            uint64 `json:"type" toml:"type"`
	CodecID         string `json:"codec_id" toml:"codec_id"`
	Codec           string `json:"codec" toml:"codec"`
	DefaultDuration uint64 `json:"default_duration_ns" toml:"default_duration_ns"`
	Width           uint64 `json:"width" toml:"width"`
	Height          uint64 `json:"height" toml:"height"`
}

// WebMSummary describes a parsed WebM stream.
type WebMSummary struct {
	DocType        string    `json:"doc_type" toml:"doc_type"`
	DocTypeVersion uint64    `json:"doc_type_version" toml:"doc_type_version"`
	TimecodeScale  uint64    `json:"timecode_scale" toml:"timecode_scale"`
	MuxingApp      string    `json:"muxing_app" toml:"muxing_app"`
	WritingApp     string    `json:"writing_app" toml:"writing_app"`
	Tracks         []Track   `json:"tracks" toml:"tracks"`
	Clusters       []Cluster `json:"clusters" toml:"clusters"`
}

// BlockCount returns the number of blocks across all clusters.
func (s *WebMSummary) BlockCount() int {
	n := 0
	for _, c := range s.Clusters {
		n += len(c.Blocks)
	}
	return n
}

// InspectWebM parses a WebM stream.
func InspectWebM(r io.Reader) (*WebMSummary, error) {
	var c webmContainer
	if err := ebml.Unmarshal(r, &c); err != nil {
		return nil, fmt.Errorf("failed to parse WebM: %w", err)
	}
	if c.Header.EBMLDocType != "webm" {
		return nil, fmt.Errorf("unexpected doc type %q", c.Header.EBMLDocType)
	}

	s := &WebMSummary{
		DocType:        c.Header.EBMLDocType,
		DocTypeVersion: c.Header.EBMLDocTypeVersion,
		TimecodeScale:  c.Segment.Info.TimecodeScale,
		MuxingApp:      c.Segment.Info.MuxingApp,
		WritingApp:     c.Segment.Info.WritingApp,
	}
	for _, te := range c.Segment.Tracks.TrackEntry {
		family, _ := webm.FamilyForCodecID(te.CodecID)
		s.Tracks = append(s.Tracks, Track{
			Number:          te.TrackNumber,
			Type:            te.TrackType,
			CodecID:         te.CodecID,
			Codec:           family,
			DefaultDuration: te.DefaultDuration,
			Width:           te.Video.PixelWidth,
			Height:          te.Video.PixelHeight,
		})
	}
	for _, cl := range c.Segment.Cluster {
		out := Cluster{Timecode: cl.Timecode}
		for _, b := range cl.SimpleBlock {
			size := 0
			for _, d := range b.Data {
				size += len(d)
			}
			out.Blocks = append(out.Blocks, Block{
				Track:        b.TrackNumber,
				Timecode:     b.Timecode,
				AbsoluteMsec: uint64(int64(cl.Timecode) + int64(b.Timecode)),
				Keyframe:     b.Keyframe,
				Size:         size,
			})
		}
		s.Clusters = append(s.Clusters, out)
	}
	return s, nil
}

// Package ebml builds EBML elements. An element is its id bytes, the vint of
// its payload length, then the payload. The size is always derived from the
// payload, never passed in.
package ebml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
)

// ID is an element id. Ids already carry their own length marker, so the
// minimal big-endian form is written verbatim.
type ID uint32

// Bytes returns the on-wire form of the id.
func (id ID) Bytes() []byte {
	return binutil.BigEndianUint(uint64(id))
}

func (id ID) String() string {
	return fmt.Sprintf("0x%X", uint32(id))
}

// Element ids used by the WebM writer.
const (
	IDEBML               ID = 0x1A45DFA3
	IDEBMLVersion        ID = 0x4286
	IDEBMLReadVersion    ID = 0x42F7
	IDEBMLMaxIDLength    ID = 0x42F2
	IDEBMLMaxSizeLength  ID = 0x42F3
	IDDocType            ID = 0x4282
	IDDocTypeVersion     ID = 0x4287
	IDDocTypeReadVersion ID = 0x4285

	IDSegment ID = 0x18538067

	IDInfo          ID = 0x1549A966
	IDTimecodeScale ID = 0x2AD7B1
	IDMuxingApp     ID = 0x4D80
	IDWritingApp    ID = 0x5741

	IDTracks          ID = 0x1654AE6B
	IDTrackEntry      ID = 0xAE
	IDTrackNumber     ID = 0xD7
	IDTrackUID        ID = 0x73C5
	IDTrackType       ID = 0x83
	IDCodecID         ID = 0x86
	IDDefaultDuration ID = 0x23E383
	IDVideo           ID = 0xE0
	IDPixelWidth      ID = 0xB0
	IDPixelHeight     ID = 0xBA

	IDCluster     ID = 0x1F43B675
	IDTimecode    ID = 0xE7
	IDSimpleBlock ID = 0xA3
)

// Element returns id ++ vint(len(payload)) ++ payload.
func Element(id ID, payload []byte) []byte {
	idBytes := id.Bytes()
	size := binutil.MustVint(uint64(len(payload)))
	out := make([]byte, 0, len(idBytes)+len(size)+len(payload))
	out = append(out, idBytes...)
	out = append(out, size...)
	return append(out, payload...)
}

// Concat joins byte slices into one newly allocated slice.
func Concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// Master wraps already-built child elements as the payload of id.
func Master(id ID, children ...[]byte) []byte {
	return Element(id, Concat(children...))
}

// Uint builds an unsigned integer element.
func Uint(id ID, v uint64) []byte {
	return Element(id, binutil.BigEndianUint(v))
}

// String builds a string element.
func String(id ID, s string) []byte {
	return Element(id, []byte(s))
}

// Header is a parsed element header.
type Header struct {
	ID ID
	// HeaderLen is the number of bytes taken by the id and size fields.
	HeaderLen int
	// Size is the payload length, or -1 for the unknown-size marker.
	Size int64
}

// ReadHeader parses the id and size at the front of b.
func ReadHeader(b []byte) (Header, error) {
	if len(b) == 0 {
		return Header{}, binutil.ErrShortVint
	}
	// Id length uses the same leading-marker scheme as sizes, capped at 4.
	idLen := 1
	for mask := byte(0x80); idLen <= 4 && b[0]&mask == 0; mask >>= 1 {
		idLen++
	}
	if idLen > 4 {
		return Header{}, fmt.Errorf("invalid element id byte 0x%02X", b[0])
	}
	if len(b) < idLen {
		return Header{}, binutil.ErrShortVint
	}
	var idBuf [4]byte
	copy(idBuf[4-idLen:], b[:idLen])
	h := Header{ID: ID(binary.BigEndian.Uint32(idBuf[:]))}

	size, n, err := binutil.DecodeVint(b[idLen:])
	switch {
	case errors.Is(err, binutil.ErrUnknownSize):
		h.Size = -1
	case err != nil:
		return Header{}, err
	default:
		h.Size = int64(size)
	}
	h.HeaderLen = idLen + n
	return h, nil
}

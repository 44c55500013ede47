// Package binutil holds the byte-level encoders shared by the WebM muxer and
// the ZIP packager: minimal big-endian integers, EBML variable-length sizes
// and CRC-32.
package binutil

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
)

// MaxVint is the largest value Vint can encode. The all-ones pattern of every
// length is reserved for "unknown size".
const MaxVint = 1<<56 - 2

var (
	// ErrVintOverflow is returned when a value does not fit in an 8-byte vint.
	ErrVintOverflow = errors.New("value exceeds 8-byte vint capacity")
	// ErrUnknownSize is returned by DecodeVint for the reserved all-ones pattern.
	ErrUnknownSize = errors.New("vint carries the unknown-size marker")
	// ErrShortVint is returned when the input ends inside a vint.
	ErrShortVint = errors.New("truncated vint")
	// ErrInvalidVint is returned when the first byte has no length marker.
	ErrInvalidVint = errors.New("invalid vint length marker")
	// ErrOverflow is returned by the checked arithmetic helpers.
	ErrOverflow = errors.New("uint64 overflow")
)

// UnknownSize is the 8-byte size descriptor declaring an element of unbounded
// length. It is only ever written for a streaming Segment.
var UnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

var crcTable = crc32.MakeTable(crc32.IEEE)

// BigEndianUint encodes v in the fewest big-endian bytes. Zero encodes as a
// single 0x00 byte.
func BigEndianUint(v uint64) []byte {
	n := (bits.Len64(v) + 7) / 8
	if n == 0 {
		return []byte{0x00}
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// VintLen returns the number of bytes Vint uses for v.
func VintLen(v uint64) (int, error) {
	for l := 1; l <= 8; l++ {
		if v <= uint64(1)<<(7*l)-2 {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrVintOverflow, v)
}

// Vint encodes v as an EBML variable-length size.
func Vint(v uint64) ([]byte, error) {
	l, err := VintLen(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, l)
	x := v
	for i := l - 1; i >= 0; i-- {
		out[i] = byte(x)
		x >>= 8
	}
	out[0] |= 0x80 >> (l - 1)
	return out, nil
}

// MustVint is Vint for lengths of in-memory buffers, which can never reach
// the 8-byte capacity. It panics on overflow.
func MustVint(v uint64) []byte {
	out, err := Vint(v)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodeVint reads one vint from the front of b and returns its value and
// encoded length.
func DecodeVint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrShortVint
	}
	l := bits.LeadingZeros8(b[0]) + 1
	if l > 8 {
		return 0, 0, ErrInvalidVint
	}
	if len(b) < l {
		return 0, 0, ErrShortVint
	}
	v := uint64(b[0] & (0xFF >> l))
	for _, c := range b[1:l] {
		v = v<<8 | uint64(c)
	}
	if v == uint64(1)<<(7*l)-1 {
		return 0, l, ErrUnknownSize
	}
	return v, l, nil
}

// CRC32 computes the reflected CRC-32 (polynomial 0xEDB88320) used by ZIP.
func CRC32(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}

// MulDivRound returns round(a*b/c), rounding halves up, with a 128-bit
// intermediate product.
func MulDivRound(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, errors.New("division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	lo, carry := bits.Add64(lo, c/2, 0)
	hi += carry
	if hi >= c {
		return 0, fmt.Errorf("%w: %d*%d/%d", ErrOverflow, a, b, c)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

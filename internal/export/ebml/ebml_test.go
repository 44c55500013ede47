package ebml

import (
	"bytes"
	"testing"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementParsesBack(t *testing.T) {
	ids := []ID{IDSimpleBlock, IDTrackUID, IDDefaultDuration, IDCluster, IDEBML}
	sizes := []int{0, 1, 126, 127, 128, 16382, 16383, 70000}

	for _, id := range ids {
		for _, size := range sizes {
			payload := bytes.Repeat([]byte{0xAB}, size)
			el := Element(id, payload)

			h, err := ReadHeader(el)
			require.NoError(t, err)
			assert.Equal(t, id, h.ID)
			assert.Equal(t, int64(size), h.Size)
			assert.Equal(t, len(el), h.HeaderLen+size)
			assert.Equal(t, payload, el[h.HeaderLen:])
		}
	}
}

func TestElementKnownBytes(t *testing.T) {
	assert.Equal(t, []byte{0xE7, 0x81, 0x00}, Uint(IDTimecode, 0))
	assert.Equal(t, []byte{0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}, String(IDDocType, "webm"))
	assert.Equal(t, []byte{0x2A, 0xD7, 0xB1, 0x83, 0x0F, 0x42, 0x40}, Uint(IDTimecodeScale, 1_000_000))
}

func TestMasterSizeCoversChildren(t *testing.T) {
	a := Uint(IDTrackNumber, 1)
	b := String(IDCodecID, "V_VP9")
	m := Master(IDTrackEntry, a, b)

	h, err := ReadHeader(m)
	require.NoError(t, err)
	assert.Equal(t, IDTrackEntry, h.ID)
	assert.Equal(t, int64(len(a)+len(b)), h.Size)
	assert.Equal(t, Concat(a, b), m[h.HeaderLen:])
}

func TestReadHeaderUnknownSize(t *testing.T) {
	b := Concat(IDSegment.Bytes(), binutil.UnknownSize)
	h, err := ReadHeader(b)
	require.NoError(t, err)
	assert.Equal(t, IDSegment, h.ID)
	assert.Equal(t, int64(-1), h.Size)
	assert.Equal(t, 12, h.HeaderLen)
}

func TestReadHeaderRejectsBadID(t *testing.T) {
	_, err := ReadHeader([]byte{0x05, 0x80})
	assert.Error(t, err)
}

package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
)

type testFile struct {
	name string
	data []byte
}

var testFiles = []testFile{
	{"frame_000000.png", []byte("first frame")},
	{"frame_000001.png", []byte{}},
	{"frame_000002.png", bytes.Repeat([]byte{0x42}, 4096)},
	{"dir/naïve.txt", []byte("utf-8 name")},
}

func buildArchive(t *testing.T, files []testFile) []byte {
	t.Helper()
	p := NewPackager(nil)
	for _, f := range files {
		require.NoError(t, p.AddFile(f.name, f.data))
	}
	data, err := p.Finalize()
	require.NoError(t, err)
	return data
}

func TestCentralDirectoryMatchesEntries(t *testing.T) {
	data := buildArchive(t, testFiles)

	eocd := data[len(data)-endOfCentralLen:]
	require.Equal(t, uint32(endOfCentralSignature), binary.LittleEndian.Uint32(eocd))
	assert.Equal(t, uint16(len(testFiles)), binary.LittleEndian.Uint16(eocd[8:]))
	assert.Equal(t, uint16(len(testFiles)), binary.LittleEndian.Uint16(eocd[10:]))
	cdSize := binary.LittleEndian.Uint32(eocd[12:])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:])
	assert.Equal(t, uint32(len(data)-endOfCentralLen), cdOffset+cdSize)

	var cursor uint32
	cd := data[cdOffset : cdOffset+cdSize]
	for _, f := range testFiles {
		require.Equal(t, uint32(centralHeaderSignature), binary.LittleEndian.Uint32(cd))
		assert.Equal(t, uint16(methodStore), binary.LittleEndian.Uint16(cd[10:]))
		assert.Equal(t, binutil.CRC32(f.data), binary.LittleEndian.Uint32(cd[16:]))
		assert.Equal(t, uint32(len(f.data)), binary.LittleEndian.Uint32(cd[20:]))
		assert.Equal(t, uint32(len(f.data)), binary.LittleEndian.Uint32(cd[24:]))
		nameLen := int(binary.LittleEndian.Uint16(cd[28:]))
		offset := binary.LittleEndian.Uint32(cd[42:])
		assert.Equal(t, f.name, string(cd[46:46+nameLen]))
		assert.Equal(t, cursor, offset, "local header offset of %s", f.name)

		local := data[offset:]
		require.Equal(t, uint32(localHeaderSignature), binary.LittleEndian.Uint32(local))
		assert.Equal(t, binutil.CRC32(f.data), binary.LittleEndian.Uint32(local[14:]))
		assert.Equal(t, f.name, string(local[30:30+nameLen]))
		assert.Equal(t, f.data, local[30+nameLen:30+nameLen+len(f.data)])

		cursor += uint32(30 + nameLen + len(f.data))
		cd = cd[46+nameLen:]
	}
	assert.Empty(t, cd)
	assert.Equal(t, cdOffset, cursor)
}

func TestReadableByArchiveZip(t *testing.T) {
	data := buildArchive(t, testFiles)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, len(testFiles))

	for i, f := range zr.File {
		assert.Equal(t, testFiles[i].name, f.Name)
		assert.Equal(t, zip.Store, f.Method)
		assert.Equal(t, binutil.CRC32(testFiles[i].data), f.CRC32)

		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, testFiles[i].data, got)
	}
	assert.False(t, zr.File[3].NonUTF8)
}

func TestEntriesRecordOffsets(t *testing.T) {
	p := NewPackager(nil)
	require.NoError(t, p.AddFile("a", []byte("xyz")))
	require.NoError(t, p.AddFile("bb", []byte("12345")))

	entries := p.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint32(0), entries[0].LocalHeaderOffset)
	assert.Equal(t, uint32(30+1+3), entries[1].LocalHeaderOffset)
	assert.Equal(t, uint32(5), entries[1].Size)
}

func TestEmptyArchive(t *testing.T) {
	data := buildArchive(t, nil)
	require.Len(t, data, endOfCentralLen)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func TestAddFileErrors(t *testing.T) {
	p := NewPackager(nil)
	assert.ErrorIs(t, p.AddFile("", []byte("x")), ErrEmptyName)
	assert.ErrorIs(t, p.AddFile(string(bytes.Repeat([]byte("n"), 70000)), nil), ErrNameTooLong)

	require.NoError(t, p.AddFile("a", []byte("x")))
	assert.ErrorIs(t, p.AddFile("a", []byte("y")), ErrDuplicateName)

	_, err := p.Finalize()
	require.NoError(t, err)
	assert.ErrorIs(t, p.AddFile("b", nil), ErrFinalized)

	_, err = p.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestDataIsCopied(t *testing.T) {
	p := NewPackager(nil)
	buf := []byte("original")
	require.NoError(t, p.AddFile("f", buf))
	copy(buf, "mutated!")

	data, err := p.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data[31:39])
}

func TestDeterministic(t *testing.T) {
	assert.Equal(t, buildArchive(t, testFiles), buildArchive(t, testFiles))
}

func TestAddFileArchiveTooLarge(t *testing.T) {
	p := NewPackager(nil)
	p.writeOffset = math.MaxUint32 - 40

	assert.ErrorIs(t, p.AddFile("frame.png", []byte("0123456789")), ErrArchiveTooLarge)
	assert.Empty(t, p.Entries())

	// 30 byte header + 1 byte name + 9 bytes of data ends exactly at the limit.
	require.NoError(t, p.AddFile("a", []byte("012345678")))
	assert.Equal(t, uint64(math.MaxUint32), p.writeOffset)
	assert.ErrorIs(t, p.AddFile("b", nil), ErrArchiveTooLarge)
}

func TestFinalizeArchiveTooLarge(t *testing.T) {
	p := NewPackager(nil)
	p.writeOffset = math.MaxUint32 - 50
	require.NoError(t, p.AddFile("a", []byte("0123456789")))

	// The 47 byte central record no longer fits below 4 GiB.
	_, err := p.Finalize()
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
	assert.False(t, p.finalized)
}

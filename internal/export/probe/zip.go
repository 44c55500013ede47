package probe

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
)

const localHeaderSignature = 0x04034b50

// ZipEntry is one archive member as seen by archive/zip.
type ZipEntry struct {
	Name         string `json:"name" toml:"name"`
	Method       uint16 `json:"method" toml:"method"`
	CRC32        uint32 `json:"crc32" toml:"crc32"`
	Size         uint64 `json:"size" toml:"size"`
	HeaderOffset int64  `json:"header_offset" toml:"header_offset"`
}

// ZipSummary describes a parsed archive.
type ZipSummary struct {
	Entries []ZipEntry `json:"entries" toml:"entries"`
}

// InspectZip parses a ZIP archive and checks every member's CRC by reading it.
func InspectZip(data []byte) (*ZipSummary, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ZIP: %w", err)
	}

	s := &ZipSummary{}
	for _, f := range zr.File {
		dataOffset, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", f.Name, err)
		}
		// Entries written by the packager carry no extra field.
		headerOffset := dataOffset - 30 - int64(len(f.Name))
		if headerOffset < 0 || headerOffset+4 > int64(len(data)) ||
			binary.LittleEndian.Uint32(data[headerOffset:]) != localHeaderSignature {
			return nil, fmt.Errorf("entry %s: no local header at offset %d", f.Name, headerOffset)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", f.Name, err)
		}

		s.Entries = append(s.Entries, ZipEntry{
			Name:         f.Name,
			Method:       f.Method,
			CRC32:        f.CRC32,
			Size:         f.UncompressedSize64,
			HeaderOffset: headerOffset,
		})
	}
	return s, nil
}

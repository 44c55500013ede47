// Package archive writes store-only ZIP archives. Entries are copied verbatim
// without compression and every timestamp is fixed so identical input yields
// identical bytes.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/binutil"
)

// MIMEType labels the packager output.
const MIMEType = "application/zip"

const (
	localHeaderSignature   = 0x04034b50
	centralHeaderSignature = 0x02014b50
	endOfCentralSignature  = 0x06054b50

	localHeaderLen   = 30
	centralHeaderLen = 46
	endOfCentralLen  = 22

	versionNeeded = 20
	versionMadeBy = 20
	methodStore   = 0
	flagUTF8      = 0x0800

	// 1980-01-01 00:00:00, the DOS epoch.
	dosTime = 0x0000
	dosDate = 0x0021

	maxEntries = math.MaxUint16
)

var (
	ErrFinalized       = errors.New("archive already finalized")
	ErrEmptyName       = errors.New("entry name is empty")
	ErrDuplicateName   = errors.New("duplicate entry name")
	ErrNameTooLong     = errors.New("entry name longer than 65535 bytes")
	ErrTooManyEntries  = errors.New("archive holds the maximum of 65535 entries")
	ErrArchiveTooLarge = errors.New("archive exceeds 4 GiB without ZIP64")
)

// Entry describes one stored file. It never changes after AddFile.
type Entry struct {
	Name              string
	CRC32             uint32
	Size              uint32
	LocalHeaderOffset uint32
}

func (e Entry) flags() uint16 {
	for i := 0; i < len(e.Name); i++ {
		if e.Name[i] >= utf8.RuneSelf {
			return flagUTF8
		}
	}
	return 0
}

// Packager accumulates files into a ZIP archive. It is not safe for
// concurrent use.
type Packager struct {
	logger *slog.Logger

	body        bytes.Buffer
	entries     []Entry
	names       map[string]struct{}
	writeOffset uint64
	finalized   bool
}

// NewPackager creates an empty archive.
func NewPackager(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.With("component", "zip_packager")
	}
	return &Packager{
		logger: logger,
		names:  make(map[string]struct{}),
	}
}

// AddFile stores data under name. The data is copied.
func (p *Packager) AddFile(name string, data []byte) error {
	switch {
	case p.finalized:
		return ErrFinalized
	case name == "":
		return ErrEmptyName
	case len(name) > math.MaxUint16:
		return ErrNameTooLong
	case len(p.entries) >= maxEntries:
		return ErrTooManyEntries
	}
	if _, dup := p.names[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	recordLen := uint64(localHeaderLen + len(name) + len(data))
	if p.writeOffset > math.MaxUint32 || uint64(len(data)) > math.MaxUint32 ||
		p.writeOffset+recordLen > math.MaxUint32 {
		return ErrArchiveTooLarge
	}

	e := Entry{
		Name:              name,
		CRC32:             binutil.CRC32(data),
		Size:              uint32(len(data)),
		LocalHeaderOffset: uint32(p.writeOffset),
	}

	header := make([]byte, 0, localHeaderLen+len(name))
	header = binary.LittleEndian.AppendUint32(header, localHeaderSignature)
	header = binary.LittleEndian.AppendUint16(header, versionNeeded)
	header = binary.LittleEndian.AppendUint16(header, e.flags())
	header = binary.LittleEndian.AppendUint16(header, methodStore)
	header = binary.LittleEndian.AppendUint16(header, dosTime)
	header = binary.LittleEndian.AppendUint16(header, dosDate)
	header = binary.LittleEndian.AppendUint32(header, e.CRC32)
	header = binary.LittleEndian.AppendUint32(header, e.Size) // compressed
	header = binary.LittleEndian.AppendUint32(header, e.Size) // uncompressed
	header = binary.LittleEndian.AppendUint16(header, uint16(len(name)))
	header = binary.LittleEndian.AppendUint16(header, 0) // extra field length
	header = append(header, name...)

	p.body.Write(header)
	p.body.Write(data)
	p.writeOffset += uint64(len(header) + len(data))
	p.entries = append(p.entries, e)
	p.names[name] = struct{}{}

	p.logger.Debug("Archive entry added", "name", name, "size", e.Size, "offset", e.LocalHeaderOffset)
	return nil
}

// Entries returns the entries added so far in insertion order.
func (p *Packager) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Finalize appends the central directory and end record and returns the
// archive. The packager cannot be used afterwards.
func (p *Packager) Finalize() ([]byte, error) {
	if p.finalized {
		return nil, ErrFinalized
	}

	cdOffset := p.writeOffset
	var cd bytes.Buffer
	for _, e := range p.entries {
		rec := make([]byte, 0, centralHeaderLen+len(e.Name))
		rec = binary.LittleEndian.AppendUint32(rec, centralHeaderSignature)
		rec = binary.LittleEndian.AppendUint16(rec, versionMadeBy)
		rec = binary.LittleEndian.AppendUint16(rec, versionNeeded)
		rec = binary.LittleEndian.AppendUint16(rec, e.flags())
		rec = binary.LittleEndian.AppendUint16(rec, methodStore)
		rec = binary.LittleEndian.AppendUint16(rec, dosTime)
		rec = binary.LittleEndian.AppendUint16(rec, dosDate)
		rec = binary.LittleEndian.AppendUint32(rec, e.CRC32)
		rec = binary.LittleEndian.AppendUint32(rec, e.Size)
		rec = binary.LittleEndian.AppendUint32(rec, e.Size)
		rec = binary.LittleEndian.AppendUint16(rec, uint16(len(e.Name)))
		rec = binary.LittleEndian.AppendUint16(rec, 0) // extra field length
		rec = binary.LittleEndian.AppendUint16(rec, 0) // comment length
		rec = binary.LittleEndian.AppendUint16(rec, 0) // disk number start
		rec = binary.LittleEndian.AppendUint16(rec, 0) // internal attributes
		rec = binary.LittleEndian.AppendUint32(rec, 0) // external attributes
		rec = binary.LittleEndian.AppendUint32(rec, e.LocalHeaderOffset)
		rec = append(rec, e.Name...)
		cd.Write(rec)
	}

	if cdOffset+uint64(cd.Len()) > math.MaxUint32 {
		return nil, ErrArchiveTooLarge
	}

	count := uint16(len(p.entries))
	eocd := make([]byte, 0, endOfCentralLen)
	eocd = binary.LittleEndian.AppendUint32(eocd, endOfCentralSignature)
	eocd = binary.LittleEndian.AppendUint16(eocd, 0) // this disk
	eocd = binary.LittleEndian.AppendUint16(eocd, 0) // disk with central directory
	eocd = binary.LittleEndian.AppendUint16(eocd, count)
	eocd = binary.LittleEndian.AppendUint16(eocd, count)
	eocd = binary.LittleEndian.AppendUint32(eocd, uint32(cd.Len()))
	eocd = binary.LittleEndian.AppendUint32(eocd, uint32(cdOffset))
	eocd = binary.LittleEndian.AppendUint16(eocd, 0) // comment length

	p.finalized = true
	p.body.Write(cd.Bytes())
	p.body.Write(eocd)

	out := p.body.Bytes()
	p.logger.Debug("Archive finalized", "entries", count, "central_directory_size", cd.Len(), "bytes", len(out))
	return out, nil
}

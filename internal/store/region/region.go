// Package region reads the legacy sector-grid region files and imports their
// chunks into the store. A region file covers a 32x32 chunk grid: an 8 KiB
// header of 1024 location entries (3-byte sector offset, 1-byte sector count)
// and 1024 big-endian timestamps, then 4096-byte sectors. Each present entry
// starts with a u32 payload length counting the scheme byte that follows it.
// Import is one-way; the server never writes region files.
package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/nbt"
)

const (
	// SectorSize is the allocation unit; offsets in the header count these.
	SectorSize = 4096
	// Span is the region side length in chunks.
	Span = 32

	headerSize = 2 * SectorSize
	numEntries = Span * Span
)

var (
	// ErrBadHeader marks a file too short or inconsistent to carry a header.
	ErrBadHeader = errors.New("bad region header")

	// ErrBadName marks a filename the r.<x>.<z> convention cannot parse.
	ErrBadName = errors.New("unrecognized region file name")

	// ErrCorruptEntry marks one chunk entry that cannot be read; the rest of
	// the file is unaffected.
	ErrCorruptEntry = errors.New("corrupt region entry")
)

// Local addresses a chunk inside its region, 0..31 on each axis.
type Local struct {
	X, Z int
}

func (l Local) String() string { return fmt.Sprintf("local %d,%d", l.X, l.Z) }

// Entry is one present chunk, still compressed with its legacy scheme.
type Entry struct {
	Local     Local
	Scheme    compress.Scheme
	Data      []byte
	Timestamp uint32
}

type location struct {
	offset  uint32 // in sectors from file start
	sectors uint8
}

// File is an open region file with its header parsed. Reads are safe for
// concurrent use; the file is read-only.
type File struct {
	f      *os.File
	size   int64
	locs   [numEntries]location
	stamps [numEntries]uint32
}

// ParseName extracts region coordinates from an r.<x>.<z>.mcr (or .mca)
// filename.
func ParseName(path string) (rx, rz int32, err error) {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) != 4 || parts[0] != "r" || (parts[3] != "mcr" && parts[3] != "mca") {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, base)
	}
	x, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, base)
	}
	z, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, base)
	}
	return int32(x), int32(z), nil
}

// OpenFile opens the file and parses its header. Entry payloads are read
// lazily; per-entry corruption is reported by Read, not here.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < headerSize {
		f.Close()
		return nil, fmt.Errorf("%w: %d bytes, need %d for the header", ErrBadHeader, st.Size(), headerSize)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	rf := &File{f: f, size: st.Size()}
	for i := 0; i < numEntries; i++ {
		loc := binary.BigEndian.Uint32(hdr[i*4:])
		rf.locs[i] = location{offset: loc >> 8, sectors: uint8(loc)}
		rf.stamps[i] = binary.BigEndian.Uint32(hdr[SectorSize+i*4:])
	}
	return rf, nil
}

func (f *File) Close() error { return f.f.Close() }

// Has reports whether the entry is present. Absent entries have a zero
// location and are not an error.
func (f *File) Has(lx, lz int) bool {
	loc := f.locs[entryIndex(lx, lz)]
	return loc.offset != 0 && loc.sectors != 0
}

// Present counts present entries.
func (f *File) Present() int {
	n := 0
	for _, loc := range f.locs {
		if loc.offset != 0 && loc.sectors != 0 {
			n++
		}
	}
	return n
}

// Timestamp returns the header timestamp for one entry.
func (f *File) Timestamp(lx, lz int) uint32 { return f.stamps[entryIndex(lx, lz)] }

// Read returns one entry's compressed payload, (nil, nil) when absent, and
// ErrCorruptEntry when the entry's bookkeeping or bytes are bad.
func (f *File) Read(lx, lz int) (*Entry, error) {
	local := Local{X: lx, Z: lz}
	loc := f.locs[entryIndex(lx, lz)]
	if loc.offset == 0 || loc.sectors == 0 {
		return nil, nil
	}
	if loc.offset < headerSize/SectorSize {
		return nil, fmt.Errorf("%w: %v: offset %d inside header", ErrCorruptEntry, local, loc.offset)
	}
	off := int64(loc.offset) * SectorSize
	if off+5 > f.size {
		return nil, fmt.Errorf("%w: %v: offset %d beyond file end", ErrCorruptEntry, local, loc.offset)
	}

	var head [5]byte
	if _, err := f.f.ReadAt(head[:], off); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrCorruptEntry, local, err)
	}
	length := binary.BigEndian.Uint32(head[:4])
	if length == 0 {
		return nil, nil
	}
	scheme, ok := legacyScheme(head[4])
	if !ok {
		return nil, fmt.Errorf("%w: %v: unknown scheme byte %d", ErrCorruptEntry, local, head[4])
	}
	// length counts the scheme byte.
	dataLen := int64(length) - 1
	if dataLen < 0 || off+4+int64(length) > f.size {
		return nil, fmt.Errorf("%w: %v: declared length %d overruns file", ErrCorruptEntry, local, length)
	}
	if int64(length)+4 > int64(loc.sectors)*SectorSize {
		return nil, fmt.Errorf("%w: %v: declared length %d overruns %d sectors", ErrCorruptEntry, local, length, loc.sectors)
	}

	data := make([]byte, dataLen)
	if _, err := f.f.ReadAt(data, off+5); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrCorruptEntry, local, err)
	}
	return &Entry{
		Local:     local,
		Scheme:    scheme,
		Data:      data,
		Timestamp: f.stamps[entryIndex(lx, lz)],
	}, nil
}

func entryIndex(lx, lz int) int { return lx + lz*Span }

// legacyScheme maps the on-disk scheme byte to ours. The legacy numbering
// differs from compress.Scheme and must stay mapped, never cast.
func legacyScheme(b byte) (compress.Scheme, bool) {
	switch b {
	case 1:
		return compress.Gzip, true
	case 2:
		return compress.Zlib, true
	case 3:
		return compress.None, true
	default:
		return 0, false
	}
}

// sanityCheckPayload is a shallow structural check on a decompressed entry:
// the bytes must start a tag document with a Compound root whose name fits.
func sanityCheckPayload(b []byte) error {
	if len(b) < 3 {
		return errors.New("payload too short for a tag document")
	}
	if got := nbt.TagID(b[0]); got != nbt.IDCompound {
		return fmt.Errorf("root tag %v, want Compound", got)
	}
	if n := int(binary.BigEndian.Uint16(b[1:3])); 3+n > len(b) {
		return errors.New("root name overruns document")
	}
	return nil
}

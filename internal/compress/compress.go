// Package compress provides the closed set of compression schemes shared by
// the frame transport, the chunk store and the region importer. A scheme is
// identified by a single byte carried in store records and negotiated on the
// wire; decoding is exhaustive over the enum, there is no runtime
// registration.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Scheme identifies one compression algorithm. The numeric values are
// persisted in store records; never renumber.
type Scheme uint8

const (
	None Scheme = 0
	Zlib Scheme = 1
	Gzip Scheme = 2
	Zstd Scheme = 3
)

var schemeNames = [...]string{"none", "zlib", "gzip", "zstd"}

func (s Scheme) String() string {
	if !s.Valid() {
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
	return schemeNames[s]
}

// Valid reports whether s is a member of the closed enum.
func (s Scheme) Valid() bool { return s <= Zstd }

// ParseScheme maps a config/CLI name to a Scheme. "deflate" is accepted as an
// alias for the zlib wrapper.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "none":
		return None, nil
	case "zlib", "deflate":
		return Zlib, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
}

var (
	// ErrUnknownScheme is returned for a scheme byte or name outside the enum.
	ErrUnknownScheme = errors.New("unknown compression scheme")

	// ErrCorruptStream is returned when compressed input cannot be decoded.
	ErrCorruptStream = errors.New("corrupt compressed stream")

	// ErrSizeMismatch is returned when decompressed output disagrees with the
	// declared uncompressed length, or exceeds MaxDecompressedSize when no
	// length was declared.
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

// MaxDecompressedSize bounds the output of a Decompress call with no declared
// length, so a hostile stream cannot allocate unbounded memory.
const MaxDecompressedSize = 1 << 26

// Shared zstd coders. EncodeAll/DecodeAll are safe for concurrent use, so one
// of each serves the whole process.
var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("compress: zstd encoder: %v", err))
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic(fmt.Sprintf("compress: zstd decoder: %v", err))
	}
}

var zlibWriters = sync.Pool{
	New: func() any { return zlib.NewWriter(io.Discard) },
}

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// Compress encodes src with the given scheme. None returns src unchanged
// (callers must treat the result as aliasing src). Compression itself cannot
// fail for valid schemes; the error covers only ErrUnknownScheme.
func Compress(s Scheme, src []byte) ([]byte, error) {
	switch s {
	case None:
		return src, nil
	case Zlib:
		w := zlibWriters.Get().(*zlib.Writer)
		defer zlibWriters.Put(w)
		var buf bytes.Buffer
		w.Reset(&buf)
		w.Write(src)
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib compress: %w", err)
		}
		return buf.Bytes(), nil
	case Gzip:
		w := gzipWriters.Get().(*gzip.Writer)
		defer gzipWriters.Put(w)
		var buf bytes.Buffer
		w.Reset(&buf)
		w.Write(src)
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		return zstdEnc.EncodeAll(src, make([]byte, 0, len(src)/2+16)), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, s)
}

// Decompress decodes src. expectedLen >= 0 declares the exact uncompressed
// length (the frame path always declares it); a disagreement is
// ErrSizeMismatch. expectedLen < 0 means unknown, in which case output is
// capped at MaxDecompressedSize. Malformed input is ErrCorruptStream.
func Decompress(s Scheme, src []byte, expectedLen int) ([]byte, error) {
	switch s {
	case None:
		if expectedLen >= 0 && len(src) != expectedLen {
			return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, len(src), expectedLen)
		}
		return src, nil
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w: %v", ErrCorruptStream, err)
		}
		defer r.Close()
		return readStream(r, "zlib", expectedLen)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w: %v", ErrCorruptStream, err)
		}
		defer r.Close()
		return readStream(r, "gzip", expectedLen)
	case Zstd:
		out, err := zstdDec.DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w: %v", ErrCorruptStream, err)
		}
		if expectedLen >= 0 && len(out) != expectedLen {
			return nil, fmt.Errorf("zstd: %w: got %d bytes, declared %d", ErrSizeMismatch, len(out), expectedLen)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, s)
}

// readStream drains a decompressor, enforcing the declared length exactly
// when one was given and the global cap when not.
func readStream(r io.Reader, what string, expectedLen int) ([]byte, error) {
	if expectedLen < 0 {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(r, MaxDecompressedSize+1))
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", what, ErrCorruptStream, err)
		}
		if n > MaxDecompressedSize {
			return nil, fmt.Errorf("%s: %w: output exceeds %d byte cap", what, ErrSizeMismatch, MaxDecompressedSize)
		}
		return buf.Bytes(), nil
	}
	out := make([]byte, expectedLen)
	if _, err := io.ReadFull(r, out); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%s: %w: stream shorter than declared %d", what, ErrSizeMismatch, expectedLen)
		}
		return nil, fmt.Errorf("%s: %w: %v", what, ErrCorruptStream, err)
	}
	// The trailing checksum is only verified once the reader sees EOF, so one
	// more read both catches over-long streams and surfaces checksum errors.
	var probe [1]byte
	n, err := r.Read(probe[:])
	if n != 0 {
		return nil, fmt.Errorf("%s: %w: stream longer than declared %d", what, ErrSizeMismatch, expectedLen)
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w: %v", what, ErrCorruptStream, err)
	}
	return out, nil
}

// Package transport implements the length-delimited frame layer between raw
// byte streams and the packet codec. A frame is <varint length><payload>;
// once compression is negotiated it becomes
// <varint length><varint uncompressed_len><deflate payload>, where an
// uncompressed_len of zero marks a below-threshold payload carried as-is.
// Frame parameters are connection-local and only ever tighten: compression is
// never reverted once enabled.
package transport

import (
	"errors"
	"io"
	"time"
)

// ErrFrameTooLarge is returned when a declared or produced frame size exceeds
// the connection's limits. The check runs before any payload allocation.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Limits bounds what a single frame may ask the peer to allocate.
type Limits struct {
	// MaxFrameSize caps the outer frame payload as carried on the wire.
	MaxFrameSize int
	// MaxUncompressedSize caps the declared inflated size once compression
	// is active.
	MaxUncompressedSize int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameSize:        2 << 20,
		MaxUncompressedSize: 8 << 20,
	}
}

// StreamTransform rewrites the raw byte stream below framing. It is the seam
// where a negotiated cipher would sit; the core ships only Identity.
type StreamTransform interface {
	Reader(io.Reader) io.Reader
	Writer(io.Writer) io.Writer
}

// Identity passes the stream through untouched.
type Identity struct{}

func (Identity) Reader(r io.Reader) io.Reader { return r }
func (Identity) Writer(w io.Writer) io.Writer { return w }

// Conn couples a frame reader and writer over one byte stream. ReadFrame and
// WriteFrame may run on different goroutines; neither is safe for concurrent
// use with itself.
type Conn struct {
	raw io.ReadWriteCloser
	fr  *FrameReader
	fw  *FrameWriter
}

func NewConn(rw io.ReadWriteCloser, t StreamTransform, limits Limits) *Conn {
	if t == nil {
		t = Identity{}
	}
	return &Conn{
		raw: rw,
		fr:  NewFrameReader(t.Reader(rw), limits),
		fw:  NewFrameWriter(t.Writer(rw), limits),
	}
}

func (c *Conn) ReadFrame() ([]byte, error) { return c.fr.ReadFrame() }

func (c *Conn) WriteFrame(payload []byte) error { return c.fw.WriteFrame(payload) }

// SetCompression switches both directions at once. The caller sequences this
// against the negotiation packet: after sending/processing it, no frame may
// use the old parameters.
func (c *Conn) SetCompression(threshold int) {
	c.fr.SetCompression(threshold)
	c.fw.SetCompression(threshold)
}

// SetReadDeadline forwards to the underlying stream when it supports
// deadlines and is a no-op otherwise.
func (c *Conn) SetReadDeadline(t time.Time) error {
	if d, ok := c.raw.(interface{ SetReadDeadline(time.Time) error }); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	if d, ok := c.raw.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

func (c *Conn) Close() error { return c.raw.Close() }

package codec

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Encoder is an append-only builder for wire values. Encoding never fails:
// lengths are derived from the values written, so a malformed encode is a
// programming error, not a runtime condition.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with the given initial capacity.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated buffer. The slice aliases the encoder's
// internal storage and is invalidated by further writes.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len reports the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Reset truncates the buffer, keeping capacity.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func (e *Encoder) grow(n int) int {
	off := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	return off
}

func (e *Encoder) Varint(v int32) { e.buf = AppendVarint(e.buf, uint32(v)) }
func (e *Encoder) Varlong(v int64) { e.buf = AppendVarlong(e.buf, uint64(v)) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) Byte(v int8) { e.buf = append(e.buf, byte(v)) }
func (e *Encoder) UByte(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) Short(v int16) {
	off := e.grow(2)
	binary.BigEndian.PutUint16(e.buf[off:], uint16(v))
}

func (e *Encoder) UShort(v uint16) {
	off := e.grow(2)
	binary.BigEndian.PutUint16(e.buf[off:], v)
}

func (e *Encoder) Int(v int32) {
	off := e.grow(4)
	binary.BigEndian.PutUint32(e.buf[off:], uint32(v))
}

func (e *Encoder) Long(v int64) {
	off := e.grow(8)
	binary.BigEndian.PutUint64(e.buf[off:], uint64(v))
}

func (e *Encoder) Float(v float32) { e.Int(int32(math.Float32bits(v))) }
func (e *Encoder) Double(v float64) { e.Long(int64(math.Float64bits(v))) }

// String writes a varint byte-length prefix followed by the UTF-8 bytes.
func (e *Encoder) String(s string) {
	e.Varint(int32(len(s)))
	e.buf = append(e.buf, s...)
}

// ByteArray writes a varint length prefix followed by the raw bytes.
func (e *Encoder) ByteArray(b []byte) {
	e.Varint(int32(len(b)))
	e.buf = append(e.buf, b...)
}

// Raw appends bytes with no prefix.
func (e *Encoder) Raw(b []byte) { e.buf = append(e.buf, b...) }

// UUID writes the 16 bytes most-significant first.
func (e *Encoder) UUID(id uuid.UUID) { e.buf = append(e.buf, id[:]...) }

// Position writes block coordinates in the packed 64-bit layout.
func (e *Encoder) Position(x, y, z int32) {
	off := e.grow(8)
	binary.BigEndian.PutUint64(e.buf[off:], PackPosition(x, y, z))
}

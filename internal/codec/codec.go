// Package codec implements the primitive wire encodings shared by the packet
// layer and the persisted chunk format: LEB128 varints, length-prefixed strings
// and byte arrays, UUIDs and packed block positions. All multi-byte fixed-width
// values are big-endian.
package codec

import (
	"errors"
)

var (
	// ErrMalformedVarint is returned when a varint carries more continuation
	// bytes than its width allows (5 for 32-bit, 10 for 64-bit).
	ErrMalformedVarint = errors.New("malformed varint")

	// ErrLengthOverflow is returned when a declared length prefix exceeds the
	// caller's maximum or the remaining input.
	ErrLengthOverflow = errors.New("length overflow")

	// ErrTruncated is returned when the input ends before a value completes.
	ErrTruncated = errors.New("truncated input")
)

// MaxStringLen bounds decoded string byte lengths unless the caller passes a
// tighter limit.
const MaxStringLen = 32767

const (
	maxVarintBytes  = 5
	maxVarlongBytes = 10
)

// AppendVarint appends v in LEB128 form (at most 5 bytes).
func AppendVarint(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// AppendVarlong appends v in LEB128 form (at most 10 bytes).
func AppendVarlong(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// VarintLen reports the encoded size of v without encoding it.
func VarintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Uvarint32 decodes a 32-bit varint from the front of buf, returning the value
// and the number of bytes consumed. n == 0 means buf was truncated mid-varint;
// n < 0 means the varint was malformed (too many continuation bytes).
func Uvarint32(buf []byte) (uint32, int) {
	var v uint32
	for i := 0; i < maxVarintBytes; i++ {
		if i >= len(buf) {
			return 0, 0
		}
		b := buf[i]
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, -1
}

// PackPosition packs block coordinates into the 64-bit fixed-point layout:
// x in the top 26 bits, z in the middle 26, y in the low 12.
func PackPosition(x, y, z int32) uint64 {
	return (uint64(uint32(x))&0x3ffffff)<<38 | (uint64(uint32(z))&0x3ffffff)<<12 | uint64(uint32(y))&0xfff
}

// UnpackPosition is the inverse of PackPosition, sign-extending each field.
func UnpackPosition(v uint64) (x, y, z int32) {
	x = int32(v >> 38)
	if x >= 1<<25 {
		x -= 1 << 26
	}
	z = int32(v >> 12 & 0x3ffffff)
	if z >= 1<<25 {
		z -= 1 << 26
	}
	y = int32(v & 0xfff)
	if y >= 1<<11 {
		y -= 1 << 12
	}
	return
}

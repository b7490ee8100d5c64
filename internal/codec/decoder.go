package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Decoder consumes wire values from a byte slice, tracking the offset of the
// next unread byte for error reporting. A Decoder never allocates more than
// the declared (and validated) length of the value being read.
type Decoder struct {
	orig []byte
	buf  []byte
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{orig: b, buf: b}
}

// Off reports how many bytes have been consumed.
func (d *Decoder) Off() int { return len(d.orig) - len(d.buf) }

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.buf) }

func (d *Decoder) fail(err error, msg string) error {
	return fmt.Errorf("%w at +%d: %s", err, d.Off(), msg)
}

// Varint reads a 32-bit LEB128 varint (at most 5 bytes).
func (d *Decoder) Varint() (int32, error) {
	v, n := Uvarint32(d.buf)
	if n == 0 {
		return 0, d.fail(ErrTruncated, "varint")
	}
	if n < 0 {
		return 0, d.fail(ErrMalformedVarint, "more than 5 bytes")
	}
	d.buf = d.buf[n:]
	return int32(v), nil
}

// Varlong reads a 64-bit LEB128 varint (at most 10 bytes).
func (d *Decoder) Varlong() (int64, error) {
	var v uint64
	for i := 0; i < maxVarlongBytes; i++ {
		if i >= len(d.buf) {
			return 0, d.fail(ErrTruncated, "varlong")
		}
		b := d.buf[i]
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			d.buf = d.buf[i+1:]
			return int64(v), nil
		}
	}
	return 0, d.fail(ErrMalformedVarint, "more than 10 bytes")
}

func (d *Decoder) raw(n int, what string) ([]byte, error) {
	if len(d.buf) < n {
		return nil, d.fail(ErrTruncated, fmt.Sprintf("%s: %d bytes remaining, %d wanted", what, len(d.buf), n))
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v, nil
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.raw(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (d *Decoder) Byte() (int8, error) {
	b, err := d.raw(1, "byte")
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (d *Decoder) UByte() (uint8, error) {
	b, err := d.raw(1, "ubyte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Short() (int16, error) {
	b, err := d.raw(2, "short")
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (d *Decoder) UShort() (uint16, error) {
	b, err := d.raw(2, "ushort")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) Int() (int32, error) {
	b, err := d.raw(4, "int")
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) Long() (int64, error) {
	b, err := d.raw(8, "long")
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) Float() (float32, error) {
	v, err := d.Int()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (d *Decoder) Double() (float64, error) {
	v, err := d.Long()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// String reads a varint-prefixed UTF-8 string. The declared byte length must
// not exceed max (or MaxStringLen when max <= 0) nor the remaining input;
// otherwise ErrLengthOverflow is returned before any allocation.
func (d *Decoder) String(max int) (string, error) {
	if max <= 0 {
		max = MaxStringLen
	}
	n, err := d.Varint()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > max {
		return "", d.fail(ErrLengthOverflow, fmt.Sprintf("string length %d exceeds %d", n, max))
	}
	if int(n) > len(d.buf) {
		return "", d.fail(ErrLengthOverflow, fmt.Sprintf("string length %d exceeds %d remaining bytes", n, len(d.buf)))
	}
	b, err := d.raw(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ByteArray reads a varint-prefixed byte array, bounded by max. The returned
// slice aliases the decoder's input.
func (d *Decoder) ByteArray(max int) ([]byte, error) {
	n, err := d.Varint()
	if err != nil {
		return nil, err
	}
	if n < 0 || (max > 0 && int(n) > max) {
		return nil, d.fail(ErrLengthOverflow, fmt.Sprintf("byte array length %d exceeds %d", n, max))
	}
	if int(n) > len(d.buf) {
		return nil, d.fail(ErrLengthOverflow, fmt.Sprintf("byte array length %d exceeds %d remaining bytes", n, len(d.buf)))
	}
	return d.raw(int(n), "byte array")
}

// Raw reads exactly n bytes with no prefix. The slice aliases the input.
func (d *Decoder) Raw(n int) ([]byte, error) {
	return d.raw(n, "raw bytes")
}

// Rest consumes and returns all remaining bytes.
func (d *Decoder) Rest() []byte {
	v := d.buf
	d.buf = nil
	return v
}

func (d *Decoder) UUID() (uuid.UUID, error) {
	b, err := d.raw(16, "uuid")
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// Position reads a packed 64-bit block position.
func (d *Decoder) Position() (x, y, z int32, err error) {
	v, err := d.Long()
	if err != nil {
		return 0, 0, 0, err
	}
	x, y, z = UnpackPosition(uint64(v))
	return x, y, z, nil
}

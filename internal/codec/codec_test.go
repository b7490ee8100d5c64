package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 2, 127, 128, 255, 300, 16383, 16384, 2097151, 2097152, 1<<31 - 1, 1 << 31, math.MaxUint32}
	for _, v := range values {
		buf := AppendVarint(nil, v)
		if len(buf) != VarintLen(v) {
			t.Fatalf("VarintLen(%d) = %d, encoded %d bytes", v, VarintLen(v), len(buf))
		}
		got, n := Uvarint32(buf)
		if n != len(buf) || got != v {
			t.Fatalf("decode(%d): got %d consumed %d of %d", v, got, n, len(buf))
		}
	}
}

func TestVarintWireBytes(t *testing.T) {
	tests := []struct {
		v    uint32
		wire []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{300, []byte{0xac, 0x02}},
		{25565, []byte{0xdd, 0xc7, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		if got := AppendVarint(nil, tt.v); !bytes.Equal(got, tt.wire) {
			t.Fatalf("encode(%d) = %x, want %x", tt.v, got, tt.wire)
		}
	}
}

func TestVarintMalformed(t *testing.T) {
	d := NewDecoder([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if _, err := d.Varint(); !errors.Is(err, ErrMalformedVarint) {
		t.Fatalf("expected ErrMalformedVarint, got %v", err)
	}

	d = NewDecoder([]byte{0x80, 0x80})
	if _, err := d.Varint(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestVarlongRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 127, 128, 1 << 32, math.MaxInt64, math.MinInt64}
	for _, v := range values {
		d := NewDecoder(AppendVarlong(nil, uint64(v)))
		got, err := d.Varlong()
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("decode(%d) = %d", v, got)
		}
		if d.Remaining() != 0 {
			t.Fatalf("decode(%d): %d bytes left over", v, d.Remaining())
		}
	}

	bad := bytes.Repeat([]byte{0x80}, 10)
	bad = append(bad, 0x01)
	if _, err := NewDecoder(bad).Varlong(); !errors.Is(err, ErrMalformedVarint) {
		t.Fatalf("expected ErrMalformedVarint, got %v", err)
	}
}

func TestScalarRoundTrip(t *testing.T) {
	e := NewEncoder(64)
	e.Bool(true)
	e.Byte(-12)
	e.UByte(0xfe)
	e.Short(-30000)
	e.UShort(60000)
	e.Int(-123456789)
	e.Long(-1234567890123456789)
	e.Float(3.5)
	e.Double(-2.25)

	d := NewDecoder(e.Bytes())
	if v, _ := d.Bool(); !v {
		t.Fatalf("bool mismatch")
	}
	if v, _ := d.Byte(); v != -12 {
		t.Fatalf("byte = %d", v)
	}
	if v, _ := d.UByte(); v != 0xfe {
		t.Fatalf("ubyte = %d", v)
	}
	if v, _ := d.Short(); v != -30000 {
		t.Fatalf("short = %d", v)
	}
	if v, _ := d.UShort(); v != 60000 {
		t.Fatalf("ushort = %d", v)
	}
	if v, _ := d.Int(); v != -123456789 {
		t.Fatalf("int = %d", v)
	}
	if v, _ := d.Long(); v != -1234567890123456789 {
		t.Fatalf("long = %d", v)
	}
	if v, _ := d.Float(); v != 3.5 {
		t.Fatalf("float = %v", v)
	}
	if v, _ := d.Double(); v != -2.25 {
		t.Fatalf("double = %v", v)
	}
	if d.Remaining() != 0 {
		t.Fatalf("%d bytes left over", d.Remaining())
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello", "héllo wörld", string(make([]byte, 300))} {
		e := NewEncoder(0)
		e.String(s)
		got, err := NewDecoder(e.Bytes()).String(0)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip %q != %q", got, s)
		}
	}
}

func TestStringLengthOverflow(t *testing.T) {
	e := NewEncoder(0)
	e.String("this is longer than allowed")
	if _, err := NewDecoder(e.Bytes()).String(4); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow, got %v", err)
	}

	// Declared length larger than the remaining input must fail before
	// allocation, not read garbage.
	buf := AppendVarint(nil, 1<<20)
	buf = append(buf, 'x')
	if _, err := NewDecoder(buf).String(1<<21); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow, got %v", err)
	}

	// Negative declared length (top bit set in the varint).
	neg := AppendVarint(nil, uint32(0x80000000))
	if _, err := NewDecoder(neg).String(0); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow for negative length, got %v", err)
	}
}

func TestByteArrayRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	e := NewEncoder(0)
	e.ByteArray(payload)
	got, err := NewDecoder(e.Bytes()).ByteArray(16)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip %x != %x", got, payload)
	}

	if _, err := NewDecoder(e.Bytes()).ByteArray(3); !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow, got %v", err)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	coords := []struct{ x, y, z int32 }{
		{0, 0, 0},
		{1, 2, 3},
		{-1, -2, -3},
		{33554431, 2047, 33554431},
		{-33554432, -2048, -33554432},
		{18357644, 831, -20882616},
	}
	for _, c := range coords {
		e := NewEncoder(8)
		e.Position(c.x, c.y, c.z)
		x, y, z, err := NewDecoder(e.Bytes()).Position()
		if err != nil {
			t.Fatalf("decode %v: %v", c, err)
		}
		if x != c.x || y != c.y || z != c.z {
			t.Fatalf("round trip (%d,%d,%d) != (%d,%d,%d)", x, y, z, c.x, c.y, c.z)
		}
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.MustParse("2b3414ed-468a-45c2-b113-6c5f47430edc")
	e := NewEncoder(16)
	e.UUID(id)
	got, err := NewDecoder(e.Bytes()).UUID()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != id {
		t.Fatalf("round trip %s != %s", got, id)
	}
}

func TestOfflineUUID(t *testing.T) {
	a := OfflineUUID("Steve")
	b := OfflineUUID("Steve")
	c := OfflineUUID("Alex")
	if a != b {
		t.Fatalf("offline uuid not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("distinct names mapped to the same uuid")
	}
	if v := a.Version(); v != 3 {
		t.Fatalf("uuid version = %d, want 3", v)
	}
	if va := a.Variant(); va != uuid.RFC4122 {
		t.Fatalf("uuid variant = %v, want RFC4122", va)
	}
}

func TestDecoderOffsetTracking(t *testing.T) {
	e := NewEncoder(0)
	e.Int(7)
	e.String("ab")
	d := NewDecoder(e.Bytes())
	if _, err := d.Int(); err != nil {
		t.Fatalf("int: %v", err)
	}
	if d.Off() != 4 {
		t.Fatalf("offset = %d, want 4", d.Off())
	}
	if _, err := d.String(0); err != nil {
		t.Fatalf("string: %v", err)
	}
	if d.Off() != 7 || d.Remaining() != 0 {
		t.Fatalf("offset = %d remaining = %d", d.Off(), d.Remaining())
	}
}

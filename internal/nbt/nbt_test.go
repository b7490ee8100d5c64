package nbt

import (
	"bytes"
	"errors"
	"testing"

	"ironcraft.dev/internal/codec"
)

func testTree() Compound {
	return Compound{
		"byte":   Byte(-5),
		"short":  Short(1234),
		"int":    Int(-70000),
		"long":   Long(1 << 40),
		"float":  Float(0.5),
		"double": Double(-1.25),
		"string": String("héllo"),
		"bytes":  ByteArray{0, 1, 2, 254, 255},
		"ints":   IntArray{-1, 0, 1 << 30},
		"longs":  LongArray{-1, 1 << 60},
		"list": List{Elem: IDCompound, Vals: []Tag{
			Compound{"x": Int(1)},
			Compound{"x": Int(2), "y": String("two")},
		}},
		"empty_list": List{Elem: IDEnd},
		"nested": Compound{
			"inner": Compound{
				"flag": Byte(1),
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	src := testTree()
	doc := Marshal("root", src)
	name, got, err := Unmarshal(doc)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if name != "root" {
		t.Fatalf("root name = %q", name)
	}
	if !Equal(src, got) {
		t.Fatalf("round trip mismatch:\n src: %#v\n got: %#v", src, got)
	}
}

func TestRoundTripScalarRoots(t *testing.T) {
	roots := []Tag{
		Byte(7), Short(-2), Int(9), Long(-9), Float(1.5), Double(2.5),
		String("line\n"), ByteArray{9}, IntArray{3, 4}, LongArray{5},
		List{Elem: IDString, Vals: []Tag{String("a"), String("b")}},
	}
	for _, src := range roots {
		name, got, err := Unmarshal(Marshal("", src))
		if err != nil {
			t.Fatalf("unmarshal %v root: %v", src.ID(), err)
		}
		if name != "" {
			t.Fatalf("name = %q", name)
		}
		if !Equal(src, got) {
			t.Fatalf("%v root mismatch: %#v vs %#v", src.ID(), src, got)
		}
	}
}

func TestUnknownTagID(t *testing.T) {
	doc := []byte{0x0d, 0x00, 0x00}
	if _, _, err := Unmarshal(doc); !errors.Is(err, ErrUnknownTagID) {
		t.Fatalf("expected ErrUnknownTagID, got %v", err)
	}

	// Unknown id inside a compound body.
	doc = Marshal("", Compound{"k": Int(1)})
	idx := bytes.IndexByte(doc, byte(IDInt))
	doc[idx] = 0x42
	if _, _, err := Unmarshal(doc); !errors.Is(err, ErrUnknownTagID) {
		t.Fatalf("expected ErrUnknownTagID inside compound, got %v", err)
	}
}

func TestDepthExceeded(t *testing.T) {
	deep := Tag(Byte(1))
	for i := 0; i < 40; i++ {
		deep = Compound{"d": deep}
	}
	doc := Marshal("", deep)
	if _, _, err := UnmarshalDepth(doc, 16); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
	if _, _, err := UnmarshalDepth(doc, 64); err != nil {
		t.Fatalf("depth 64 should pass: %v", err)
	}
}

func TestDepthBombRejectedCheaply(t *testing.T) {
	// 10_000 nested list headers, no terminator. Must fail on depth, not
	// recurse past the limit or try to allocate per claimed element.
	var doc []byte
	doc = append(doc, byte(IDList), 0, 0)
	for i := 0; i < 10000; i++ {
		doc = append(doc, byte(IDList), 0, 0, 0, 1)
	}
	if _, _, err := Unmarshal(doc); !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestOversizedArrayRejectedBeforeAllocation(t *testing.T) {
	// Declares a 2^30-element int array backed by 4 bytes of input.
	doc := []byte{byte(IDIntArray), 0, 0, 0x40, 0, 0, 0, 0xde, 0xad, 0xbe, 0xef}
	if _, _, err := Unmarshal(doc); !errors.Is(err, codec.ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow, got %v", err)
	}

	// Negative byte-array length.
	doc = []byte{byte(IDByteArray), 0, 0, 0xff, 0xff, 0xff, 0xff}
	if _, _, err := Unmarshal(doc); !errors.Is(err, codec.ErrLengthOverflow) {
		t.Fatalf("expected ErrLengthOverflow for negative length, got %v", err)
	}
}

func TestTruncatedDocument(t *testing.T) {
	doc := Marshal("chunk", testTree())
	for _, cut := range []int{1, 2, len(doc) / 2, len(doc) - 1} {
		if _, _, err := Unmarshal(doc[:cut]); err == nil {
			t.Fatalf("truncation at %d bytes decoded successfully", cut)
		}
	}
}

func TestNonEmptyEndList(t *testing.T) {
	doc := []byte{byte(IDList), 0, 0, byte(IDEnd), 0, 0, 0, 5}
	if _, _, err := Unmarshal(doc); !errors.Is(err, ErrUnknownTagID) {
		t.Fatalf("expected rejection of non-empty end list, got %v", err)
	}
}

func TestEqualDisambiguates(t *testing.T) {
	a := Compound{"k": Int(1)}
	if Equal(a, Compound{"k": Int(2)}) {
		t.Fatalf("different values compared equal")
	}
	if Equal(a, Compound{"j": Int(1)}) {
		t.Fatalf("different keys compared equal")
	}
	if Equal(a, Compound{"k": Long(1)}) {
		t.Fatalf("different tag kinds compared equal")
	}
	if !Equal(List{Elem: IDEnd}, List{Elem: IDByte}) {
		t.Fatalf("empty lists must compare equal regardless of element id")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	tree := Compound{
		"zeta":  Int(1),
		"alpha": String("x"),
		"mid":   Compound{"b": Byte(2), "a": Byte(1)},
	}
	first := Marshal("root", tree)
	for i := 0; i < 8; i++ {
		if !bytes.Equal(Marshal("root", tree), first) {
			t.Fatalf("marshal of the same tree produced different bytes")
		}
	}
}

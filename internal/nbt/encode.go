package nbt

import (
	"fmt"
	"sort"

	"ironcraft.dev/internal/codec"
)

// Marshal encodes a named root tag into a standalone document.
func Marshal(name string, root Tag) []byte {
	e := codec.NewEncoder(256)
	e.UByte(byte(root.ID()))
	writeName(e, name)
	writePayload(e, root)
	return e.Bytes()
}

// Append encodes the document onto buf, for callers assembling larger frames.
func Append(buf []byte, name string, root Tag) []byte {
	e := codec.NewEncoder(0)
	e.Raw(buf)
	e.UByte(byte(root.ID()))
	writeName(e, name)
	writePayload(e, root)
	return e.Bytes()
}

func writeName(e *codec.Encoder, name string) {
	e.UShort(uint16(len(name)))
	e.Raw([]byte(name))
}

func writePayload(e *codec.Encoder, t Tag) {
	switch v := t.(type) {
	case Byte:
		e.Byte(int8(v))
	case Short:
		e.Short(int16(v))
	case Int:
		e.Int(int32(v))
	case Long:
		e.Long(int64(v))
	case Float:
		e.Float(float32(v))
	case Double:
		e.Double(float64(v))
	case ByteArray:
		e.Int(int32(len(v)))
		e.Raw(v)
	case String:
		writeName(e, string(v))
	case List:
		elem := v.Elem
		if len(v.Vals) > 0 {
			elem = v.Vals[0].ID()
		}
		e.UByte(byte(elem))
		e.Int(int32(len(v.Vals)))
		for _, item := range v.Vals {
			if item.ID() != elem {
				panic(fmt.Sprintf("nbt: heterogeneous list: %v in list of %v", item.ID(), elem))
			}
			writePayload(e, item)
		}
	case Compound:
		// Lexical name order so equal trees marshal to equal bytes.
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			item := v[name]
			e.UByte(byte(item.ID()))
			writeName(e, name)
			writePayload(e, item)
		}
		e.UByte(byte(IDEnd))
	case IntArray:
		e.Int(int32(len(v)))
		for _, n := range v {
			e.Int(n)
		}
	case LongArray:
		e.Int(int32(len(v)))
		for _, n := range v {
			e.Long(n)
		}
	default:
		panic(fmt.Sprintf("nbt: cannot encode %T", t))
	}
}

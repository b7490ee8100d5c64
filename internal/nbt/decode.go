package nbt

import (
	"fmt"

	"ironcraft.dev/internal/codec"
)

// Unmarshal decodes a document with DefaultMaxDepth.
func Unmarshal(b []byte) (name string, root Tag, err error) {
	return UnmarshalDepth(b, DefaultMaxDepth)
}

// UnmarshalDepth decodes a document, refusing trees nested deeper than
// maxDepth compounds/lists (crafted inputs must not exhaust the stack).
func UnmarshalDepth(b []byte, maxDepth int) (name string, root Tag, err error) {
	d := &decoder{r: codec.NewDecoder(b), maxDepth: maxDepth}
	id, err := d.tagID()
	if err != nil {
		return "", nil, err
	}
	if id == IDEnd {
		return "", nil, fmt.Errorf("nbt: %w: end tag as document root", ErrUnknownTagID)
	}
	name, err = d.name()
	if err != nil {
		return "", nil, err
	}
	root, err = d.payload(id, 0)
	if err != nil {
		return "", nil, err
	}
	return name, root, nil
}

type decoder struct {
	r        *codec.Decoder
	maxDepth int
}

func (d *decoder) tagID() (TagID, error) {
	b, err := d.r.UByte()
	if err != nil {
		return 0, err
	}
	id := TagID(b)
	if id > maxTagID {
		return 0, fmt.Errorf("nbt: %w: 0x%02x at +%d", ErrUnknownTagID, b, d.r.Off()-1)
	}
	return id, nil
}

func (d *decoder) name() (string, error) {
	n, err := d.r.UShort()
	if err != nil {
		return "", err
	}
	b, err := d.r.Raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// arrayLen validates a declared element count against the remaining input
// before any allocation happens. Every element occupies at least elemSize
// bytes, so a count that cannot fit is rejected up front.
func (d *decoder) arrayLen(n int32, elemSize int, what string) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("nbt: %w: negative %s length %d", codec.ErrLengthOverflow, what, n)
	}
	if int(n)*elemSize > d.r.Remaining() {
		return 0, fmt.Errorf("nbt: %w: %s length %d exceeds %d remaining bytes", codec.ErrLengthOverflow, what, n, d.r.Remaining())
	}
	return int(n), nil
}

func (d *decoder) payload(id TagID, depth int) (Tag, error) {
	switch id {
	case IDByte:
		v, err := d.r.Byte()
		return Byte(v), err
	case IDShort:
		v, err := d.r.Short()
		return Short(v), err
	case IDInt:
		v, err := d.r.Int()
		return Int(v), err
	case IDLong:
		v, err := d.r.Long()
		return Long(v), err
	case IDFloat:
		v, err := d.r.Float()
		return Float(v), err
	case IDDouble:
		v, err := d.r.Double()
		return Double(v), err
	case IDByteArray:
		n, err := d.r.Int()
		if err != nil {
			return nil, err
		}
		ln, err := d.arrayLen(n, 1, "byte array")
		if err != nil {
			return nil, err
		}
		raw, err := d.r.Raw(ln)
		if err != nil {
			return nil, err
		}
		out := make(ByteArray, ln)
		copy(out, raw)
		return out, nil
	case IDString:
		s, err := d.name()
		return String(s), err
	case IDList:
		return d.list(depth)
	case IDCompound:
		return d.compound(depth)
	case IDIntArray:
		n, err := d.r.Int()
		if err != nil {
			return nil, err
		}
		ln, err := d.arrayLen(n, 4, "int array")
		if err != nil {
			return nil, err
		}
		out := make(IntArray, ln)
		for i := range out {
			v, err := d.r.Int()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case IDLongArray:
		n, err := d.r.Int()
		if err != nil {
			return nil, err
		}
		ln, err := d.arrayLen(n, 8, "long array")
		if err != nil {
			return nil, err
		}
		out := make(LongArray, ln)
		for i := range out {
			v, err := d.r.Long()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("nbt: %w: %d", ErrUnknownTagID, id)
}

func (d *decoder) list(depth int) (Tag, error) {
	if depth+1 > d.maxDepth {
		return nil, fmt.Errorf("nbt: %w (limit %d)", ErrDepthExceeded, d.maxDepth)
	}
	elem, err := d.tagID()
	if err != nil {
		return nil, err
	}
	n, err := d.r.Int()
	if err != nil {
		return nil, err
	}
	if elem == IDEnd && n > 0 {
		return nil, fmt.Errorf("nbt: %w: end tag in non-empty list", ErrUnknownTagID)
	}
	ln, err := d.arrayLen(n, 1, "list")
	if err != nil {
		return nil, err
	}
	out := List{Elem: elem, Vals: make([]Tag, 0, ln)}
	for i := 0; i < ln; i++ {
		item, err := d.payload(elem, depth+1)
		if err != nil {
			return nil, err
		}
		out.Vals = append(out.Vals, item)
	}
	return out, nil
}

func (d *decoder) compound(depth int) (Tag, error) {
	if depth+1 > d.maxDepth {
		return nil, fmt.Errorf("nbt: %w (limit %d)", ErrDepthExceeded, d.maxDepth)
	}
	out := Compound{}
	for {
		id, err := d.tagID()
		if err != nil {
			return nil, err
		}
		if id == IDEnd {
			return out, nil
		}
		name, err := d.name()
		if err != nil {
			return nil, err
		}
		item, err := d.payload(id, depth+1)
		if err != nil {
			return nil, err
		}
		out[name] = item
	}
}

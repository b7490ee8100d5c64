// Package nbt implements the self-describing tagged-tree format used for
// structured packet fields and persisted chunk payloads. A document is
// [tag id][uint16-prefixed name][payload] with a named root; all integers are
// big-endian and strings are uint16-length-prefixed UTF-8.
package nbt

import (
	"errors"
)

type TagID byte

const (
	IDEnd TagID = iota
	IDByte
	IDShort
	IDInt
	IDLong
	IDFloat
	IDDouble
	IDByteArray
	IDString
	IDList
	IDCompound
	IDIntArray
	IDLongArray

	maxTagID = IDLongArray
)

var tagNames = [...]string{
	"End", "Byte", "Short", "Int", "Long", "Float", "Double",
	"ByteArray", "String", "List", "Compound", "IntArray", "LongArray",
}

func (id TagID) String() string {
	if id > maxTagID {
		return "Unknown"
	}
	return tagNames[id]
}

var (
	// ErrUnknownTagID is returned when a decode encounters a discriminant
	// outside the closed tag set.
	ErrUnknownTagID = errors.New("unknown tag id")

	// ErrDepthExceeded is returned when nesting passes the decoder's limit.
	ErrDepthExceeded = errors.New("tag tree depth exceeded")
)

// DefaultMaxDepth bounds nesting for decodes that do not pick their own limit.
const DefaultMaxDepth = 512

// Tag is one node of the tree. The closed set of implementations below maps
// 1:1 onto the wire discriminants; there is no way to introduce a new kind at
// runtime.
type Tag interface {
	ID() TagID
}

type Byte int8
type Short int16
type Int int32
type Long int64
type Float float32
type Double float64
type ByteArray []byte
type String string

// List holds elements that all share one tag id. An empty list may carry
// IDEnd as its element id.
type List struct {
	Elem TagID
	Vals []Tag
}

// Compound maps unique names to tags; entry order is not significant.
type Compound map[string]Tag

type IntArray []int32
type LongArray []int64

func (Byte) ID() TagID { return IDByte }
func (Short) ID() TagID { return IDShort }
func (Int) ID() TagID { return IDInt }
func (Long) ID() TagID { return IDLong }
func (Float) ID() TagID { return IDFloat }
func (Double) ID() TagID { return IDDouble }
func (ByteArray) ID() TagID { return IDByteArray }
func (String) ID() TagID { return IDString }
func (List) ID() TagID { return IDList }
func (Compound) ID() TagID { return IDCompound }
func (IntArray) ID() TagID { return IDIntArray }
func (LongArray) ID() TagID { return IDLongArray }

// Equal reports deep equality of two trees. Compound entry order is ignored;
// list element order matters.
func Equal(a, b Tag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ID() != b.ID() {
		return false
	}
	switch av := a.(type) {
	case Byte:
		return av == b.(Byte)
	case Short:
		return av == b.(Short)
	case Int:
		return av == b.(Int)
	case Long:
		return av == b.(Long)
	case Float:
		return av == b.(Float)
	case Double:
		return av == b.(Double)
	case String:
		return av == b.(String)
	case ByteArray:
		bv := b.(ByteArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case IntArray:
		bv := b.(IntArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case LongArray:
		bv := b.(LongArray)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case List:
		bv := b.(List)
		if len(av.Vals) != len(bv.Vals) {
			return false
		}
		if len(av.Vals) == 0 {
			return true
		}
		if av.Elem != bv.Elem {
			return false
		}
		for i := range av.Vals {
			if !Equal(av.Vals[i], bv.Vals[i]) {
				return false
			}
		}
		return true
	case Compound:
		bv := b.(Compound)
		if len(av) != len(bv) {
			return false
		}
		for k, at := range av {
			bt, ok := bv[k]
			if !ok || !Equal(at, bt) {
				return false
			}
		}
		return true
	}
	return false
}

package nbt

// CompoundBuilder assembles a Compound fluently, for construction sites where
// entries come from loops or conditionals rather than one literal.
type CompoundBuilder struct {
	c Compound
}

func NewCompound() *CompoundBuilder { return &CompoundBuilder{c: Compound{}} }

func (b *CompoundBuilder) Set(name string, t Tag) *CompoundBuilder {
	b.c[name] = t
	return b
}

func (b *CompoundBuilder) Byte(name string, v int8) *CompoundBuilder { return b.Set(name, Byte(v)) }
func (b *CompoundBuilder) Int(name string, v int32) *CompoundBuilder { return b.Set(name, Int(v)) }
func (b *CompoundBuilder) Long(name string, v int64) *CompoundBuilder { return b.Set(name, Long(v)) }

func (b *CompoundBuilder) String(name string, v string) *CompoundBuilder {
	return b.Set(name, String(v))
}

func (b *CompoundBuilder) Build() Compound { return b.c }

// MakeList builds a List whose element id is taken from the first value.
// All values must share one tag id; Marshal panics on a mixed list.
func MakeList(vals ...Tag) List {
	elem := IDEnd
	if len(vals) > 0 {
		elem = vals[0].ID()
	}
	return List{Elem: elem, Vals: vals}
}

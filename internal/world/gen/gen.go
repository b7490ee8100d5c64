// Package gen provides generation collaborators for the chunk service. The
// service calls a Generator only on a confirmed store miss, at most once per
// flight; implementations must be deterministic so a chunk regenerated after
// a cache wipe is byte-identical to its first incarnation.
package gen

import (
	"context"
	"math/bits"

	"ironcraft.dev/internal/nbt"
	"ironcraft.dev/internal/world"
)

// Func adapts a plain function to the world.Generator interface.
type Func func(ctx context.Context, pos world.ChunkPos) (*world.ChunkPayload, error)

func (f Func) Generate(ctx context.Context, pos world.ChunkPos) (*world.ChunkPayload, error) {
	return f(ctx, pos)
}

const (
	chunkSpan   = 16 // blocks per chunk side
	sectionSpan = 16 // blocks per section vertically

	airBlock = "air"
)

// Layer is a run of identical blocks at the bottom of every column.
type Layer struct {
	Block string
	Count int
}

// DefaultLayers is a bedrock floor under a stone slab.
var DefaultLayers = []Layer{
	{Block: "bedrock", Count: 1},
	{Block: "stone", Count: 3},
}

// Flat repeats one block column across the whole grid. Every chunk therefore
// marshals to the same tag tree apart from its coordinates, and the sections
// and heightmap are built once up front and shared between calls.
type Flat struct {
	surface   int
	sections  nbt.List
	heightmap nbt.LongArray
}

// NewFlat builds a flat generator from bottom-up layers; nil means
// DefaultLayers. World height is rounded up to a whole number of sections,
// 64 at minimum.
func NewFlat(layers []Layer) *Flat {
	if layers == nil {
		layers = DefaultLayers
	}
	column := make([]string, 0, 64)
	for _, l := range layers {
		for i := 0; i < l.Count; i++ {
			column = append(column, l.Block)
		}
	}
	height := len(column)
	if height < 64 {
		height = 64
	}
	if rem := height % sectionSpan; rem != 0 {
		height += sectionSpan - rem
	}
	for len(column) < height {
		column = append(column, airBlock)
	}

	f := &Flat{surface: columnSurface(column)}
	f.sections = buildSections(column)
	f.heightmap = packHeights(f.surface, height)
	return f
}

// Surface is the y of the highest generated block plus one, the natural
// placement height for entities entering a fresh chunk.
func (f *Flat) Surface() int { return f.surface }

func (f *Flat) Generate(_ context.Context, pos world.ChunkPos) (*world.ChunkPayload, error) {
	root := nbt.NewCompound().
		Int("xPos", pos.X).
		Int("zPos", pos.Z).
		String("status", "full").
		Set("sections", f.sections).
		Set("heightmap", f.heightmap).
		Build()
	return &world.ChunkPayload{Data: nbt.Marshal("chunk", root)}, nil
}

// columnSurface is the y of the highest non-air block plus one, zero for an
// all-air column.
func columnSurface(column []string) int {
	for y := len(column) - 1; y >= 0; y-- {
		if column[y] != airBlock {
			return y + 1
		}
	}
	return 0
}

// buildSections slices the column into 16-block sections. A uniform section
// carries only its palette; a mixed one adds a bit-packed index array, one
// entry per block in y,z,x order, entries never spanning longs.
func buildSections(column []string) nbt.List {
	sections := make([]nbt.Tag, 0, len(column)/sectionSpan)
	for base := 0; base < len(column); base += sectionSpan {
		slab := column[base : base+sectionSpan]
		palette, indices := paletteOf(slab)

		paletteTags := make([]nbt.Tag, len(palette))
		for i, name := range palette {
			paletteTags[i] = nbt.String(name)
		}
		b := nbt.NewCompound().
			Byte("y", int8(base/sectionSpan)).
			Set("palette", nbt.MakeList(paletteTags...))
		if len(palette) > 1 {
			b.Set("data", packSection(indices, len(palette)))
		}
		sections = append(sections, b.Build())
	}
	return nbt.MakeList(sections...)
}

// paletteOf returns the slab's distinct blocks in first-appearance order and
// each y's palette index.
func paletteOf(slab []string) ([]string, []int) {
	palette := make([]string, 0, 4)
	seen := map[string]int{}
	indices := make([]int, len(slab))
	for y, block := range slab {
		idx, ok := seen[block]
		if !ok {
			idx = len(palette)
			seen[block] = idx
			palette = append(palette, block)
		}
		indices[y] = idx
	}
	return palette, indices
}

// packSection packs palette indices for all 16x16x16 blocks. Entry width is
// at least 4 bits; in a flat world the index depends only on y.
func packSection(byY []int, paletteLen int) nbt.LongArray {
	width := bits.Len(uint(paletteLen - 1))
	if width < 4 {
		width = 4
	}
	perLong := 64 / width
	total := chunkSpan * chunkSpan * sectionSpan

	out := make(nbt.LongArray, 0, (total+perLong-1)/perLong)
	var cur uint64
	filled := 0
	for i := 0; i < total; i++ {
		y := i / (chunkSpan * chunkSpan)
		cur |= uint64(byY[y]) << (filled * width)
		filled++
		if filled == perLong {
			out = append(out, int64(cur))
			cur, filled = 0, 0
		}
	}
	if filled > 0 {
		out = append(out, int64(cur))
	}
	return out
}

// packHeights packs one surface height per column, 256 entries, with just
// enough bits for the world height.
func packHeights(surface, height int) nbt.LongArray {
	width := bits.Len(uint(height))
	perLong := 64 / width
	total := chunkSpan * chunkSpan

	out := make(nbt.LongArray, 0, (total+perLong-1)/perLong)
	var cur uint64
	filled := 0
	for i := 0; i < total; i++ {
		cur |= uint64(surface) << (filled * width)
		filled++
		if filled == perLong {
			out = append(out, int64(cur))
			cur, filled = 0, 0
		}
	}
	if filled > 0 {
		out = append(out, int64(cur))
	}
	return out
}

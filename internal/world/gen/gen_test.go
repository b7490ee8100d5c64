package gen

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"ironcraft.dev/internal/nbt"
	"ironcraft.dev/internal/world"
)

func generate(t *testing.T, f *Flat, pos world.ChunkPos) []byte {
	t.Helper()
	p, err := f.Generate(context.Background(), pos)
	if err != nil {
		t.Fatalf("generate %v: %v", pos, err)
	}
	return p.Data
}

func TestFlatDeterministic(t *testing.T) {
	pos := world.ChunkPos{Dim: "overworld", X: 3, Z: -7}
	a := generate(t, NewFlat(nil), pos)
	b := generate(t, NewFlat(nil), pos)
	if !bytes.Equal(a, b) {
		t.Fatalf("same position generated different bytes")
	}
	other := generate(t, NewFlat(nil), world.ChunkPos{Dim: "overworld", X: 4, Z: -7})
	if bytes.Equal(a, other) {
		t.Fatalf("different positions generated identical bytes")
	}
}

func TestFlatPayloadShape(t *testing.T) {
	f := NewFlat(nil)
	data := generate(t, f, world.ChunkPos{Dim: "overworld", X: 12, Z: 34})

	name, root, err := nbt.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if name != "chunk" {
		t.Fatalf("root name = %q", name)
	}
	c, ok := root.(nbt.Compound)
	if !ok {
		t.Fatalf("root = %T", root)
	}
	if c["xPos"] != nbt.Int(12) || c["zPos"] != nbt.Int(34) {
		t.Fatalf("coordinates = %v, %v", c["xPos"], c["zPos"])
	}
	if c["status"] != nbt.String("full") {
		t.Fatalf("status = %v", c["status"])
	}

	sections, ok := c["sections"].(nbt.List)
	if !ok || len(sections.Vals) != 4 {
		t.Fatalf("sections = %v", c["sections"])
	}

	// Bottom section mixes bedrock, stone and air, so it carries packed
	// indices; everything above is uniform air with a bare palette.
	bottom := sections.Vals[0].(nbt.Compound)
	pal := bottom["palette"].(nbt.List)
	if len(pal.Vals) != 3 {
		t.Fatalf("bottom palette = %v", pal.Vals)
	}
	if pal.Vals[0] != nbt.String("bedrock") || pal.Vals[1] != nbt.String("stone") {
		t.Fatalf("bottom palette order = %v", pal.Vals)
	}
	if _, ok := bottom["data"].(nbt.LongArray); !ok {
		t.Fatalf("bottom section missing packed data")
	}
	for i := 1; i < 4; i++ {
		sec := sections.Vals[i].(nbt.Compound)
		pal := sec["palette"].(nbt.List)
		if len(pal.Vals) != 1 || pal.Vals[0] != nbt.String("air") {
			t.Fatalf("section %d palette = %v", i, pal.Vals)
		}
		if _, ok := sec["data"]; ok {
			t.Fatalf("uniform section %d carries data", i)
		}
	}
}

func TestFlatHeightmap(t *testing.T) {
	f := NewFlat(nil)
	if f.Surface() != 4 {
		t.Fatalf("surface = %d, want 4", f.Surface())
	}
	data := generate(t, f, world.ChunkPos{Dim: "overworld"})
	_, root, err := nbt.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	hm, ok := root.(nbt.Compound)["heightmap"].(nbt.LongArray)
	if !ok || len(hm) == 0 {
		t.Fatalf("heightmap = %v", hm)
	}
	// Height 64 packs at 7 bits per column; the first entry is in the low
	// bits of the first long.
	if got := hm[0] & 0x7f; got != 4 {
		t.Fatalf("first packed height = %d, want 4", got)
	}
}

func TestFlatCustomLayers(t *testing.T) {
	f := NewFlat([]Layer{{Block: "sandstone", Count: 16}})
	data := generate(t, f, world.ChunkPos{Dim: "nether", X: 1, Z: 1})
	_, root, err := nbt.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sections := root.(nbt.Compound)["sections"].(nbt.List)
	bottom := sections.Vals[0].(nbt.Compound)
	pal := bottom["palette"].(nbt.List)
	if len(pal.Vals) != 1 || pal.Vals[0] != nbt.String("sandstone") {
		t.Fatalf("bottom palette = %v", pal.Vals)
	}
	if _, ok := bottom["data"]; ok {
		t.Fatalf("uniform bottom section carries data")
	}
	if f.Surface() != 16 {
		t.Fatalf("surface = %d, want 16", f.Surface())
	}
}

func TestFuncAdapter(t *testing.T) {
	boom := errors.New("boom")
	var g world.Generator = Func(func(ctx context.Context, pos world.ChunkPos) (*world.ChunkPayload, error) {
		if pos.X < 0 {
			return nil, boom
		}
		return &world.ChunkPayload{Data: []byte(pos.String())}, nil
	})
	p, err := g.Generate(context.Background(), world.ChunkPos{Dim: "overworld", X: 1, Z: 2})
	if err != nil || !bytes.Equal(p.Data, []byte("overworld:1,2")) {
		t.Fatalf("adapter = %v, %v", p, err)
	}
	if _, err := g.Generate(context.Background(), world.ChunkPos{Dim: "overworld", X: -1}); !errors.Is(err, boom) {
		t.Fatalf("adapter error = %v", err)
	}
}

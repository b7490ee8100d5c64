// Package world provides the chunk service: a bounded concurrent cache over
// the persistent store with single-flight loads, write-through persistence
// and a pluggable generation collaborator. Payloads at this layer are
// decompressed tag-tree bytes; compression happens only at the store
// boundary, gated so connection loops never run large CPU jobs inline.
package world

import (
	"errors"
	"fmt"

	"ironcraft.dev/internal/store"
)

var (
	// ErrLoadDetached is returned to a caller whose context was canceled
	// while a shared chunk load was in flight. The load itself keeps
	// running for the remaining callers.
	ErrLoadDetached = errors.New("detached from chunk load")

	// ErrNotFound is returned for a confirmed store miss when no generation
	// collaborator is wired.
	ErrNotFound = errors.New("chunk not found")
)

// ChunkPos addresses one chunk globally: dimension plus chunk coordinates.
type ChunkPos struct {
	Dim  string
	X, Z int32
}

func (p ChunkPos) String() string { return fmt.Sprintf("%s:%d,%d", p.Dim, p.X, p.Z) }

func (p ChunkPos) storeKey() store.Key { return store.Key{Dim: p.Dim, X: p.X, Z: p.Z} }

// ChunkPayload carries one chunk's serialized tag tree, decompressed. The
// service treats it as opaque bytes.
type ChunkPayload struct {
	Data []byte
}

func (p *ChunkPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

package world

import (
	"context"
	"fmt"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/store"
)

// PayloadStore is the slice of the persistent store the service needs.
type PayloadStore interface {
	Get(k store.Key) (*store.CompressedPayload, error)
	Put(k store.Key, p store.CompressedPayload) error
}

// Generator produces a payload for a chunk that has never been stored. It is
// the gameplay side's collaborator; the service only promises to call it at
// most once per missing chunk per flight.
type Generator interface {
	Generate(ctx context.Context, pos ChunkPos) (*ChunkPayload, error)
}

type ServiceOptions struct {
	// CacheEntries bounds the in-memory cache; <= 0 uses the default.
	CacheEntries int
	// Scheme is the compression applied to persisted payloads.
	Scheme compress.Scheme
	// Gate bounds CPU work; nil creates one per-CPU gate.
	Gate *CPUGate
}

// Service is the chunk surface the rest of the process talks to.
type Service struct {
	store  PayloadStore
	gen    Generator
	cache  *ChunkCache
	gate   *CPUGate
	scheme compress.Scheme
}

func NewService(st PayloadStore, gen Generator, opts ServiceOptions) (*Service, error) {
	if !opts.Scheme.Valid() {
		return nil, fmt.Errorf("service: invalid persist scheme %d", opts.Scheme)
	}
	cache, err := NewChunkCache(opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewCPUGate(0)
	}
	return &Service{store: st, gen: gen, cache: cache, gate: gate, scheme: opts.Scheme}, nil
}

// RequestChunk resolves pos: cache, then store, then the generator on a
// confirmed store miss. Store I/O errors surface to the caller and never
// fall through to generation; only a (nil, nil) store answer counts as
// absent. Generated payloads are persisted before the flight publishes them.
func (s *Service) RequestChunk(ctx context.Context, pos ChunkPos) (*ChunkPayload, error) {
	return s.cache.GetOrLoad(ctx, pos, func(ctx context.Context) (*ChunkPayload, error) {
		return s.loadOrGenerate(ctx, pos)
	})
}

func (s *Service) loadOrGenerate(ctx context.Context, pos ChunkPos) (*ChunkPayload, error) {
	rec, err := s.store.Get(pos.storeKey())
	if err != nil {
		return nil, fmt.Errorf("store get %v: %w", pos, err)
	}
	if rec != nil {
		var data []byte
		var derr error
		if err := s.gate.Do(ctx, func() {
			data, derr = compress.Decompress(rec.Scheme, rec.Data, -1)
		}); err != nil {
			return nil, err
		}
		if derr != nil {
			return nil, fmt.Errorf("decompress %v: %w", pos, derr)
		}
		return &ChunkPayload{Data: data}, nil
	}
	if s.gen == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, pos)
	}
	p, err := s.gen.Generate(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("generate %v: %w", pos, err)
	}
	if err := s.persist(ctx, pos, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PersistChunk writes a mutated payload through to the store and only then
// publishes it to the cache.
func (s *Service) PersistChunk(ctx context.Context, pos ChunkPos, p *ChunkPayload) error {
	return s.cache.PutAndPersist(ctx, pos, p, s.persist)
}

func (s *Service) persist(ctx context.Context, pos ChunkPos, p *ChunkPayload) error {
	var enc []byte
	var cerr error
	if err := s.gate.Do(ctx, func() {
		enc, cerr = compress.Compress(s.scheme, p.Data)
	}); err != nil {
		return err
	}
	if cerr != nil {
		return fmt.Errorf("compress %v: %w", pos, cerr)
	}
	if err := s.store.Put(pos.storeKey(), store.CompressedPayload{Scheme: s.scheme, Data: enc}); err != nil {
		return fmt.Errorf("store put %v: %w", pos, err)
	}
	return nil
}

// Cache exposes the underlying cache for stats and admin invalidation.
func (s *Service) Cache() *ChunkCache { return s.cache }

func (s *Service) Stats() CacheStats { return s.cache.Stats() }

package world

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CacheStats is a point-in-time counter snapshot.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Loads     uint64
	Evictions uint64
}

// ChunkCache is a bounded LRU of decompressed chunk payloads with
// single-flight loading: at most one load runs per key no matter how many
// goroutines ask, and all of them share the result.
type ChunkCache struct {
	lru   *lru.Cache[ChunkPos, *ChunkPayload]
	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	loads     atomic.Uint64
	evictions atomic.Uint64
}

func NewChunkCache(entries int) (*ChunkCache, error) {
	if entries <= 0 {
		entries = 1024
	}
	c := &ChunkCache{}
	l, err := lru.NewWithEvict(entries, func(ChunkPos, *ChunkPayload) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// GetOrLoad returns the cached payload or runs load for it. Concurrent
// callers for the same position join one flight. A caller whose ctx is
// canceled detaches with ErrLoadDetached; the flight itself continues on a
// context stripped of that caller's cancellation, and its result is still
// published for everyone else.
func (c *ChunkCache) GetOrLoad(ctx context.Context, pos ChunkPos, load func(context.Context) (*ChunkPayload, error)) (*ChunkPayload, error) {
	if p, ok := c.lru.Get(pos); ok {
		c.hits.Add(1)
		return p, nil
	}
	c.misses.Add(1)
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(pos.String(), func() (any, error) {
		c.loads.Add(1)
		p, err := load(flight)
		if err != nil {
			return nil, err
		}
		c.lru.Add(pos, p)
		return p, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ChunkPayload), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLoadDetached, ctx.Err())
	}
}

// PutAndPersist is the write-through path: persist must succeed before the
// entry is published to readers and before this returns.
func (c *ChunkCache) PutAndPersist(ctx context.Context, pos ChunkPos, p *ChunkPayload, persist func(context.Context, ChunkPos, *ChunkPayload) error) error {
	if err := persist(ctx, pos, p); err != nil {
		return err
	}
	c.lru.Add(pos, p)
	return nil
}

// Put publishes without persisting, for entries whose durability is handled
// elsewhere.
func (c *ChunkCache) Put(pos ChunkPos, p *ChunkPayload) { c.lru.Add(pos, p) }

// Invalidate drops the entry; the next GetOrLoad will reload.
func (c *ChunkCache) Invalidate(pos ChunkPos) { c.lru.Remove(pos) }

// Peek reads without bumping recency, for tests and stats endpoints.
func (c *ChunkCache) Peek(pos ChunkPos) (*ChunkPayload, bool) { return c.lru.Peek(pos) }

func (c *ChunkCache) Len() int { return c.lru.Len() }

func (c *ChunkCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
	}
}

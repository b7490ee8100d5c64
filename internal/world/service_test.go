package world

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	m        map[store.Key]store.CompressedPayload
	gets     atomic.Int64
	puts     atomic.Int64
	getDelay time.Duration
	getErr   error
}

func newMemStore() *memStore {
	return &memStore{m: map[store.Key]store.CompressedPayload{}}
}

func (s *memStore) Get(k store.Key) (*store.CompressedPayload, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.getDelay > 0 {
		time.Sleep(s.getDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[k]
	if !ok {
		return nil, nil
	}
	cp := store.CompressedPayload{Scheme: p.Scheme, Data: append([]byte(nil), p.Data...)}
	return &cp, nil
}

func (s *memStore) Put(k store.Key, p store.CompressedPayload) error {
	s.puts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = store.CompressedPayload{Scheme: p.Scheme, Data: append([]byte(nil), p.Data...)}
	return nil
}

func (s *memStore) preload(t *testing.T, k store.Key, data []byte) {
	t.Helper()
	enc, err := compress.Compress(compress.Zstd, data)
	if err != nil {
		t.Fatalf("preload compress: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = store.CompressedPayload{Scheme: compress.Zstd, Data: enc}
}

type countingGen struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (g *countingGen) Generate(ctx context.Context, pos ChunkPos) (*ChunkPayload, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &ChunkPayload{Data: []byte("gen:" + pos.String())}, nil
}

func newService(t *testing.T, st PayloadStore, gen Generator) *Service {
	t.Helper()
	svc, err := NewService(st, gen, ServiceOptions{CacheEntries: 64, Scheme: compress.Zstd})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRequestChunkFromStore(t *testing.T) {
	st := newMemStore()
	pos := ChunkPos{Dim: "overworld", X: 1, Z: 2}
	st.preload(t, store.Key{Dim: "overworld", X: 1, Z: 2}, []byte("stored chunk"))

	svc := newService(t, st, nil)
	p, err := svc.RequestChunk(context.Background(), pos)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !bytes.Equal(p.Data, []byte("stored chunk")) {
		t.Fatalf("payload = %q", p.Data)
	}

	// Second request must come from cache.
	if _, err := svc.RequestChunk(context.Background(), pos); err != nil {
		t.Fatalf("request: %v", err)
	}
	if n := st.gets.Load(); n != 1 {
		t.Fatalf("store gets = %d, want 1", n)
	}
	stats := svc.Stats()
	if stats.Hits != 1 || stats.Loads != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSingleFlightUnderContention(t *testing.T) {
	st := newMemStore()
	st.getDelay = 100 * time.Millisecond
	pos := ChunkPos{Dim: "overworld", X: 7, Z: -3}
	st.preload(t, store.Key{Dim: "overworld", X: 7, Z: -3}, []byte("contended"))

	svc := newService(t, st, nil)

	const n = 50
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]*ChunkPayload, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.RequestChunk(context.Background(), pos)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i].Data, []byte("contended")) {
			t.Fatalf("caller %d payload = %q", i, results[i].Data)
		}
	}
	if got := st.gets.Load(); got != 1 {
		t.Fatalf("store gets = %d, want 1", got)
	}
	if stats := svc.Stats(); stats.Loads != 1 {
		t.Fatalf("loads = %d, want 1", stats.Loads)
	}
}

func TestGenerateExactlyOnce(t *testing.T) {
	st := newMemStore()
	gen := &countingGen{delay: 100 * time.Millisecond}
	pos := ChunkPos{Dim: "overworld", X: 0, Z: 0}
	svc := newService(t, st, gen)

	const n = 50
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]*ChunkPayload, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.RequestChunk(context.Background(), pos)
		}(i)
	}
	close(start)
	wg.Wait()

	want := []byte("gen:overworld:0,0")
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i].Data, want) {
			t.Fatalf("caller %d payload = %q", i, results[i].Data)
		}
	}
	if calls := gen.calls.Load(); calls != 1 {
		t.Fatalf("generator ran %d times, want 1", calls)
	}
	// The generated payload was written through before publication.
	if puts := st.puts.Load(); puts != 1 {
		t.Fatalf("store puts = %d, want 1", puts)
	}
	rec, err := st.Get(store.Key{Dim: "overworld", X: 0, Z: 0})
	if err != nil || rec == nil {
		t.Fatalf("generated chunk not persisted: %v, %v", rec, err)
	}
	dec, err := compress.Decompress(rec.Scheme, rec.Data, -1)
	if err != nil || !bytes.Equal(dec, want) {
		t.Fatalf("persisted record = %q, %v", dec, err)
	}
}

func TestStoreErrorDoesNotGenerate(t *testing.T) {
	st := newMemStore()
	st.getErr = errors.New("disk failure")
	gen := &countingGen{}
	svc := newService(t, st, gen)

	_, err := svc.RequestChunk(context.Background(), ChunkPos{Dim: "overworld", X: 1, Z: 1})
	if err == nil || !errors.Is(err, st.getErr) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator ran on store I/O error")
	}
}

func TestMissWithoutGenerator(t *testing.T) {
	svc := newService(t, newMemStore(), nil)
	_, err := svc.RequestChunk(context.Background(), ChunkPos{Dim: "overworld", X: 9, Z: 9})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDetachOnCancel(t *testing.T) {
	st := newMemStore()
	st.getDelay = 300 * time.Millisecond
	pos := ChunkPos{Dim: "overworld", X: 5, Z: 5}
	st.preload(t, store.Key{Dim: "overworld", X: 5, Z: 5}, []byte("slow chunk"))
	svc := newService(t, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.RequestChunk(ctx, pos)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-errc
	if !errors.Is(err, ErrLoadDetached) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want ErrLoadDetached wrapping Canceled, got %v", err)
	}

	// The flight was not aborted: a later caller gets the value without a
	// second store read.
	p, err := svc.RequestChunk(context.Background(), pos)
	if err != nil {
		t.Fatalf("second caller: %v", err)
	}
	if !bytes.Equal(p.Data, []byte("slow chunk")) {
		t.Fatalf("second caller payload = %q", p.Data)
	}
	if got := st.gets.Load(); got != 1 {
		t.Fatalf("store gets = %d, want 1", got)
	}
}

func TestPersistChunkWriteThrough(t *testing.T) {
	st := newMemStore()
	pos := ChunkPos{Dim: "overworld", X: 2, Z: 2}
	svc := newService(t, st, nil)

	p := &ChunkPayload{Data: []byte("mutated")}
	if err := svc.PersistChunk(context.Background(), pos, p); err != nil {
		t.Fatalf("persist: %v", err)
	}
	rec, err := st.Get(store.Key{Dim: "overworld", X: 2, Z: 2})
	if err != nil || rec == nil {
		t.Fatalf("store record missing: %v, %v", rec, err)
	}
	if rec.Scheme != compress.Zstd {
		t.Fatalf("persist scheme = %v", rec.Scheme)
	}
	dec, err := compress.Decompress(rec.Scheme, rec.Data, -1)
	if err != nil || !bytes.Equal(dec, []byte("mutated")) {
		t.Fatalf("persisted record = %q, %v", dec, err)
	}
	if got, ok := svc.Cache().Peek(pos); !ok || !bytes.Equal(got.Data, []byte("mutated")) {
		t.Fatalf("cache not updated: %v, %v", got, ok)
	}
}

func TestPutAndPersistOrdering(t *testing.T) {
	c, err := NewChunkCache(8)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	pos := ChunkPos{Dim: "overworld", X: 1, Z: 1}
	p := &ChunkPayload{Data: []byte("x")}

	err = c.PutAndPersist(context.Background(), pos, p, func(context.Context, ChunkPos, *ChunkPayload) error {
		if _, ok := c.Peek(pos); ok {
			t.Fatalf("entry published before persist completed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put and persist: %v", err)
	}
	if _, ok := c.Peek(pos); !ok {
		t.Fatalf("entry not published after persist")
	}

	// A failing persist must not publish.
	boom := errors.New("boom")
	other := ChunkPos{Dim: "overworld", X: 2, Z: 1}
	err = c.PutAndPersist(context.Background(), other, p, func(context.Context, ChunkPos, *ChunkPayload) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want persist error, got %v", err)
	}
	if _, ok := c.Peek(other); ok {
		t.Fatalf("failed persist still published")
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	st := newMemStore()
	pos := ChunkPos{Dim: "overworld", X: 4, Z: 4}
	st.preload(t, store.Key{Dim: "overworld", X: 4, Z: 4}, []byte("v1"))
	svc := newService(t, st, nil)

	if _, err := svc.RequestChunk(context.Background(), pos); err != nil {
		t.Fatalf("request: %v", err)
	}
	st.preload(t, store.Key{Dim: "overworld", X: 4, Z: 4}, []byte("v2"))
	svc.Cache().Invalidate(pos)

	p, err := svc.RequestChunk(context.Background(), pos)
	if err != nil {
		t.Fatalf("request after invalidate: %v", err)
	}
	if !bytes.Equal(p.Data, []byte("v2")) {
		t.Fatalf("payload after invalidate = %q", p.Data)
	}
	if got := st.gets.Load(); got != 2 {
		t.Fatalf("store gets = %d, want 2", got)
	}
}

func TestCacheEviction(t *testing.T) {
	c, err := NewChunkCache(2)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	for i := int32(0); i < 3; i++ {
		c.Put(ChunkPos{Dim: "overworld", X: i, Z: 0}, &ChunkPayload{Data: []byte{byte(i)}})
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Fatalf("evictions = %d, want 1", ev)
	}
}

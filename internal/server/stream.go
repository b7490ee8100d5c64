package server

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"ironcraft.dev/internal/protocol"
	"ironcraft.dev/internal/world"
)

// prefetchDepth bounds how many chunk loads one session keeps in flight
// ahead of its send cursor. The service's CPU gate bounds the process-wide
// decompress/generate work underneath.
const prefetchDepth = 4

type chunkCoord struct{ x, z int32 }

// streamer keeps one session's loaded chunk set matching the view radius
// around a moving center. It runs on its own goroutine once the session
// enters play; retargets are latest-wins and interrupt an in-progress batch
// between sends.
type streamer struct {
	s       *session
	radius  atomic.Int32
	updates chan chunkCoord
	loaded  map[chunkCoord]struct{}
}

func newStreamer(s *session) *streamer {
	st := &streamer{
		s:       s,
		updates: make(chan chunkCoord, 1),
		loaded:  make(map[chunkCoord]struct{}),
	}
	st.radius.Store(int32(s.srv.opts.ViewRadius))
	return st
}

func (st *streamer) setRadius(r int) { st.radius.Store(int32(r)) }

// retarget replaces any queued center with the newest one.
func (st *streamer) retarget(x, z int32) {
	c := chunkCoord{x, z}
	for {
		select {
		case st.updates <- c:
			return
		case <-st.s.closed:
			return
		default:
		}
		select {
		case <-st.updates:
		default:
		}
	}
}

func (st *streamer) loop() {
	for {
		var c chunkCoord
		select {
		case <-st.s.closed:
			return
		case c = <-st.updates:
		}
		for {
			next, retargeted := st.restream(c)
			if !retargeted {
				break
			}
			c = next
		}
	}
}

type loadResult struct {
	payload *world.ChunkPayload
	err     error
}

// restream reconciles the loaded set with the view around center: unloads
// first, then missing chunks in distance order. It returns the new center
// and true when a retarget interrupted the batch.
func (st *streamer) restream(center chunkCoord) (chunkCoord, bool) {
	r := st.radius.Load()
	desired := viewSet(center, r)

	for c := range st.loaded {
		if _, keep := desired[c]; keep {
			continue
		}
		delete(st.loaded, c)
		if st.s.trySend(&protocol.UnloadChunk{X: c.x, Z: c.z}) != nil {
			return center, false
		}
	}

	missing := make([]chunkCoord, 0, len(desired)-len(st.loaded))
	for c := range desired {
		if _, ok := st.loaded[c]; !ok {
			missing = append(missing, c)
		}
	}
	sortByDistance(missing, center)

	ctx, cancel := context.WithCancel(st.s.ctx)
	defer cancel()

	results := make([]chan loadResult, len(missing))
	for i := range results {
		results[i] = make(chan loadResult, 1)
	}
	launched := 0
	launch := func() {
		i := launched
		pos := world.ChunkPos{Dim: st.s.srv.opts.Dimension, X: missing[i].x, Z: missing[i].z}
		go func() {
			p, err := st.s.srv.world.RequestChunk(ctx, pos)
			results[i] <- loadResult{p, err}
		}()
		launched++
	}
	for launched < len(missing) && launched < prefetchDepth {
		launch()
	}

	for i := range missing {
		var res loadResult
		select {
		case nc := <-st.updates:
			return nc, true
		case <-st.s.closed:
			return center, false
		case res = <-results[i]:
		}
		if launched < len(missing) {
			launch()
		}
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, world.ErrLoadDetached) {
				return center, false
			}
			st.s.srv.log.Printf("chunk %s:%d,%d: %v", st.s.srv.opts.Dimension, missing[i].x, missing[i].z, res.err)
			continue
		}
		if st.s.trySend(&protocol.ChunkData{X: missing[i].x, Z: missing[i].z, Payload: res.payload.Data}) != nil {
			return center, false
		}
		st.loaded[missing[i]] = struct{}{}
	}
	return center, false
}

func viewSet(center chunkCoord, r int32) map[chunkCoord]struct{} {
	m := make(map[chunkCoord]struct{}, (2*r+1)*(2*r+1))
	for x := center.x - r; x <= center.x+r; x++ {
		for z := center.z - r; z <= center.z+r; z++ {
			m[chunkCoord{x, z}] = struct{}{}
		}
	}
	return m
}

// sortByDistance orders by squared distance from center, with a coordinate
// tiebreak so equal rings stream deterministically.
func sortByDistance(cs []chunkCoord, center chunkCoord) {
	sort.Slice(cs, func(i, j int) bool {
		di, dj := dist2(cs[i], center), dist2(cs[j], center)
		if di != dj {
			return di < dj
		}
		if cs[i].x != cs[j].x {
			return cs[i].x < cs[j].x
		}
		return cs[i].z < cs[j].z
	})
}

func dist2(a, b chunkCoord) int64 {
	dx, dz := int64(a.x-b.x), int64(a.z-b.z)
	return dx*dx + dz*dz
}

package region

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/store"
	"ironcraft.dev/internal/world"
)

// ImportWarning records one entry that could not be imported. Warnings never
// abort the import.
type ImportWarning struct {
	Local Local
	Cause error
}

func (w ImportWarning) String() string { return fmt.Sprintf("%v: %v", w.Local, w.Cause) }

// Result summarizes one file's import.
type Result struct {
	Imported int
	Skipped  int // absent entries
	Warnings []ImportWarning
}

type Options struct {
	// Scheme is the store-side compression for imported payloads. The zero
	// value stores them uncompressed.
	Scheme compress.Scheme
	// Gate bounds decompress/recompress work; nil creates a per-CPU gate.
	Gate *world.CPUGate
	// Workers bounds entries in flight; <= 0 means one per CPU.
	Workers int
	// BatchSize is the store write slab; <= 0 means 128.
	BatchSize int
}

// ImportFile reads every present entry of one region file into the store
// under dim. Region coordinates come from the filename; entry payloads are
// decompressed with their legacy scheme (which validates them), checked
// shallowly, and recompressed with opts.Scheme. Corrupt entries become
// warnings. Only a context cancellation or a store write failure aborts, and
// rerunning after either is safe: puts are idempotent overwrites.
func ImportFile(ctx context.Context, st *store.Store, dim string, path string, opts Options) (Result, error) {
	if !opts.Scheme.Valid() {
		return Result{}, fmt.Errorf("import: invalid scheme %d", opts.Scheme)
	}
	rx, rz, err := ParseName(path)
	if err != nil {
		return Result{}, err
	}
	f, err := OpenFile(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	gate := opts.Gate
	if gate == nil {
		gate = world.NewCPUGate(0)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 128
	}

	// Entries decode in parallel into index order; writes happen afterwards
	// in that order so a rerun replays the same prefix.
	records := make([]*store.Record, numEntries)
	warnings := make([]*ImportWarning, numEntries)
	res := Result{}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for idx := 0; idx < numEntries; idx++ {
		lx, lz := idx%Span, idx/Span
		if !f.Has(lx, lz) {
			res.Skipped++
			continue
		}
		idx := idx
		eg.Go(func() error {
			ent, err := f.Read(lx, lz)
			if err != nil {
				warnings[idx] = &ImportWarning{Local: Local{X: lx, Z: lz}, Cause: err}
				return nil
			}
			if ent == nil {
				return nil
			}
			var rec *store.Record
			var entErr error
			if err := gate.Do(ctx, func() {
				raw, err := compress.Decompress(ent.Scheme, ent.Data, -1)
				if err != nil {
					entErr = err
					return
				}
				if err := sanityCheckPayload(raw); err != nil {
					entErr = fmt.Errorf("%w: %v: %v", ErrCorruptEntry, ent.Local, err)
					return
				}
				enc, err := compress.Compress(opts.Scheme, raw)
				if err != nil {
					entErr = err
					return
				}
				rec = &store.Record{
					Key:     store.Key{Dim: dim, X: rx*Span + int32(lx), Z: rz*Span + int32(lz)},
					Payload: store.CompressedPayload{Scheme: opts.Scheme, Data: enc},
				}
			}); err != nil {
				return err
			}
			if entErr != nil {
				warnings[idx] = &ImportWarning{Local: ent.Local, Cause: entErr}
				return nil
			}
			records[idx] = rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	batch := make([]store.Record, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.PutBatch(batch); err != nil {
			return fmt.Errorf("import write: %w", err)
		}
		res.Imported += len(batch)
		batch = batch[:0]
		return nil
	}
	for idx := 0; idx < numEntries; idx++ {
		if w := warnings[idx]; w != nil {
			res.Warnings = append(res.Warnings, *w)
			continue
		}
		if records[idx] == nil {
			continue
		}
		batch = append(batch, *records[idx])
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

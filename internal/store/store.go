// Package store persists chunk payloads in an embedded ordered key-value
// file. Layout: a root bucket "chunks" holds one nested bucket per dimension,
// keyed by the 8-byte big-endian (x, z) pair; a sibling bucket "meta" carries
// one msgpack DimMeta record per dimension, maintained in the same
// transaction as every write. Payloads are opaque compressed bytes plus a
// scheme tag; the store never looks inside them.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"ironcraft.dev/internal/compress"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")
)

// ErrCorruptRecord is returned when a stored value is empty or carries a
// scheme byte outside the closed enum.
var ErrCorruptRecord = errors.New("corrupt store record")

// Key addresses one chunk: dimension name plus global chunk coordinates.
// Region-file local coordinates never appear here.
type Key struct {
	Dim  string
	X, Z int32
}

func (k Key) String() string { return fmt.Sprintf("%s:%d,%d", k.Dim, k.X, k.Z) }

// EncodeKey returns the big-endian (x, z) form used inside a dimension
// bucket. Big-endian keeps bolt's key order deterministic across platforms.
func EncodeKey(x, z int32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], uint32(x))
	binary.BigEndian.PutUint32(b[4:8], uint32(z))
	return b
}

func DecodeKey(b []byte) (x, z int32, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("chunk key is %d bytes, want 8", len(b))
	}
	return int32(binary.BigEndian.Uint32(b[0:4])), int32(binary.BigEndian.Uint32(b[4:8])), nil
}

// CompressedPayload is the stored unit: compressed tag-tree bytes plus the
// scheme they were compressed with.
type CompressedPayload struct {
	Scheme compress.Scheme
	Data   []byte
}

// Record pairs a key with its payload for batch writes.
type Record struct {
	Key     Key
	Payload CompressedPayload
}

// DimMeta summarizes one dimension, for cheap operator stat queries.
type DimMeta struct {
	Chunks        int64 `msgpack:"chunks"`
	LastWriteUnix int64 `msgpack:"last_write_unix"`
}

type Options struct {
	// OpenTimeout bounds the wait for the file lock; zero means bolt's
	// default of blocking indefinitely.
	OpenTimeout time.Duration
	// ReadOnly opens without write access; Put and PutBatch will fail.
	ReadOnly bool
}

// Store is safe for concurrent use; bolt serializes writers internally.
type Store struct {
	db *bbolt.DB
}

func Open(path string, opts Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:  opts.OpenTimeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	s := &Store{db: db}
	if !opts.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init store %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path reports the underlying file path.
func (s *Store) Path() string { return s.db.Path() }

// Get returns the payload for k, or (nil, nil) when the dimension or chunk
// is absent. The returned bytes are a copy and remain valid after return.
func (s *Store) Get(k Key) (*CompressedPayload, error) {
	var out *CompressedPayload
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := dimBucket(tx, k.Dim)
		if b == nil {
			return nil
		}
		v := b.Get(EncodeKey(k.X, k.Z))
		if v == nil {
			return nil
		}
		p, err := decodeRecord(k, v)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports presence without copying the payload.
func (s *Store) Has(k Key) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := dimBucket(tx, k.Dim)
		if b != nil {
			ok = b.Get(EncodeKey(k.X, k.Z)) != nil
		}
		return nil
	})
	return ok, err
}

// Put writes one record, overwriting any previous value for the key.
// Last writer wins; there is no versioning.
func (s *Store) Put(k Key, p CompressedPayload) error {
	if !p.Scheme.Valid() {
		return fmt.Errorf("put %v: %w: scheme %d", k, ErrCorruptRecord, p.Scheme)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putInTx(tx, k, p)
	})
}

// PutBatch applies all records in one transaction: either every record (and
// the meta updates) lands, or none do.
func (s *Store) PutBatch(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	for _, r := range recs {
		if !r.Payload.Scheme.Valid() {
			return fmt.Errorf("put batch %v: %w: scheme %d", r.Key, ErrCorruptRecord, r.Payload.Scheme)
		}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, r := range recs {
			if err := putInTx(tx, r.Key, r.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count reports the number of chunks stored for dim.
func (s *Store) Count(dim string) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := dimBucket(tx, dim); b != nil {
			n = int64(b.Stats().KeyN)
		}
		return nil
	})
	return n, err
}

// Dimensions lists every dimension with at least one stored chunk, in bolt's
// key order.
func (s *Store) Dimensions() ([]string, error) {
	var dims []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketChunks)
		if root == nil {
			return nil
		}
		c := root.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v == nil {
				dims = append(dims, string(k))
			}
		}
		return nil
	})
	return dims, err
}

// Meta returns the dimension summary, or (nil, nil) when the dimension has
// never been written.
func (s *Store) Meta(dim string) (*DimMeta, error) {
	var out *DimMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		if mb == nil {
			return nil
		}
		v := mb.Get([]byte(dim))
		if v == nil {
			return nil
		}
		var m DimMeta
		if err := msgpack.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("meta %s: %w: %v", dim, ErrCorruptRecord, err)
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach visits every record in dim in key order. The payload passed to fn
// aliases transaction memory and must not be retained.
func (s *Store) ForEach(dim string, fn func(k Key, p CompressedPayload) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := dimBucket(tx, dim)
		if b == nil {
			return nil
		}
		return b.ForEach(func(kb, v []byte) error {
			x, z, err := DecodeKey(kb)
			if err != nil {
				return err
			}
			k := Key{Dim: dim, X: x, Z: z}
			if len(v) == 0 || !compress.Scheme(v[0]).Valid() {
				return fmt.Errorf("%v: %w", k, ErrCorruptRecord)
			}
			return fn(k, CompressedPayload{Scheme: compress.Scheme(v[0]), Data: v[1:]})
		})
	})
}

func dimBucket(tx *bbolt.Tx, dim string) *bbolt.Bucket {
	root := tx.Bucket(bucketChunks)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(dim))
}

func putInTx(tx *bbolt.Tx, k Key, p CompressedPayload) error {
	root := tx.Bucket(bucketChunks)
	if root == nil {
		return fmt.Errorf("store not initialized: missing %q bucket", bucketChunks)
	}
	b, err := root.CreateBucketIfNotExists([]byte(k.Dim))
	if err != nil {
		return fmt.Errorf("dimension bucket %s: %w", k.Dim, err)
	}
	kb := EncodeKey(k.X, k.Z)
	fresh := b.Get(kb) == nil

	v := make([]byte, 1+len(p.Data))
	v[0] = byte(p.Scheme)
	copy(v[1:], p.Data)
	if err := b.Put(kb, v); err != nil {
		return fmt.Errorf("put %v: %w", k, err)
	}
	return bumpMeta(tx, k.Dim, fresh)
}

func bumpMeta(tx *bbolt.Tx, dim string, fresh bool) error {
	mb := tx.Bucket(bucketMeta)
	if mb == nil {
		return fmt.Errorf("store not initialized: missing %q bucket", bucketMeta)
	}
	var m DimMeta
	if v := mb.Get([]byte(dim)); v != nil {
		if err := msgpack.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("meta %s: %w: %v", dim, ErrCorruptRecord, err)
		}
	}
	if fresh {
		m.Chunks++
	}
	m.LastWriteUnix = time.Now().Unix()
	v, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("meta %s: %w", dim, err)
	}
	return mb.Put([]byte(dim), v)
}

func decodeRecord(k Key, v []byte) (*CompressedPayload, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%v: %w: empty value", k, ErrCorruptRecord)
	}
	scheme := compress.Scheme(v[0])
	if !scheme.Valid() {
		return nil, fmt.Errorf("%v: %w: scheme %d", k, ErrCorruptRecord, v[0])
	}
	data := make([]byte, len(v)-1)
	copy(data, v[1:])
	return &CompressedPayload{Scheme: scheme, Data: data}, nil
}

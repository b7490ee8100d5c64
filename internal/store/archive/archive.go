// Package archive exports one dimension's chunks to a compressed stream file
// and restores them, for operator backup and world transfer. The format is a
// zstd stream holding a JSON header line followed by binary records
// [uvarint keylen][key][1 scheme byte][uvarint n][n bytes]; record payloads
// keep their store-side compression, so export never recompresses chunk data.
package archive

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/store"
)

// Version is bumped on any change to the record framing.
const Version = 1

// maxRecordSize bounds one record's payload allocation during Read.
const maxRecordSize = 1 << 26

var ErrBadArchive = errors.New("bad archive")

type Header struct {
	Version     int    `json:"version"`
	Dim         string `json:"dim"`
	Count       int64  `json:"count"`
	CreatedUnix int64  `json:"created_unix"`
}

// Export writes every chunk of dim to path. The store should be quiesced;
// a concurrent writer changing the dimension between the count and the scan
// fails the export rather than producing a short archive.
func Export(st *store.Store, dim, path string) (int, error) {
	count, err := st.Count(dim)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(Header{
		Version:     Version,
		Dim:         dim,
		Count:       count,
		CreatedUnix: time.Now().Unix(),
	})
	if _, err := bw.Write(hb); err != nil {
		return 0, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return 0, err
	}

	n := 0
	var scratch [binary.MaxVarintLen64]byte
	err = st.ForEach(dim, func(k store.Key, p store.CompressedPayload) error {
		key := store.EncodeKey(k.X, k.Z)
		if err := writeUvarint(bw, scratch[:], uint64(len(key))); err != nil {
			return err
		}
		if _, err := bw.Write(key); err != nil {
			return err
		}
		if err := bw.WriteByte(byte(p.Scheme)); err != nil {
			return err
		}
		if err := writeUvarint(bw, scratch[:], uint64(len(p.Data))); err != nil {
			return err
		}
		if _, err := bw.Write(p.Data); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if int64(n) != count {
		return n, fmt.Errorf("%w: dimension changed during export: counted %d, wrote %d", ErrBadArchive, count, n)
	}
	if err := bw.Flush(); err != nil {
		return n, err
	}
	if err := enc.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Read streams the archive's records to fn. The header's count must match
// the records present; a mismatch means a bad or truncated archive.
func Read(path string, fn func(k store.Key, p store.CompressedPayload) error) (Header, error) {
	var hdr Header
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, fmt.Errorf("%w: header: %v", ErrBadArchive, err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, fmt.Errorf("%w: header: %v", ErrBadArchive, err)
	}
	if hdr.Version != Version {
		return hdr, fmt.Errorf("%w: version %d, want %d", ErrBadArchive, hdr.Version, Version)
	}

	for i := int64(0); i < hdr.Count; i++ {
		k, p, err := readRecord(br, hdr.Dim)
		if err != nil {
			return hdr, fmt.Errorf("%w: record %d: %v", ErrBadArchive, i, err)
		}
		if err := fn(k, p); err != nil {
			return hdr, err
		}
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return hdr, fmt.Errorf("%w: trailing bytes after %d records", ErrBadArchive, hdr.Count)
	}
	return hdr, nil
}

// Restore loads an archive into the store in batched transactions. Existing
// chunks are overwritten; restore after a partial failure is safe to rerun.
func Restore(st *store.Store, path string) (Header, int, error) {
	const batchSize = 128
	batch := make([]store.Record, 0, batchSize)
	n := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.PutBatch(batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	hdr, err := Read(path, func(k store.Key, p store.CompressedPayload) error {
		batch = append(batch, store.Record{Key: k, Payload: p})
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return hdr, n, err
	}
	if err := flush(); err != nil {
		return hdr, n, err
	}
	return hdr, n, nil
}

func writeUvarint(bw *bufio.Writer, scratch []byte, v uint64) error {
	_, err := bw.Write(scratch[:binary.PutUvarint(scratch, v)])
	return err
}

func readRecord(br *bufio.Reader, dim string) (store.Key, store.CompressedPayload, error) {
	var k store.Key
	var p store.CompressedPayload

	keyLen, err := binary.ReadUvarint(br)
	if err != nil {
		return k, p, err
	}
	if keyLen != 8 {
		return k, p, fmt.Errorf("key length %d", keyLen)
	}
	var kb [8]byte
	if _, err := io.ReadFull(br, kb[:]); err != nil {
		return k, p, err
	}
	x, z, err := store.DecodeKey(kb[:])
	if err != nil {
		return k, p, err
	}
	sb, err := br.ReadByte()
	if err != nil {
		return k, p, err
	}
	scheme := compress.Scheme(sb)
	if !scheme.Valid() {
		return k, p, fmt.Errorf("unknown scheme byte %d", sb)
	}
	dataLen, err := binary.ReadUvarint(br)
	if err != nil {
		return k, p, err
	}
	if dataLen > maxRecordSize {
		return k, p, fmt.Errorf("record of %d bytes exceeds limit", dataLen)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(br, data); err != nil {
		return k, p, err
	}
	k = store.Key{Dim: dim, X: x, Z: z}
	p = store.CompressedPayload{Scheme: scheme, Data: data}
	return k, p, nil
}

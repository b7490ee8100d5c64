package transport

import (
	"bufio"
	"fmt"
	"io"

	"ironcraft.dev/internal/codec"
	"ironcraft.dev/internal/compress"
)

// FrameReader decodes frames from a byte stream. A clean peer close at a
// frame boundary surfaces as io.EOF; EOF inside a frame becomes
// io.ErrUnexpectedEOF.
type FrameReader struct {
	br        *bufio.Reader
	limits    Limits
	threshold int
}

func NewFrameReader(r io.Reader, limits Limits) *FrameReader {
	return &FrameReader{br: bufio.NewReader(r), limits: limits, threshold: -1}
}

// SetCompression enables compressed framing. Compression can never be
// disabled again on this connection; attempting to is a programming error.
func (fr *FrameReader) SetCompression(threshold int) {
	if fr.threshold >= 0 && threshold < 0 {
		panic("transport: compression cannot be reverted once enabled")
	}
	fr.threshold = threshold
}

// ReadFrame reads one frame and returns the decoded packet payload. All
// declared sizes are validated against the limits before any allocation.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	length, err := readUvarint(fr.br)
	if err != nil {
		return nil, err
	}
	if int(length) > fr.limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, fr.limits.MaxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.br, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("frame body: %w", err)
	}
	if fr.threshold < 0 {
		return buf, nil
	}
	uncomp, n := codec.Uvarint32(buf)
	if n == 0 {
		return nil, fmt.Errorf("frame data length: %w", codec.ErrTruncated)
	}
	if n < 0 {
		return nil, fmt.Errorf("frame data length: %w", codec.ErrMalformedVarint)
	}
	body := buf[n:]
	if uncomp == 0 {
		return body, nil
	}
	if int(uncomp) > fr.limits.MaxUncompressedSize {
		return nil, fmt.Errorf("%w: declared %d uncompressed bytes, limit %d", ErrFrameTooLarge, uncomp, fr.limits.MaxUncompressedSize)
	}
	out, err := compress.Decompress(compress.Zlib, body, int(uncomp))
	if err != nil {
		return nil, fmt.Errorf("frame inflate: %w", err)
	}
	return out, nil
}

// FrameWriter encodes frames onto a byte stream, flushing per frame.
type FrameWriter struct {
	bw        *bufio.Writer
	limits    Limits
	threshold int
	head      []byte
}

func NewFrameWriter(w io.Writer, limits Limits) *FrameWriter {
	return &FrameWriter{bw: bufio.NewWriter(w), limits: limits, threshold: -1}
}

func (fw *FrameWriter) SetCompression(threshold int) {
	if fw.threshold >= 0 && threshold < 0 {
		panic("transport: compression cannot be reverted once enabled")
	}
	fw.threshold = threshold
}

// WriteFrame frames payload and flushes it. With compression active,
// payloads at or above the threshold are deflated; smaller ones are carried
// raw behind a zero data length.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if fw.threshold < 0 {
		if len(payload) > fw.limits.MaxFrameSize {
			return fmt.Errorf("%w: %d byte payload, limit %d", ErrFrameTooLarge, len(payload), fw.limits.MaxFrameSize)
		}
		fw.head = codec.AppendVarint(fw.head[:0], uint32(len(payload)))
		if _, err := fw.bw.Write(fw.head); err != nil {
			return err
		}
		if _, err := fw.bw.Write(payload); err != nil {
			return err
		}
		return fw.bw.Flush()
	}
	if len(payload) > fw.limits.MaxUncompressedSize {
		return fmt.Errorf("%w: %d byte payload, limit %d", ErrFrameTooLarge, len(payload), fw.limits.MaxUncompressedSize)
	}
	inner, dataLen := payload, uint32(0)
	if len(payload) >= fw.threshold && len(payload) > 0 {
		enc, err := compress.Compress(compress.Zlib, payload)
		if err != nil {
			return fmt.Errorf("frame deflate: %w", err)
		}
		inner, dataLen = enc, uint32(len(payload))
	}
	total := codec.VarintLen(dataLen) + len(inner)
	if total > fw.limits.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes framed, limit %d", ErrFrameTooLarge, total, fw.limits.MaxFrameSize)
	}
	fw.head = codec.AppendVarint(fw.head[:0], uint32(total))
	fw.head = codec.AppendVarint(fw.head, dataLen)
	if _, err := fw.bw.Write(fw.head); err != nil {
		return err
	}
	if _, err := fw.bw.Write(inner); err != nil {
		return err
	}
	return fw.bw.Flush()
}

// readUvarint reads a 32-bit varint byte by byte. EOF on the first byte is
// returned as-is so callers can tell a clean close from a torn frame.
func readUvarint(br *bufio.Reader) (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := br.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("frame length: %w", codec.ErrMalformedVarint)
}

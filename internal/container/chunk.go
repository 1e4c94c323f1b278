package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/internal/pool"
)

// Chunk is one PNG chunk. Data is owned by the Reader until Release is
// called; callers that keep the payload must copy it first (or use Detach).
type Chunk struct {
	Type   uint32
	Data   []byte
	pooled bool
}

// ReadFull fills buf from r. A clean or partial EOF becomes ErrTruncated;
// other I/O errors are returned unchanged.
func ReadFull(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: reading %s", animation.ErrTruncated, what)
		}
		return fmt.Errorf("container: reading %s: %w", what, err)
	}
	return nil
}

// CheckPNGSignature consumes and validates the 8-byte PNG signature.
func CheckPNGSignature(r io.Reader) error {
	var sig [len(PNGSignature)]byte
	if err := ReadFull(r, sig[:], "PNG signature"); err != nil {
		return err
	}
	if string(sig[:]) != PNGSignature {
		return fmt.Errorf("%w: not a PNG file", animation.ErrFormat)
	}
	return nil
}

// Reader reads CRC-checked PNG chunks from a forward-only byte source.
type Reader struct {
	r   io.Reader
	hdr [ChunkHeaderSize]byte
	crc [ChunkCRCSize]byte
}

// NewReader returns a chunk reader positioned after the PNG signature.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next chunk. The payload of chunks up to 1 MiB comes from
// the buffer pool; larger payloads are read incrementally so a forged length
// on a short stream fails with ErrTruncated instead of a huge allocation.
func (cr *Reader) Next() (Chunk, error) {
	if err := ReadFull(cr.r, cr.hdr[:], "chunk header"); err != nil {
		return Chunk{}, err
	}
	length := binary.BigEndian.Uint32(cr.hdr[0:4])
	typ := binary.BigEndian.Uint32(cr.hdr[4:8])
	if length > MaxChunkLength {
		return Chunk{}, fmt.Errorf("%w: chunk %s length %d exceeds 2^31-1",
			animation.ErrFormat, TypeString(typ), length)
	}

	c := Chunk{Type: typ}
	if length <= smallChunk {
		c.Data = pool.Get(int(length))
		c.pooled = true
		if err := ReadFull(cr.r, c.Data, TypeString(typ)+" payload"); err != nil {
			cr.Release(&c)
			return Chunk{}, err
		}
	} else {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(cr.r, int64(length)))
		if err != nil {
			return Chunk{}, fmt.Errorf("container: reading %s payload: %w", TypeString(typ), err)
		}
		if n != int64(length) {
			return Chunk{}, fmt.Errorf("%w: %s payload: need %d bytes, have %d",
				animation.ErrTruncated, TypeString(typ), length, n)
		}
		c.Data = buf.Bytes()
	}

	if err := ReadFull(cr.r, cr.crc[:], TypeString(typ)+" CRC"); err != nil {
		cr.Release(&c)
		return Chunk{}, err
	}
	sum := crc32.NewIEEE()
	sum.Write(cr.hdr[4:8])
	sum.Write(c.Data)
	if sum.Sum32() != binary.BigEndian.Uint32(cr.crc[:]) {
		cr.Release(&c)
		return Chunk{}, fmt.Errorf("%w: chunk %s CRC mismatch", animation.ErrFormat, TypeString(typ))
	}
	return c, nil
}

// Release returns a pooled payload to the buffer pool. It is a no-op for
// detached or incrementally read chunks.
func (cr *Reader) Release(c *Chunk) {
	if c.pooled {
		pool.Put(c.Data)
	}
	c.Data = nil
	c.pooled = false
}

// Detach returns a copy of the payload that the caller owns, and releases
// the chunk.
func (cr *Reader) Detach(c *Chunk) []byte {
	if !c.pooled {
		data := c.Data
		c.Data = nil
		return data
	}
	data := make([]byte, len(c.Data))
	copy(data, c.Data)
	cr.Release(c)
	return data
}

// WriteChunk writes a chunk with its length, type and CRC to w.
func WriteChunk(w io.Writer, typ uint32, data []byte) error {
	if len(data) > MaxChunkLength {
		return fmt.Errorf("%w: chunk %s too large: %d", animation.ErrAllocation, TypeString(typ), len(data))
	}
	var hdr [ChunkHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(hdr[4:8], typ)
	sum := crc32.NewIEEE()
	sum.Write(hdr[4:8])
	sum.Write(data)
	var crc [ChunkCRCSize]byte
	binary.BigEndian.PutUint32(crc[:], sum.Sum32())

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(crc[:])
	return err
}

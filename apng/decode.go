package apng

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/internal/container"
)

// Decoder decodes the pixels of individual frames. It is safe for
// concurrent use with distinct frame indices.
type Decoder struct {
	hdr    Header
	plte   []byte
	trns   []byte
	sizes  []image.Point // frame dimensions
	frames [][][]byte    // compressed payload segments per frame
}

// Header returns the stream's IHDR.
func (d *Decoder) Header() Header { return d.hdr }

// DecodeFrame decodes frame i into an 8-bit straight-alpha image of the
// frame's own dimensions. Corrupt or short zlib data fails with
// animation.ErrDecode.
func (d *Decoder) DecodeFrame(i int) (*image.NRGBA, error) {
	if i < 0 || i >= len(d.frames) {
		return nil, fmt.Errorf("%w: %d of %d", animation.ErrFrameOutOfRange, i, len(d.frames))
	}
	w, h := d.frameSize(i)
	stream, err := d.frameStream(i, w, h)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("%w: png frame %d: %v", animation.ErrDecode, i, err)
	}
	return animation.ToNRGBA(img), nil
}

// frameSize returns the dimensions encoded in frame i's IHDR.
func (d *Decoder) frameSize(i int) (int, int) {
	return d.sizes[i].X, d.sizes[i].Y
}

// frameStream assembles a standalone PNG stream for frame i: the signature,
// an IHDR carrying the frame size, the shared PLTE and tRNS, the frame's
// payload as IDAT chunks and IEND.
func (d *Decoder) frameStream(i, w, h int) ([]byte, error) {
	size := len(container.PNGSignature) + 5*(container.ChunkHeaderSize+container.ChunkCRCSize) +
		container.IHDRSize + len(d.plte) + len(d.trns)
	for _, seg := range d.frames[i] {
		size += container.ChunkHeaderSize + container.ChunkCRCSize + len(seg)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	buf.WriteString(container.PNGSignature)

	// bytes.Buffer writes never fail; only oversize chunks can.
	if err := container.WriteChunk(&buf, container.TypeIHDR, d.hdr.bytes(w, h)); err != nil {
		return nil, err
	}
	if d.plte != nil {
		if err := container.WriteChunk(&buf, container.TypePLTE, d.plte); err != nil {
			return nil, err
		}
	}
	if d.trns != nil {
		if err := container.WriteChunk(&buf, container.TypeTRNS, d.trns); err != nil {
			return nil, err
		}
	}
	for _, seg := range d.frames[i] {
		if err := container.WriteChunk(&buf, container.TypeIDAT, seg); err != nil {
			return nil, err
		}
	}
	if err := container.WriteChunk(&buf, container.TypeIEND, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package gifanim

import (
	"bytes"
	"compress/lzw"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/internal/pool"
)

// Decoder decodes the pixels of individual frames. It is safe for
// concurrent use with distinct frame indices.
type Decoder struct {
	global []byte // global color table as RGB triples
	frames []frameData
}

// interlaceScan defines the ordering for a pass of the interlace algorithm.
type interlaceScan struct {
	skip, start int
}

var interlacing = []interlaceScan{
	{8, 0}, // every 8th row, starting with row 0
	{8, 4}, // every 8th row, starting with row 4
	{4, 2}, // every 4th row, starting with row 2
	{2, 1}, // every 2nd row, starting with row 1
}

// DecodeFrame decodes frame i into an image of the frame's dimensions.
// Palette indices resolve through the local table, falling back to the
// global one; the transparent index decodes to alpha 0.
func (d *Decoder) DecodeFrame(i int) (*image.NRGBA, error) {
	if i < 0 || i >= len(d.frames) {
		return nil, fmt.Errorf("%w: %d of %d", animation.ErrFrameOutOfRange, i, len(d.frames))
	}
	f := &d.frames[i]
	w, h := f.rect.Dx(), f.rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst, nil
	}

	pal := f.palette
	if pal == nil {
		pal = d.global
	}
	if pal == nil {
		return nil, fmt.Errorf("%w: gif frame %d: missing color table", animation.ErrDecode, i)
	}
	if f.litWidth < 2 || f.litWidth > 8 {
		return nil, fmt.Errorf("%w: gif frame %d: LZW literal width %d", animation.ErrDecode, i, f.litWidth)
	}

	idx := pool.Get(w * h)
	defer pool.Put(idx)
	if err := readIndices(f, idx); err != nil {
		return nil, fmt.Errorf("%w: gif frame %d: %v", animation.ErrDecode, i, err)
	}
	if f.interlaced {
		tmp := pool.Get(w * h)
		uninterlace(tmp, idx, w, h)
		copy(idx, tmp)
		pool.Put(tmp)
	}

	colors := len(pal) / 3
	for p, ci := range idx {
		c := int(ci)
		if c == f.transparent {
			continue
		}
		if c >= colors {
			return nil, fmt.Errorf("%w: gif frame %d: pixel index %d outside %d-entry palette",
				animation.ErrDecode, i, c, colors)
		}
		o := p * 4
		dst.Pix[o+0] = pal[3*c+0]
		dst.Pix[o+1] = pal[3*c+1]
		dst.Pix[o+2] = pal[3*c+2]
		dst.Pix[o+3] = 0xff
	}
	return dst, nil
}

// readIndices fills idx from the frame's LZW stream. Data past the last
// pixel is ignored; too little data is an error.
func readIndices(f *frameData, idx []byte) error {
	lr := lzw.NewReader(bytes.NewReader(f.lzw), lzw.LSB, f.litWidth)
	defer lr.Close()
	if _, err := io.ReadFull(lr, idx); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.New("not enough image data")
		}
		return err
	}
	return nil
}

// uninterlace writes the rows of src, stored in interlaced pass order, to
// their display positions in dst.
func uninterlace(dst, src []byte, w, h int) {
	offset := 0
	for _, pass := range interlacing {
		for y := pass.start; y < h; y += pass.skip {
			copy(dst[y*w:(y+1)*w], src[offset:offset+w])
			offset += w
		}
	}
}

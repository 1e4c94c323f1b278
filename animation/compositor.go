package animation

import (
	"fmt"
	"image"
	"image/color"
)

// Compositor reconstructs full canvases from a sequence of frames.
//
// Disposal is deferred: a frame's dispose method is applied to its rectangle
// just before the next frame is drawn, so the canvas returned after a frame
// always shows that frame as displayed. Two buffers are kept:
//   - canvas: the composited image
//   - preserved: the canvas content saved before drawing a frame whose
//     dispose method is DisposePrevious
type Compositor struct {
	width      int
	height     int
	background color.NRGBA

	canvas    *image.NRGBA
	preserved *image.NRGBA
	pos       int

	prevDispose DisposeMethod
	prevRect    image.Rectangle

	// SkipCoveredDisposal skips the pending disposal when the incoming frame
	// overwrites every pixel of the previous frame's rectangle. The canvas
	// produced is identical either way.
	SkipCoveredDisposal bool

	skipped int
}

// NewCompositor creates a compositor for a width x height canvas. The canvas
// is filled with background when the first frame is applied.
func NewCompositor(width, height int, background color.NRGBA) *Compositor {
	return &Compositor{
		width:               width,
		height:              height,
		background:          background,
		canvas:              image.NewNRGBA(image.Rect(0, 0, width, height)),
		SkipCoveredDisposal: true,
	}
}

// Reset rewinds the compositor so the next Apply is treated as frame 0.
func (c *Compositor) Reset() {
	c.pos = 0
	c.prevDispose = DisposeNone
	c.prevRect = image.Rectangle{}
	c.skipped = 0
}

// Pos returns the number of frames applied since the last Reset.
func (c *Compositor) Pos() int { return c.pos }

// Canvas returns the current canvas state (not a copy).
func (c *Compositor) Canvas() *image.NRGBA { return c.canvas }

// SkippedDisposals returns how many disposals were elided since the last
// Reset.
func (c *Compositor) SkippedDisposals() int { return c.skipped }

// Snapshot returns a copy of the current canvas.
func (c *Compositor) Snapshot() *image.NRGBA {
	return cloneNRGBA(c.canvas)
}

// Apply composites the next frame onto the canvas. src holds the decoded
// frame pixels and must match the frame's declared dimensions. Parts of the
// frame outside the canvas are clipped.
func (c *Compositor) Apply(f *Frame, src *image.NRGBA) error {
	if src == nil {
		return ErrNilImage
	}
	if b := src.Bounds(); b.Dx() != f.Width || b.Dy() != f.Height {
		return fmt.Errorf("%w: frame %d: decoded %dx%d, declared %dx%d",
			ErrDecode, f.Index, b.Dx(), b.Dy(), f.Width, f.Height)
	}

	dispose := f.Dispose
	if c.pos == 0 {
		// Restoring to the state before the first frame has nothing to
		// restore from; it behaves like DisposeNone.
		if dispose == DisposePrevious {
			dispose = DisposeNone
		}
		fillRect(c.canvas, c.canvas.Bounds(), c.background)
	} else {
		c.disposePrevious(f, src)
	}

	rect := f.Bounds().Intersect(c.canvas.Bounds())
	if dispose == DisposePrevious {
		c.preserve(rect)
	}
	c.draw(f, src, rect)

	c.prevDispose = dispose
	c.prevRect = rect
	c.pos++
	return nil
}

// disposePrevious applies the pending disposal of the previous frame before
// next is drawn.
func (c *Compositor) disposePrevious(next *Frame, src *image.NRGBA) {
	rect := c.prevRect
	if rect.Empty() || c.prevDispose == DisposeNone {
		return
	}
	if c.SkipCoveredDisposal && c.overwrites(next, src, rect) {
		c.skipped++
		return
	}
	switch c.prevDispose {
	case DisposeBackground:
		fillRect(c.canvas, rect, color.NRGBA{})
	case DisposePrevious:
		if c.preserved != nil {
			copyRect(c.canvas, c.preserved, rect)
		}
	}
}

// overwrites reports whether drawing next replaces every pixel of rect. A
// frame that itself restores to previous never qualifies: the region it
// preserves must be the disposed one.
func (c *Compositor) overwrites(next *Frame, src *image.NRGBA, rect image.Rectangle) bool {
	if next.Dispose == DisposePrevious {
		return false
	}
	nr := next.Bounds().Intersect(c.canvas.Bounds())
	if !rect.In(nr) {
		return false
	}
	if next.Blend == BlendSource {
		return true
	}
	return isOpaque(src)
}

// preserve saves rect of the canvas into the preserved buffer.
func (c *Compositor) preserve(rect image.Rectangle) {
	if c.preserved == nil {
		c.preserved = image.NewNRGBA(c.canvas.Bounds())
	}
	copyRect(c.preserved, c.canvas, rect)
}

// draw composites src onto the canvas within rect, the frame rectangle
// already clipped to the canvas.
func (c *Compositor) draw(f *Frame, src *image.NRGBA, rect image.Rectangle) {
	if rect.Empty() {
		return
	}
	n := rect.Dx() * 4
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		so := src.PixOffset(rect.Min.X-f.OffsetX, y-f.OffsetY)
		do := c.canvas.PixOffset(rect.Min.X, y)
		srow := src.Pix[so : so+n]
		drow := c.canvas.Pix[do : do+n]
		if f.Blend == BlendSource {
			copy(drow, srow)
			continue
		}
		for i := 0; i < n; i += 4 {
			blendOver(drow[i:i+4:i+4], srow[i:i+4:i+4])
		}
	}
}

// blendOver composites one straight-alpha source pixel over dst in place:
//
//	rgb = dst*(255-srcA)/255 + src*srcA/255
//	a   = dstA*(255-srcA)/255 + srcA
//
// with each term truncated.
func blendOver(dst, src []byte) {
	sa := uint32(src[3])
	switch sa {
	case 0:
		return
	case 0xff:
		copy(dst, src)
		return
	}
	inv := 0xff - sa
	dst[0] = uint8(uint32(dst[0])*inv/0xff + uint32(src[0])*sa/0xff)
	dst[1] = uint8(uint32(dst[1])*inv/0xff + uint32(src[1])*sa/0xff)
	dst[2] = uint8(uint32(dst[2])*inv/0xff + uint32(src[2])*sa/0xff)
	dst[3] = uint8(uint32(dst[3])*inv/0xff + sa)
}

// isOpaque reports whether every pixel of img has alpha 0xff.
func isOpaque(img *image.NRGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		row := img.Pix[off : off+b.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 0xff {
				return false
			}
		}
	}
	return true
}

// fillRect fills a rectangle on the canvas with a solid color.
func fillRect(canvas *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	rect = rect.Intersect(canvas.Bounds())
	if rect.Empty() {
		return
	}
	// Fill the first row, then replicate it.
	first := canvas.PixOffset(rect.Min.X, rect.Min.Y)
	n := rect.Dx() * 4
	row := canvas.Pix[first : first+n]
	for i := 0; i < n; i += 4 {
		row[i+0] = c.R
		row[i+1] = c.G
		row[i+2] = c.B
		row[i+3] = c.A
	}
	for y := rect.Min.Y + 1; y < rect.Max.Y; y++ {
		off := canvas.PixOffset(rect.Min.X, y)
		copy(canvas.Pix[off:off+n], row)
	}
}

// copyRect copies rect from src to dst. Both images share the canvas bounds.
func copyRect(dst, src *image.NRGBA, rect image.Rectangle) {
	rect = rect.Intersect(dst.Bounds()).Intersect(src.Bounds())
	n := rect.Dx() * 4
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		do := dst.PixOffset(rect.Min.X, y)
		so := src.PixOffset(rect.Min.X, y)
		copy(dst.Pix[do:do+n], src.Pix[so:so+n])
	}
}

// cloneNRGBA creates a deep copy of an NRGBA image.
func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

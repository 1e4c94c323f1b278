// Package animation provides the format-independent half of animated image
// decoding: frame descriptors, the canvas compositor with its disposal state
// machine, and the blend and premultiplication arithmetic.
//
// Container parsing and per-frame pixel decoding live in the apng and gifanim
// packages; they produce an Animation whose Decoder turns one frame's encoded
// block into an *image.NRGBA. This package only deals with how those frames
// are combined on the canvas.
package animation

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// DefaultDelay is used for frames whose declared delay is zero or unknown.
const DefaultDelay = 100 * time.Millisecond

// DisposeMethod controls how the frame region is treated after the frame has
// been displayed, before the next frame is drawn.
type DisposeMethod int

const (
	// DisposeNone leaves the canvas as-is.
	DisposeNone DisposeMethod = iota
	// DisposeBackground clears the frame region to transparent black.
	DisposeBackground
	// DisposePrevious restores the frame region to the canvas content from
	// just before the frame was drawn.
	DisposePrevious
)

func (d DisposeMethod) String() string {
	switch d {
	case DisposeNone:
		return "none"
	case DisposeBackground:
		return "background"
	case DisposePrevious:
		return "previous"
	default:
		return fmt.Sprintf("DisposeMethod(%d)", int(d))
	}
}

// BlendMethod controls how a frame is composited onto the canvas.
type BlendMethod int

const (
	// BlendSource overwrites the frame region.
	BlendSource BlendMethod = iota
	// BlendOver alpha-composites the frame over the existing canvas.
	BlendOver
)

func (b BlendMethod) String() string {
	switch b {
	case BlendSource:
		return "source"
	case BlendOver:
		return "over"
	default:
		return fmt.Sprintf("BlendMethod(%d)", int(b))
	}
}

// Frame describes one encoded frame and, once decoded, holds its pixels.
type Frame struct {
	// Index is the frame's position in the animation.
	Index int

	// OffsetX and OffsetY place the frame on the canvas.
	OffsetX int
	OffsetY int

	// Width and Height are the declared frame dimensions.
	Width  int
	Height int

	// Duration is the display duration, already normalized.
	Duration time.Duration

	// Dispose specifies canvas cleanup after this frame is displayed.
	Dispose DisposeMethod

	// Blend specifies how this frame is composited onto the canvas.
	Blend BlendMethod

	// TransparentIndex is the GIF palette index treated as "no write",
	// or -1 when the frame has none.
	TransparentIndex int

	// Image holds the decoded frame pixels. It is nil until the frame has
	// been decoded in eager mode.
	Image *image.NRGBA
}

// Bounds returns the frame's rectangle on the canvas.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(f.OffsetX, f.OffsetY, f.OffsetX+f.Width, f.OffsetY+f.Height)
}

// HasImage reports whether the frame image has been decoded.
func (f *Frame) HasImage() bool {
	return f.Image != nil
}

// DelayMs returns the frame duration in whole milliseconds.
func (f *Frame) DelayMs() int {
	return int(f.Duration / time.Millisecond)
}

// ToNRGBA converts any image.Image to an 8-bit straight-alpha *image.NRGBA
// whose bounds start at (0,0). Common decoder outputs take a fast path;
// 16-bit channels keep their high byte.
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if nrgba, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))

	switch s := src.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			so := s.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], s.Pix[so:so+w*4])
		}
	case *image.NRGBA64:
		for y := 0; y < h; y++ {
			so := s.PixOffset(b.Min.X, b.Min.Y+y)
			do := y * dst.Stride
			for x := 0; x < w; x++ {
				dst.Pix[do+0] = s.Pix[so+0]
				dst.Pix[do+1] = s.Pix[so+2]
				dst.Pix[do+2] = s.Pix[so+4]
				dst.Pix[do+3] = s.Pix[so+6]
				so += 8
				do += 4
			}
		}
	case *image.RGBA:
		// Opaque truecolor PNGs decode to RGBA with alpha 0xff, where
		// premultiplied and straight values coincide.
		for y := 0; y < h; y++ {
			so := s.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				dst.SetNRGBA(x, y, colorToNRGBA(color.RGBA{
					R: s.Pix[so], G: s.Pix[so+1], B: s.Pix[so+2], A: s.Pix[so+3],
				}))
				so += 4
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			so := s.PixOffset(b.Min.X, b.Min.Y+y)
			do := y * dst.Stride
			for x := 0; x < w; x++ {
				v := s.Pix[so+x]
				dst.Pix[do+0] = v
				dst.Pix[do+1] = v
				dst.Pix[do+2] = v
				dst.Pix[do+3] = 0xff
				do += 4
			}
		}
	case *image.Paletted:
		lut := make([]color.NRGBA, len(s.Palette))
		for i, c := range s.Palette {
			lut[i] = colorToNRGBA(c)
		}
		for y := 0; y < h; y++ {
			so := s.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				if p := int(s.Pix[so+x]); p < len(lut) {
					dst.SetNRGBA(x, y, lut[p])
				}
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetNRGBA(x, y, colorToNRGBA(src.At(b.Min.X+x, b.Min.Y+y)))
			}
		}
	}
	return dst
}

// colorToNRGBA converts any color.Color to an NRGBA value.
func colorToNRGBA(c color.Color) color.NRGBA {
	if nrgba, ok := c.(color.NRGBA); ok {
		return nrgba
	}
	r, g, b, a := c.RGBA()
	if a == 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{
		R: uint8(r * 0xffff / a >> 8),
		G: uint8(g * 0xffff / a >> 8),
		B: uint8(b * 0xffff / a >> 8),
		A: uint8(a >> 8),
	}
}

package animdec

import (
	"image"
	"sync"
	"time"

	"github.com/deepteams/animdec/animation"
)

// DecodedFrame is one fully composited frame. It owns its pixels; nothing in
// the Session aliases them after emission.
type DecodedFrame struct {
	// Index is the frame's position in the animation.
	Index int

	// Delay is how long the frame is displayed.
	Delay time.Duration

	// Image holds the composited canvas in straight alpha. Its Pix is
	// tightly packed: Stride == 4 * width.
	Image *image.NRGBA

	premulOnce sync.Once
	premul     []byte
}

// Pix returns the straight-alpha RGBA8888 pixels.
func (f *DecodedFrame) Pix() []byte {
	return f.Image.Pix
}

// Premultiplied returns the pixels with color channels premultiplied by
// alpha. The buffer is computed on first use and cached.
func (f *DecodedFrame) Premultiplied() []byte {
	f.premulOnce.Do(func() {
		f.premul = animation.PremultipliedPix(f.Image)
	})
	return f.premul
}

// DelayMs returns the delay in whole milliseconds.
func (f *DecodedFrame) DelayMs() int {
	return int(f.Delay / time.Millisecond)
}

// Bounds returns the frame's image bounds.
func (f *DecodedFrame) Bounds() image.Rectangle {
	return f.Image.Bounds()
}

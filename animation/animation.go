package animation

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"
	"time"
)

// Animation holds the frames and parameters of a parsed animated image.
type Animation struct {
	// Frames holds the ordered animation frames.
	Frames []Frame

	// LoopCount is the number of times to loop the animation.
	// -1 means infinite looping, 0 means play once.
	LoopCount int

	// BackgroundColor is the color the canvas is filled with before the
	// first frame is drawn.
	BackgroundColor color.NRGBA

	// CanvasWidth is the canvas width in pixels.
	CanvasWidth int

	// CanvasHeight is the canvas height in pixels.
	CanvasHeight int

	// Decoder turns a frame's encoded block into pixels.
	Decoder PixelDecoder

	// Truncated is set when the stream ended between blocks, before its
	// terminator. Every frame in Frames is complete.
	Truncated bool
}

// PixelDecoder decodes the encoded pixel block of a single frame. The
// returned image has the frame's declared dimensions with bounds at (0,0).
// Implementations must be safe for concurrent calls with distinct indices.
type PixelDecoder interface {
	DecodeFrame(index int) (*image.NRGBA, error)
}

// FrameError reports which frame a decode failure belongs to.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Validate checks the canvas dimensions and that at least one frame exists.
func (a *Animation) Validate() error {
	if a.CanvasWidth <= 0 || a.CanvasHeight <= 0 {
		return fmt.Errorf("%w: %w: %dx%d", ErrFormat, ErrCanvasSize, a.CanvasWidth, a.CanvasHeight)
	}
	if len(a.Frames) == 0 {
		return fmt.Errorf("%w: %w", ErrFormat, ErrNoFrames)
	}
	return nil
}

// TotalDuration returns the sum of all frame durations.
func (a *Animation) TotalDuration() time.Duration {
	var total time.Duration
	for i := range a.Frames {
		total += a.Frames[i].Duration
	}
	return total
}

// Truncate keeps only the first n frames.
func (a *Animation) Truncate(n int) {
	if n >= 0 && n < len(a.Frames) {
		a.Frames = a.Frames[:n]
	}
}

// DecodeFrame decodes frame i through the Decoder and checks the result
// against the declared frame dimensions.
func (a *Animation) DecodeFrame(i int) (*image.NRGBA, error) {
	if i < 0 || i >= len(a.Frames) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, i, len(a.Frames))
	}
	if a.Decoder == nil {
		return nil, ErrNoDecoder
	}
	img, err := a.Decoder.DecodeFrame(i)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrNilImage)
	}
	f := &a.Frames[i]
	if b := img.Bounds(); b.Dx() != f.Width || b.Dy() != f.Height {
		return nil, fmt.Errorf("%w: decoded %dx%d, declared %dx%d",
			ErrDecode, b.Dx(), b.Dy(), f.Width, f.Height)
	}
	return img, nil
}

// DecodeFrames decodes all frames sequentially. Frames that already have a
// non-nil Image are skipped. Decoding stops at the first failure, which is
// returned as a *FrameError.
func (a *Animation) DecodeFrames() error {
	if a.Decoder == nil {
		return ErrNoDecoder
	}
	for i := range a.Frames {
		f := &a.Frames[i]
		if f.HasImage() {
			continue
		}
		img, err := a.DecodeFrame(i)
		if err != nil {
			return &FrameError{Index: i, Err: err}
		}
		f.Image = img
	}
	return nil
}

// DecodeFramesParallel decodes all frames in parallel. Each frame's encoded
// block is decoded independently on a separate goroutine. The number of
// concurrent decoders is limited to GOMAXPROCS. Frames that already have a
// non-nil Image are skipped. For small frame counts (<= 2), falls back to
// sequential DecodeFrames.
//
// On failure the returned *FrameError names the lowest failing index; every
// frame before it has its Image set.
func (a *Animation) DecodeFramesParallel() error {
	if a.Decoder == nil {
		return ErrNoDecoder
	}

	// Collect indices of frames that need decoding.
	var toDecodeIdx []int
	for i := range a.Frames {
		if !a.Frames[i].HasImage() {
			toDecodeIdx = append(toDecodeIdx, i)
		}
	}
	if len(toDecodeIdx) == 0 {
		return nil
	}
	if len(toDecodeIdx) <= 2 {
		return a.DecodeFrames()
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(toDecodeIdx) {
		numWorkers = len(toDecodeIdx)
	}

	type decodeResult struct {
		idx int
		img *image.NRGBA
		err error
	}

	work := make(chan int, len(toDecodeIdx))
	for _, idx := range toDecodeIdx {
		work <- idx
	}
	close(work)

	results := make(chan decodeResult, len(toDecodeIdx))
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				img, err := a.DecodeFrame(idx)
				results <- decodeResult{idx: idx, img: img, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var first *FrameError
	for r := range results {
		if r.err != nil {
			if first == nil || r.idx < first.Index {
				first = &FrameError{Index: r.idx, Err: r.err}
			}
			continue
		}
		a.Frames[r.idx].Image = r.img
	}
	if first != nil {
		// Frames past the failure are never composited; drop them so the
		// memory is released with the error.
		for i := first.Index + 1; i < len(a.Frames); i++ {
			a.Frames[i].Image = nil
		}
		return first
	}
	return nil
}

// FailedIndex returns the frame index carried by a *FrameError in err's
// chain, or -1.
func FailedIndex(err error) int {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Index
	}
	return -1
}

package animdec

import (
	"fmt"
	"log/slog"
	"math"
)

// Default resource limits.
const (
	// DefaultMaxPixels bounds the canvas area (width * height).
	DefaultMaxPixels = 1 << 26

	// DefaultMaxMemory bounds the bytes retained for composited frames in
	// eager mode and by DecodeAll.
	DefaultMaxMemory = 1 << 31
)

// Options configures a Session. The zero value is ready to use.
type Options struct {
	// SingleFrame truncates the animation to its first frame.
	SingleFrame bool

	// Eager decodes every frame's pixels up front on a worker pool and
	// retains every composited frame, so all of them stay accessible
	// through Frame and FrameData.
	Eager bool

	// Scale shrinks output frames by this factor, 0 < Scale <= 1.
	// Zero means 1. Compositing still runs on a full-size canvas; only
	// emitted and retained frames are smaller.
	Scale float64

	// Abort is polled between frames. When it returns true decoding stops
	// at the frame boundary; the session stays resumable.
	Abort func() bool

	// IgnoreBackground starts GIF canvases transparent instead of filled
	// with the global palette's background color.
	IgnoreBackground bool

	// DisableDisposalSkip always applies the previous frame's disposal,
	// even when the next frame overwrites the whole region. Output is
	// identical either way.
	DisableDisposalSkip bool

	// MaxPixels bounds the canvas area. Zero means DefaultMaxPixels.
	MaxPixels int64

	// MaxMemory bounds the bytes of retained output frames, checked when
	// an eager session loads and when DecodeAll starts retaining.
	// Zero means DefaultMaxMemory.
	MaxMemory int64

	// Logger receives debug and warning records. Nil discards them.
	Logger *slog.Logger
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o *Options) withDefaults() (Options, error) {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Scale == 0 {
		opts.Scale = 1
	}
	if math.IsNaN(opts.Scale) || opts.Scale <= 0 || opts.Scale > 1 {
		return opts, fmt.Errorf("%w: scale %v not in (0, 1]", ErrInvalidOptions, opts.Scale)
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.MaxMemory == 0 {
		opts.MaxMemory = DefaultMaxMemory
	}
	if opts.MaxPixels < 0 || opts.MaxMemory < 0 {
		return opts, fmt.Errorf("%w: negative limit", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts, nil
}

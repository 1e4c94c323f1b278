package animation

import "errors"

// Error taxonomy shared by the container parsers, the pixel decoders and
// the compositor. Every error produced by this module wraps exactly one of
// these; test with errors.Is.
var (
	// ErrFormat reports a bad signature or an invalid container structure.
	ErrFormat = errors.New("animation: invalid format")
	// ErrTruncated reports that the input ended in the middle of a structure.
	ErrTruncated = errors.New("animation: truncated input")
	// ErrDecode reports structurally valid input whose pixel data is corrupt
	// or unsupported.
	ErrDecode = errors.New("animation: pixel decode failed")
	// ErrAllocation reports a buffer size that overflows or exceeds the
	// configured limits.
	ErrAllocation = errors.New("animation: allocation limit exceeded")
)

var (
	ErrNoFrames        = errors.New("animation: no frames")
	ErrCanvasSize      = errors.New("animation: invalid canvas dimensions")
	ErrFrameOutOfRange = errors.New("animation: frame index out of range")
	ErrNilImage        = errors.New("animation: frame image is nil")
	ErrNoDecoder       = errors.New("animation: no frame decoder available")
)

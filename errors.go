package animdec

import (
	"errors"

	"github.com/deepteams/animdec/animation"
)

// Errors returned while loading and decoding. Every failure from the parsers,
// the pixel decoders and the compositor wraps one of the first four; test
// with errors.Is.
var (
	// ErrFormat reports a bad signature or an invalid container structure.
	ErrFormat = animation.ErrFormat
	// ErrTruncated reports that the input ended in the middle of a structure.
	ErrTruncated = animation.ErrTruncated
	// ErrDecode reports corrupt or unsupported pixel data in a frame.
	ErrDecode = animation.ErrDecode
	// ErrAllocation reports a buffer size that overflows or exceeds the
	// configured limits.
	ErrAllocation = animation.ErrAllocation
)

// Errors reporting misuse of a Session.
var (
	ErrInvalidOptions  = errors.New("animdec: invalid options")
	ErrNotLoaded       = errors.New("animdec: session not loaded")
	ErrAlreadyLoaded   = errors.New("animdec: session already loaded")
	ErrClosed          = errors.New("animdec: session closed")
	ErrAborted         = errors.New("animdec: decoding aborted")
	ErrFrameOutOfRange = animation.ErrFrameOutOfRange
	ErrNotRetained     = errors.New("animdec: frame not retained")
)

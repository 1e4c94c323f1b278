package animdec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/deepteams/animdec/internal/container"
)

// Format identifies the container format of a source.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatGIF
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	default:
		return "unknown"
	}
}

// sniff identifies the format from the leading bytes of br without
// consuming them.
func sniff(br *bufio.Reader) (Format, error) {
	head, err := br.Peek(len(container.PNGSignature))
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("animdec: reading signature: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, []byte(container.PNGSignature)):
		return FormatPNG, nil
	case bytes.HasPrefix(head, []byte(container.GIF87a)),
		bytes.HasPrefix(head, []byte(container.GIF89a)):
		return FormatGIF, nil
	}
	// A short stream that could still grow into a signature is truncated
	// rather than foreign.
	if len(head) < len(container.PNGSignature) {
		for _, sig := range []string{container.PNGSignature, container.GIF87a, container.GIF89a} {
			if len(head) < len(sig) && bytes.HasPrefix([]byte(sig), head) {
				return FormatUnknown, fmt.Errorf("%w: %d-byte stream", ErrTruncated, len(head))
			}
		}
	}
	return FormatUnknown, fmt.Errorf("%w: unrecognized signature", ErrFormat)
}

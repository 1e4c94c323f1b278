// Package gifanim parses GIF87a and GIF89a streams into an
// animation.Animation.
//
// The block scanner reads the logical screen, the graphic control and
// application extensions and every image descriptor in one forward pass,
// keeping each frame's LZW sub-block bytes. Pixels are decoded on demand by
// the installed Decoder.
package gifanim

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/internal/container"
)

// MaxFrames bounds the number of frames accepted from a single stream.
const MaxFrames = 10000

// Logical screen and image descriptor flags.
const (
	flagColorTable = 0x80
	flagInterlace  = 0x40
	maskTableSize  = 0x07

	gceTransparent  = 0x01
	gceDisposeMask  = 0x1c
	gceDisposeShift = 2
)

// GIF disposal codes.
const (
	disposalUnspecified = 0
	disposalNone        = 1
	disposalBackground  = 2
	disposalPrevious    = 3
)

// Options controls parsing.
type Options struct {
	// IgnoreBackground fills the first canvas with transparent black
	// instead of the global palette's background entry.
	IgnoreBackground bool
}

// Screen is the decoded logical screen descriptor.
type Screen struct {
	Width           int
	Height          int
	BackgroundIndex int
	HasGlobalTable  bool
}

// graphicControl is the pending graphic control extension that applies to
// the next image.
type graphicControl struct {
	delay       int // centiseconds
	disposal    int
	transparent int
}

func defaultControl() graphicControl {
	return graphicControl{transparent: -1}
}

// frameData is one image as stored in the stream.
type frameData struct {
	rect        image.Rectangle
	interlaced  bool
	litWidth    int
	palette     []byte // local table as RGB triples, nil when absent
	transparent int
	lzw         []byte
}

type scanner struct {
	r      *bufio.Reader
	screen Screen
	global []byte
	loop   int
	gce    graphicControl
	frames []frameData
	descs  []animation.Frame
	tmp    [256]byte

	noTrailer bool
}

// Parse reads a GIF stream positioned at its signature and returns the
// animation with a Decoder installed. Errors wrap animation.ErrFormat or
// animation.ErrTruncated.
func Parse(r io.Reader, opts *Options) (*animation.Animation, error) {
	if opts == nil {
		opts = &Options{}
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	s := &scanner{r: br, gce: defaultControl()}
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	if err := s.readBlocks(); err != nil {
		return nil, err
	}

	anim := &animation.Animation{
		CanvasWidth:  s.screen.Width,
		CanvasHeight: s.screen.Height,
		LoopCount:    s.loop,
		Frames:       s.descs,
		Decoder:      &Decoder{global: s.global, frames: s.frames},
		Truncated:    s.noTrailer,
	}
	if !opts.IgnoreBackground && s.global != nil && s.screen.BackgroundIndex*3+2 < len(s.global) {
		i := s.screen.BackgroundIndex * 3
		anim.BackgroundColor = color.NRGBA{R: s.global[i], G: s.global[i+1], B: s.global[i+2], A: 0xff}
	}
	if err := anim.Validate(); err != nil {
		return nil, err
	}
	return anim, nil
}

func (s *scanner) readFull(buf []byte, what string) error {
	return container.ReadFull(s.r, buf, what)
}

func (s *scanner) readByte(what string) (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: reading %s", animation.ErrTruncated, what)
		}
		return 0, fmt.Errorf("gifanim: reading %s: %w", what, err)
	}
	return b, nil
}

func (s *scanner) readHeader() error {
	var sig [container.GIFSignatureSize]byte
	if err := s.readFull(sig[:], "GIF signature"); err != nil {
		return err
	}
	if v := string(sig[:]); v != container.GIF87a && v != container.GIF89a {
		return fmt.Errorf("%w: not a GIF file", animation.ErrFormat)
	}

	var lsd [container.ScreenDescSize]byte
	if err := s.readFull(lsd[:], "logical screen descriptor"); err != nil {
		return err
	}
	s.screen = Screen{
		Width:           int(binary.LittleEndian.Uint16(lsd[0:2])),
		Height:          int(binary.LittleEndian.Uint16(lsd[2:4])),
		BackgroundIndex: int(lsd[5]),
		HasGlobalTable:  lsd[4]&flagColorTable != 0,
	}
	if s.screen.Width == 0 || s.screen.Height == 0 {
		return fmt.Errorf("%w: %w: %dx%d", animation.ErrFormat, animation.ErrCanvasSize,
			s.screen.Width, s.screen.Height)
	}
	if s.screen.HasGlobalTable {
		pal, err := s.readColorTable(lsd[4], "global color table")
		if err != nil {
			return err
		}
		s.global = pal
	}
	return nil
}

func (s *scanner) readColorTable(flags byte, what string) ([]byte, error) {
	n := 1 << (1 + uint(flags&maskTableSize))
	pal := make([]byte, 3*n)
	if err := s.readFull(pal, what); err != nil {
		return nil, err
	}
	return pal, nil
}

func (s *scanner) readBlocks() error {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Tolerate a missing trailer at a block boundary once at
				// least one image has been read.
				if len(s.frames) > 0 {
					s.noTrailer = true
					return nil
				}
				return fmt.Errorf("%w: no image before end of stream", animation.ErrTruncated)
			}
			return fmt.Errorf("gifanim: reading block: %w", err)
		}
		switch b {
		case container.GIFExtension:
			if err := s.readExtension(); err != nil {
				return err
			}
		case container.GIFImageDescriptor:
			if err := s.readImage(); err != nil {
				return err
			}
		case container.GIFTrailer:
			if len(s.frames) == 0 {
				return fmt.Errorf("%w: %w", animation.ErrFormat, animation.ErrNoFrames)
			}
			return nil
		default:
			return fmt.Errorf("%w: unknown block type 0x%02x", animation.ErrFormat, b)
		}
	}
}

func (s *scanner) readExtension() error {
	label, err := s.readByte("extension label")
	if err != nil {
		return err
	}
	switch label {
	case container.GIFGraphicControl:
		return s.readGraphicControl()
	case container.GIFApplication:
		return s.readApplication()
	default:
		return s.skipSubBlocks()
	}
}

func (s *scanner) readGraphicControl() error {
	size, err := s.readByte("graphic control size")
	if err != nil {
		return err
	}
	if size != 4 {
		return fmt.Errorf("%w: graphic control size %d", animation.ErrFormat, size)
	}
	var b [4]byte
	if err := s.readFull(b[:], "graphic control"); err != nil {
		return err
	}
	s.gce = graphicControl{
		disposal:    int(b[0]&gceDisposeMask) >> gceDisposeShift,
		delay:       int(binary.LittleEndian.Uint16(b[1:3])),
		transparent: -1,
	}
	if b[0]&gceTransparent != 0 {
		s.gce.transparent = int(b[3])
	}
	return s.skipSubBlocks()
}

// readApplication handles NETSCAPE2.0 and ANIMEXTS1.0 loop extensions and
// skips every other application extension.
func (s *scanner) readApplication() error {
	size, err := s.readByte("application extension size")
	if err != nil {
		return err
	}
	if err := s.readFull(s.tmp[:size], "application identifier"); err != nil {
		return err
	}
	id := string(s.tmp[:size])
	if size != container.AppIdentifierSize || (id != "NETSCAPE2.0" && id != "ANIMEXTS1.0") {
		return s.skipSubBlocks()
	}
	for {
		n, err := s.readByte("application sub-block")
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := s.readFull(s.tmp[:n], "application sub-block"); err != nil {
			return err
		}
		if n == 3 && s.tmp[0] == 1 {
			s.loop = netscapeLoop(binary.LittleEndian.Uint16(s.tmp[1:3]))
		}
	}
}

// netscapeLoop maps the Netscape repetition count to the animation loop
// count: 0 repeats forever, N is reported as N.
func netscapeLoop(n uint16) int {
	if n == 0 {
		return -1
	}
	return int(n)
}

func (s *scanner) skipSubBlocks() error {
	for {
		n, err := s.readByte("sub-block size")
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := s.r.Discard(int(n)); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: sub-block", animation.ErrTruncated)
			}
			return fmt.Errorf("gifanim: skipping sub-block: %w", err)
		}
	}
}

// readSubBlocks concatenates a sub-block chain.
func (s *scanner) readSubBlocks() ([]byte, error) {
	var data []byte
	for {
		n, err := s.readByte("image data sub-block size")
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return data, nil
		}
		start := len(data)
		data = append(data, s.tmp[:n]...)
		if err := s.readFull(data[start:], "image data sub-block"); err != nil {
			return nil, err
		}
	}
}

func (s *scanner) readImage() error {
	if len(s.frames) >= MaxFrames {
		return fmt.Errorf("%w: more than %d frames", animation.ErrFormat, MaxFrames)
	}
	var d [container.ImageDescSize]byte
	if err := s.readFull(d[:], "image descriptor"); err != nil {
		return err
	}
	left := int(binary.LittleEndian.Uint16(d[0:2]))
	top := int(binary.LittleEndian.Uint16(d[2:4]))
	width := int(binary.LittleEndian.Uint16(d[4:6]))
	height := int(binary.LittleEndian.Uint16(d[6:8]))
	flags := d[8]

	fd := frameData{
		rect:        image.Rect(left, top, left+width, top+height),
		interlaced:  flags&flagInterlace != 0,
		transparent: s.gce.transparent,
	}
	if flags&flagColorTable != 0 {
		pal, err := s.readColorTable(flags, "local color table")
		if err != nil {
			return err
		}
		fd.palette = pal
	}
	lw, err := s.readByte("LZW minimum code size")
	if err != nil {
		return err
	}
	fd.litWidth = int(lw)
	if fd.lzw, err = s.readSubBlocks(); err != nil {
		return err
	}

	f := animation.Frame{
		Index:            len(s.frames),
		OffsetX:          left,
		OffsetY:          top,
		Width:            width,
		Height:           height,
		Duration:         Delay(s.gce.delay),
		Dispose:          Disposal(s.gce.disposal),
		Blend:            animation.BlendSource,
		TransparentIndex: s.gce.transparent,
	}
	if f.TransparentIndex >= 0 {
		// Transparent pixels decode with alpha 0; blending them over the
		// canvas leaves it untouched.
		f.Blend = animation.BlendOver
	}
	s.frames = append(s.frames, fd)
	s.descs = append(s.descs, f)
	s.gce = defaultControl()
	return nil
}

// Delay converts a GIF delay in centiseconds to a display duration; zero
// falls back to animation.DefaultDelay.
func Delay(cs int) time.Duration {
	if cs <= 0 {
		return animation.DefaultDelay
	}
	return time.Duration(cs) * 10 * time.Millisecond
}

// Disposal maps a GIF disposal code to a dispose method. Reserved codes
// 4-7 behave like "do not dispose".
func Disposal(code int) animation.DisposeMethod {
	switch code {
	case disposalBackground:
		return animation.DisposeBackground
	case disposalPrevious:
		return animation.DisposePrevious
	default:
		return animation.DisposeNone
	}
}

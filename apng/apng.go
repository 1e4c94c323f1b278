// Package apng parses PNG and APNG streams into an animation.Animation.
//
// The parser makes one forward pass over the chunk stream. It keeps each
// frame's compressed IDAT or fdAT payload but decodes no pixels; the
// Decoder it installs rebuilds a standalone PNG stream per frame and hands
// it to image/png. A PNG without an acTL chunk yields a single frame
// covering the whole canvas.
package apng

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/internal/container"
)

// MaxFrames bounds the number of frames accepted from a single stream.
const MaxFrames = 10000

// Header is the decoded IHDR chunk.
type Header struct {
	Width       int
	Height      int
	BitDepth    uint8
	ColorType   uint8
	Compression uint8
	Filter      uint8
	Interlace   uint8
}

// PNG color types.
const (
	colorGray      = 0
	colorRGB       = 2
	colorPalette   = 3
	colorGrayAlpha = 4
	colorRGBA      = 6
)

// validDepths lists the allowed bit depths per color type.
var validDepths = map[uint8][]uint8{
	colorGray:      {1, 2, 4, 8, 16},
	colorRGB:       {8, 16},
	colorPalette:   {1, 2, 4, 8},
	colorGrayAlpha: {8, 16},
	colorRGBA:      {8, 16},
}

func parseHeader(data []byte) (Header, error) {
	if len(data) != container.IHDRSize {
		return Header{}, fmt.Errorf("%w: IHDR length %d", animation.ErrFormat, len(data))
	}
	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	hdr := Header{
		Width:       int(w),
		Height:      int(h),
		BitDepth:    data[8],
		ColorType:   data[9],
		Compression: data[10],
		Filter:      data[11],
		Interlace:   data[12],
	}
	if w == 0 || h == 0 || w > container.MaxChunkLength || h > container.MaxChunkLength {
		return Header{}, fmt.Errorf("%w: %w: %dx%d", animation.ErrFormat, animation.ErrCanvasSize, w, h)
	}
	depths, ok := validDepths[hdr.ColorType]
	if !ok {
		return Header{}, fmt.Errorf("%w: color type %d", animation.ErrFormat, hdr.ColorType)
	}
	valid := false
	for _, d := range depths {
		if d == hdr.BitDepth {
			valid = true
			break
		}
	}
	if !valid {
		return Header{}, fmt.Errorf("%w: bit depth %d for color type %d",
			animation.ErrFormat, hdr.BitDepth, hdr.ColorType)
	}
	if hdr.Compression != 0 || hdr.Filter != 0 || hdr.Interlace > 1 {
		return Header{}, fmt.Errorf("%w: compression %d, filter %d, interlace %d",
			animation.ErrFormat, hdr.Compression, hdr.Filter, hdr.Interlace)
	}
	return hdr, nil
}

func (h Header) bytes(width, height int) []byte {
	b := make([]byte, container.IHDRSize)
	binary.BigEndian.PutUint32(b[0:4], uint32(width))
	binary.BigEndian.PutUint32(b[4:8], uint32(height))
	b[8] = h.BitDepth
	b[9] = h.ColorType
	b[10] = h.Compression
	b[11] = h.Filter
	b[12] = h.Interlace
	return b
}

// frameControl is a decoded fcTL chunk.
type frameControl struct {
	seq      uint32
	width    uint32
	height   uint32
	x        uint32
	y        uint32
	delayNum uint16
	delayDen uint16
	dispose  uint8
	blend    uint8
}

func parseFrameControl(data []byte) (frameControl, error) {
	if len(data) != container.FCTLSize {
		return frameControl{}, fmt.Errorf("%w: fcTL length %d", animation.ErrFormat, len(data))
	}
	return frameControl{
		seq:      binary.BigEndian.Uint32(data[0:4]),
		width:    binary.BigEndian.Uint32(data[4:8]),
		height:   binary.BigEndian.Uint32(data[8:12]),
		x:        binary.BigEndian.Uint32(data[12:16]),
		y:        binary.BigEndian.Uint32(data[16:20]),
		delayNum: binary.BigEndian.Uint16(data[20:22]),
		delayDen: binary.BigEndian.Uint16(data[22:24]),
		dispose:  data[24],
		blend:    data[25],
	}, nil
}

// validate checks the frame region against the canvas and the op codes.
func (fc frameControl) validate(hdr Header) error {
	if fc.width == 0 || fc.height == 0 {
		return fmt.Errorf("%w: fcTL %d: empty frame", animation.ErrFormat, fc.seq)
	}
	if uint64(fc.x)+uint64(fc.width) > uint64(hdr.Width) ||
		uint64(fc.y)+uint64(fc.height) > uint64(hdr.Height) {
		return fmt.Errorf("%w: fcTL %d: frame %dx%d at (%d,%d) exceeds canvas %dx%d",
			animation.ErrFormat, fc.seq, fc.width, fc.height, fc.x, fc.y, hdr.Width, hdr.Height)
	}
	if fc.dispose > 2 {
		return fmt.Errorf("%w: fcTL %d: dispose_op %d", animation.ErrFormat, fc.seq, fc.dispose)
	}
	if fc.blend > 1 {
		return fmt.Errorf("%w: fcTL %d: blend_op %d", animation.ErrFormat, fc.seq, fc.blend)
	}
	return nil
}

// NormalizeDelay converts an fcTL delay fraction to a display duration:
// round(num*1000/den) milliseconds, a zero denominator meaning 1/100 s and a
// zero result falling back to animation.DefaultDelay.
func NormalizeDelay(num, den uint16) time.Duration {
	d := uint32(den)
	if d == 0 {
		d = 100
	}
	ms := (uint32(num)*1000 + d/2) / d
	if ms == 0 {
		return animation.DefaultDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// loopCount maps acTL num_plays to the animation loop count.
func loopCount(numPlays uint32) int {
	if numPlays == 0 {
		return -1
	}
	if numPlays > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(numPlays)
}

// pendingFrame collects the payload segments of one frame.
type pendingFrame struct {
	fc       frameControl
	usesIDAT bool
	data     [][]byte
}

// parser holds the state of one forward pass.
type parser struct {
	cr      *container.Reader
	hdr     Header
	plte    []byte
	trns    []byte
	actl    bool
	plays   uint32
	nextSeq uint32

	seenIDAT bool
	idatDone bool
	idat     [][]byte
	cur      *pendingFrame
	frames   []*pendingFrame
}

// Parse reads a PNG or APNG stream positioned at its signature and returns
// the animation with a Decoder installed. Errors wrap animation.ErrFormat
// or animation.ErrTruncated.
func Parse(r io.Reader) (*animation.Animation, error) {
	if err := container.CheckPNGSignature(r); err != nil {
		return nil, err
	}
	p := &parser{cr: container.NewReader(r)}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.build()
}

func (p *parser) run() error {
	c, err := p.cr.Next()
	if err != nil {
		return err
	}
	if c.Type != container.TypeIHDR {
		p.cr.Release(&c)
		return fmt.Errorf("%w: first chunk is %s, want IHDR", animation.ErrFormat, container.TypeString(c.Type))
	}
	p.hdr, err = parseHeader(c.Data)
	p.cr.Release(&c)
	if err != nil {
		return err
	}

	for {
		c, err := p.cr.Next()
		if err != nil {
			return err
		}
		if c.Type == container.TypeIEND {
			p.cr.Release(&c)
			return p.finishFrame()
		}
		if err := p.handle(&c); err != nil {
			p.cr.Release(&c)
			return err
		}
	}
}

// handle processes one chunk after IHDR. It takes ownership of c.
func (p *parser) handle(c *container.Chunk) error {
	if p.seenIDAT && c.Type != container.TypeIDAT {
		p.idatDone = true
	}
	switch c.Type {
	case container.TypeIHDR:
		return fmt.Errorf("%w: duplicate IHDR", animation.ErrFormat)

	case container.TypePLTE:
		if p.seenIDAT {
			return fmt.Errorf("%w: PLTE after IDAT", animation.ErrFormat)
		}
		p.plte = p.cr.Detach(c)

	case container.TypeTRNS:
		if p.seenIDAT {
			return fmt.Errorf("%w: tRNS after IDAT", animation.ErrFormat)
		}
		p.trns = p.cr.Detach(c)

	case container.TypeACTL:
		// acTL after the image data does not make the file animated.
		if p.seenIDAT {
			break
		}
		if len(c.Data) != container.ACTLSize {
			return fmt.Errorf("%w: acTL length %d", animation.ErrFormat, len(c.Data))
		}
		if p.actl {
			return fmt.Errorf("%w: duplicate acTL", animation.ErrFormat)
		}
		numFrames := binary.BigEndian.Uint32(c.Data[0:4])
		if numFrames == 0 {
			return fmt.Errorf("%w: acTL declares zero frames", animation.ErrFormat)
		}
		if numFrames > MaxFrames {
			return fmt.Errorf("%w: acTL declares %d frames, limit %d", animation.ErrFormat, numFrames, MaxFrames)
		}
		p.actl = true
		p.plays = binary.BigEndian.Uint32(c.Data[4:8])

	case container.TypeFCTL:
		if !p.actl {
			break
		}
		fc, err := parseFrameControl(c.Data)
		if err != nil {
			return err
		}
		if err := p.checkSeq(fc.seq); err != nil {
			return err
		}
		if err := fc.validate(p.hdr); err != nil {
			return err
		}
		if err := p.finishFrame(); err != nil {
			return err
		}
		if len(p.frames) >= MaxFrames {
			return fmt.Errorf("%w: more than %d frames", animation.ErrFormat, MaxFrames)
		}
		p.cur = &pendingFrame{fc: fc, usesIDAT: !p.seenIDAT}
		if p.cur.usesIDAT && (fc.x != 0 || fc.y != 0 ||
			int(fc.width) != p.hdr.Width || int(fc.height) != p.hdr.Height) {
			return fmt.Errorf("%w: default image frame must cover the canvas", animation.ErrFormat)
		}

	case container.TypeIDAT:
		if p.idatDone {
			return fmt.Errorf("%w: non-consecutive IDAT chunks", animation.ErrFormat)
		}
		if p.hdr.ColorType == colorPalette && p.plte == nil {
			return fmt.Errorf("%w: palette image without PLTE", animation.ErrFormat)
		}
		p.seenIDAT = true
		data := p.cr.Detach(c)
		if p.cur != nil && p.cur.usesIDAT {
			p.cur.data = append(p.cur.data, data)
		} else {
			p.idat = append(p.idat, data)
		}

	case container.TypeFDAT:
		if !p.actl {
			break
		}
		if len(c.Data) < container.FDATSeqSize {
			return fmt.Errorf("%w: fdAT length %d", animation.ErrFormat, len(c.Data))
		}
		if err := p.checkSeq(binary.BigEndian.Uint32(c.Data[0:4])); err != nil {
			return err
		}
		if p.cur == nil || p.cur.usesIDAT {
			return fmt.Errorf("%w: fdAT without a frame control", animation.ErrFormat)
		}
		data := p.cr.Detach(c)
		p.cur.data = append(p.cur.data, data[container.FDATSeqSize:])

	default:
		if container.IsCritical(c.Type) {
			return fmt.Errorf("%w: unknown critical chunk %s", animation.ErrFormat, container.TypeString(c.Type))
		}
	}
	p.cr.Release(c)
	return nil
}

func (p *parser) checkSeq(seq uint32) error {
	if seq != p.nextSeq {
		return fmt.Errorf("%w: sequence number %d, want %d", animation.ErrFormat, seq, p.nextSeq)
	}
	p.nextSeq++
	return nil
}

// finishFrame closes the frame being collected, if any.
func (p *parser) finishFrame() error {
	if p.cur == nil {
		return nil
	}
	if len(p.cur.data) == 0 {
		return fmt.Errorf("%w: frame %d has no image data", animation.ErrFormat, len(p.frames))
	}
	p.frames = append(p.frames, p.cur)
	p.cur = nil
	return nil
}

func (p *parser) build() (*animation.Animation, error) {
	if !p.seenIDAT {
		return nil, fmt.Errorf("%w: missing IDAT", animation.ErrFormat)
	}
	anim := &animation.Animation{
		CanvasWidth:  p.hdr.Width,
		CanvasHeight: p.hdr.Height,
	}

	if !p.actl {
		// Still image: one frame covering the canvas.
		p.frames = []*pendingFrame{{
			fc: frameControl{
				width:  uint32(p.hdr.Width),
				height: uint32(p.hdr.Height),
			},
			data: p.idat,
		}}
	} else {
		anim.LoopCount = loopCount(p.plays)
	}

	dec := &Decoder{hdr: p.hdr, plte: p.plte, trns: p.trns}
	for i, pf := range p.frames {
		fc := pf.fc
		f := animation.Frame{
			Index:            i,
			OffsetX:          int(fc.x),
			OffsetY:          int(fc.y),
			Width:            int(fc.width),
			Height:           int(fc.height),
			Duration:         NormalizeDelay(fc.delayNum, fc.delayDen),
			Dispose:          animation.DisposeMethod(fc.dispose),
			Blend:            animation.BlendMethod(fc.blend),
			TransparentIndex: -1,
		}
		anim.Frames = append(anim.Frames, f)
		dec.sizes = append(dec.sizes, image.Pt(f.Width, f.Height))
		dec.frames = append(dec.frames, pf.data)
	}
	anim.Decoder = dec
	if err := anim.Validate(); err != nil {
		return nil, err
	}
	return anim, nil
}

package animdec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"math/bits"
	"os"
	"time"

	"golang.org/x/image/draw"

	"github.com/deepteams/animdec/animation"
	"github.com/deepteams/animdec/apng"
	"github.com/deepteams/animdec/gifanim"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateInit State = iota
	StateHeaderRead
	StateDecoding
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHeaderRead:
		return "header-read"
	case StateDecoding:
		return "decoding"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session decodes one animation. It moves through
// Init -> HeaderRead -> Decoding -> Finished, or to Failed on any error;
// Failed is terminal. Frames emitted before a failure remain valid.
type Session struct {
	opts   Options
	log    *slog.Logger
	format Format
	anim   *animation.Animation
	comp   *animation.Compositor
	closer io.Closer

	state   State
	err     error
	closed  bool
	aborted bool

	width  int // output size after scaling
	height int

	next       int             // index of the next frame to composite
	current    *DecodedFrame   // most recently composited frame
	retained   []*DecodedFrame // every frame since the last replay, when retaining
	retain     bool
	prefetched bool
}

// NewSession returns a session in the Init state. Call Load to read a
// source.
func NewSession(opts *Options) (*Session, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Session{
		opts:   o,
		log:    o.Logger,
		retain: o.Eager,
	}, nil
}

// Open loads an animation from r.
func Open(r io.Reader, opts *Options) (*Session, error) {
	s, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Load(r); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenBytes loads an animation held in memory.
func OpenBytes(data []byte, opts *Options) (*Session, error) {
	return Open(bytes.NewReader(data), opts)
}

// OpenFile loads an animation from the named file. The file is closed by
// Session.Close, or before returning when loading fails.
func OpenFile(name string, opts *Options) (*Session, error) {
	s, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	s.closer = f
	if err := s.Load(f); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Load parses the container read from r: signature, canvas, loop count and
// every frame descriptor. No pixels are decoded. On success the session is
// in HeaderRead; on failure it is Failed and the error wraps ErrFormat,
// ErrTruncated or ErrAllocation.
func (s *Session) Load(r io.Reader) error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateInit {
		return ErrAlreadyLoaded
	}

	br := bufio.NewReader(r)
	format, err := sniff(br)
	if err != nil {
		return s.fail(err)
	}

	var anim *animation.Animation
	switch format {
	case FormatPNG:
		anim, err = apng.Parse(br)
	case FormatGIF:
		anim, err = gifanim.Parse(br, &gifanim.Options{IgnoreBackground: s.opts.IgnoreBackground})
	}
	if err != nil {
		return s.fail(err)
	}
	if s.opts.SingleFrame {
		anim.Truncate(1)
	}
	if err := s.checkCanvas(anim); err != nil {
		return s.fail(err)
	}
	s.width, s.height = scaledSize(anim.CanvasWidth, anim.CanvasHeight, s.opts.Scale)
	if s.opts.Eager {
		if err := s.checkRetention(len(anim.Frames)); err != nil {
			return s.fail(err)
		}
	}

	s.format = format
	s.anim = anim
	s.comp = animation.NewCompositor(anim.CanvasWidth, anim.CanvasHeight, anim.BackgroundColor)
	s.comp.SkipCoveredDisposal = !s.opts.DisableDisposalSkip
	s.state = StateHeaderRead

	s.log.Debug("animdec: header read",
		"format", format,
		"width", anim.CanvasWidth,
		"height", anim.CanvasHeight,
		"frames", len(anim.Frames),
		"loop_count", anim.LoopCount,
	)
	if anim.Truncated {
		s.log.Warn("animdec: stream ends without trailer, keeping complete frames",
			"frames", len(anim.Frames))
	}
	return nil
}

// checkCanvas verifies the canvas area against MaxPixels. The product is
// computed with overflow detection.
func (s *Session) checkCanvas(anim *animation.Animation) error {
	w, h := uint64(anim.CanvasWidth), uint64(anim.CanvasHeight)
	hi, pixels := bits.Mul64(w, h)
	if hi != 0 || pixels > uint64(s.opts.MaxPixels) {
		return fmt.Errorf("%w: canvas %dx%d exceeds %d pixels", ErrAllocation, w, h, s.opts.MaxPixels)
	}
	return nil
}

// checkRetention verifies that n output frames of the session's output size
// fit MaxMemory.
func (s *Session) checkRetention(n int) error {
	w, h := uint64(s.width), uint64(s.height)
	hi1, pixels := bits.Mul64(w, h)
	hi2, frameBytes := bits.Mul64(pixels, 4)
	hi3, total := bits.Mul64(frameBytes, uint64(n))
	if hi1|hi2|hi3 != 0 || total > uint64(s.opts.MaxMemory) {
		return fmt.Errorf("%w: %d frames of %dx%d exceed %d bytes",
			ErrAllocation, n, w, h, s.opts.MaxMemory)
	}
	return nil
}

func scaledSize(w, h int, scale float64) (int, int) {
	if scale >= 1 {
		return w, h
	}
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	return max(sw, 1), max(sh, 1)
}

// fail moves the session to Failed and records err.
func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.err = err
	s.log.Warn("animdec: session failed", "state", s.state, "err", err)
	return err
}

// Width returns the output frame width, after scaling.
func (s *Session) Width() int { return s.width }

// Height returns the output frame height, after scaling.
func (s *Session) Height() int { return s.height }

// CanvasSize returns the unscaled canvas dimensions.
func (s *Session) CanvasSize() (int, int) {
	if s.anim == nil {
		return 0, 0
	}
	return s.anim.CanvasWidth, s.anim.CanvasHeight
}

// Format returns the container format of the loaded source.
func (s *Session) Format() Format { return s.format }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the error that moved the session to Failed, or nil.
func (s *Session) Err() error { return s.err }

// Aborted reports whether the last decode call stopped because the abort
// predicate returned true.
func (s *Session) Aborted() bool { return s.aborted }

// FrameCount returns the number of frames, 1 in single-frame mode.
func (s *Session) FrameCount() int {
	if s.anim == nil {
		return 0
	}
	return len(s.anim.Frames)
}

// LoopCount returns -1 for infinite looping, 0 for play once, or the
// declared number of loops.
func (s *Session) LoopCount() int {
	if s.anim == nil {
		return 0
	}
	return s.anim.LoopCount
}

// FrameDelayMs returns the delay of frame i in milliseconds, or the default
// of 100 when i is out of range.
func (s *Session) FrameDelayMs(i int) int {
	if s.anim == nil || i < 0 || i >= len(s.anim.Frames) {
		return int(animation.DefaultDelay.Milliseconds())
	}
	return s.anim.Frames[i].DelayMs()
}

// Progress returns the number of frames composited so far and the total.
func (s *Session) Progress() (current, total int) {
	return s.next, s.FrameCount()
}

// Current returns the most recently composited frame, or nil.
func (s *Session) Current() *DecodedFrame { return s.current }

// DecodeNextFrame composites the next frame and reports whether one was
// produced. It returns false when all frames are done, when the session has
// failed (see Err) and when the abort predicate fired (see Aborted); after
// an abort, calling it again resumes.
func (s *Session) DecodeNextFrame() bool {
	if s.closed || s.anim == nil {
		return false
	}
	switch s.state {
	case StateFailed, StateFinished:
		return false
	}
	if s.next >= len(s.anim.Frames) {
		s.state = StateFinished
		return false
	}
	if s.shouldAbort() {
		return false
	}
	s.state = StateDecoding
	if err := s.step(); err != nil {
		s.fail(err)
		return false
	}
	if s.next == len(s.anim.Frames) {
		s.state = StateFinished
		s.log.Debug("animdec: all frames decoded", "frames", s.next)
	}
	return true
}

// Next composites and returns the next frame. It returns io.EOF after the
// last frame and ErrAborted when the abort predicate fired.
func (s *Session) Next() (*DecodedFrame, error) {
	if s.DecodeNextFrame() {
		return s.current, nil
	}
	switch {
	case s.closed:
		return nil, ErrClosed
	case s.anim == nil:
		return nil, ErrNotLoaded
	case s.err != nil:
		return nil, s.err
	case s.aborted:
		return nil, ErrAborted
	}
	return nil, io.EOF
}

func (s *Session) shouldAbort() bool {
	s.aborted = s.opts.Abort != nil && s.opts.Abort()
	if s.aborted {
		s.log.Debug("animdec: decoding aborted", "next", s.next)
	}
	return s.aborted
}

// step decodes and composites frame s.next.
func (s *Session) step() error {
	i := s.next
	f := &s.anim.Frames[i]

	if s.opts.Eager && !s.prefetched {
		s.prefetched = true
		// A failure here is reported again, with its frame index, when the
		// sequential path reaches the failing frame.
		if err := s.anim.DecodeFramesParallel(); err != nil {
			s.log.Debug("animdec: parallel decode stopped", "index", animation.FailedIndex(err), "err", err)
		}
	}

	src := f.Image
	if !f.HasImage() {
		var err error
		if src, err = s.anim.DecodeFrame(i); err != nil {
			return &animation.FrameError{Index: i, Err: err}
		}
	}
	if err := s.comp.Apply(f, src); err != nil {
		return &animation.FrameError{Index: i, Err: err}
	}
	// Frame pixels are only needed once per pass.
	f.Image = nil

	df := &DecodedFrame{
		Index: i,
		Delay: f.Duration,
		Image: s.output(),
	}
	s.current = df
	if s.retain {
		s.retained = append(s.retained, df)
	}
	s.next++

	s.log.Debug("animdec: frame composited",
		"index", i,
		"rect", f.Bounds(),
		"dispose", f.Dispose,
		"blend", f.Blend,
		"delay_ms", f.DelayMs(),
	)
	return nil
}

// output copies the canvas into a new image, scaled when configured.
func (s *Session) output() *image.NRGBA {
	canvas := s.comp.Canvas()
	if s.width == canvas.Rect.Dx() && s.height == canvas.Rect.Dy() {
		return s.comp.Snapshot()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	draw.BiLinear.Scale(dst, dst.Bounds(), canvas, canvas.Bounds(), draw.Src, nil)
	return dst
}

// rewind restarts compositing from frame 0.
func (s *Session) rewind() {
	s.comp.Reset()
	s.next = 0
	s.current = nil
	s.retained = nil
}

// DecodeAll composites every remaining frame and returns all frames of the
// animation. Frames already passed in streaming mode are replayed. On a
// decode failure the frames before the failing one are returned with the
// error; if the abort predicate fires, the frames so far are returned with
// ErrAborted and a later call resumes. When retaining every frame would
// exceed MaxMemory it returns ErrAllocation and leaves the session usable
// for streaming.
func (s *Session) DecodeAll() ([]*DecodedFrame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.anim == nil {
		return nil, ErrNotLoaded
	}
	if s.state == StateFailed {
		return s.retained, s.err
	}
	if !s.retain {
		if err := s.checkRetention(len(s.anim.Frames)); err != nil {
			s.log.Warn("animdec: refusing to retain all frames", "err", err)
			return nil, err
		}
		s.retain = true
		if s.next > 0 {
			s.rewind()
		}
	}
	if !s.prefetched {
		s.prefetched = true
		if err := s.anim.DecodeFramesParallel(); err != nil {
			s.log.Debug("animdec: parallel decode stopped", "index", animation.FailedIndex(err), "err", err)
		}
	}
	for s.next < len(s.anim.Frames) {
		if s.shouldAbort() {
			return s.retained, ErrAborted
		}
		s.state = StateDecoding
		if err := s.step(); err != nil {
			return s.retained, s.fail(err)
		}
	}
	s.state = StateFinished
	return s.retained, nil
}

// Frame returns frame i if it is available without decoding: every frame
// composited so far in eager mode or after DecodeAll, otherwise only the
// current one.
func (s *Session) Frame(i int) (*DecodedFrame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.anim == nil {
		return nil, ErrNotLoaded
	}
	if i < 0 || i >= len(s.anim.Frames) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, i, len(s.anim.Frames))
	}
	if i < len(s.retained) {
		return s.retained[i], nil
	}
	if s.current != nil && s.current.Index == i {
		return s.current, nil
	}
	return nil, fmt.Errorf("%w: frame %d", ErrNotRetained, i)
}

// FrameData returns the straight-alpha RGBA8888 pixels of frame i.
func (s *Session) FrameData(i int) ([]byte, error) {
	f, err := s.Frame(i)
	if err != nil {
		return nil, err
	}
	return f.Pix(), nil
}

// FrameDataPremultiplied returns the premultiplied RGBA8888 pixels of
// frame i.
func (s *Session) FrameDataPremultiplied(i int) ([]byte, error) {
	f, err := s.Frame(i)
	if err != nil {
		return nil, err
	}
	return f.Premultiplied(), nil
}

// Seek composites up to frame i and returns it. Seeking backwards replays
// from frame 0; retained frames are returned directly. The abort predicate
// is not consulted.
func (s *Session) Seek(i int) (*DecodedFrame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.anim == nil {
		return nil, ErrNotLoaded
	}
	if s.state == StateFailed {
		return nil, s.err
	}
	if i < 0 || i >= len(s.anim.Frames) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameOutOfRange, i, len(s.anim.Frames))
	}
	if i < len(s.retained) {
		return s.retained[i], nil
	}
	if s.current != nil && s.current.Index == i {
		return s.current, nil
	}
	if i < s.next {
		s.log.Debug("animdec: replaying from frame 0", "target", i)
		s.rewind()
	}
	for s.next <= i {
		s.state = StateDecoding
		if err := s.step(); err != nil {
			return nil, s.fail(err)
		}
	}
	if s.next == len(s.anim.Frames) {
		s.state = StateFinished
	}
	return s.current, nil
}

// Close releases the source and every buffer held by the session. Frames
// already returned stay valid. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.anim = nil
	s.comp = nil
	s.current = nil
	s.retained = nil
	var err error
	if s.closer != nil {
		err = s.closer.Close()
		s.closer = nil
	}
	return err
}

// Features describes an animation without decoding its pixels.
type Features struct {
	Format       Format
	Width        int
	Height       int
	FrameCount   int
	LoopCount    int
	HasAnimation bool

	// Duration is the sum of all frame delays.
	Duration time.Duration

	// Truncated is set for a GIF that ends without its trailer.
	Truncated bool

	Frames []FrameInfo
}

// FrameInfo is the control data of one frame.
type FrameInfo struct {
	Rect    image.Rectangle
	DelayMs int
	Dispose animation.DisposeMethod
	Blend   animation.BlendMethod
}

// GetFeatures parses r and reports its container properties.
func GetFeatures(r io.Reader) (Features, error) {
	s, err := Open(r, nil)
	if err != nil {
		return Features{}, err
	}
	defer s.Close()
	feat := Features{
		Format:       s.format,
		Width:        s.anim.CanvasWidth,
		Height:       s.anim.CanvasHeight,
		FrameCount:   len(s.anim.Frames),
		LoopCount:    s.anim.LoopCount,
		HasAnimation: len(s.anim.Frames) > 1,
		Duration:     s.anim.TotalDuration(),
		Truncated:    s.anim.Truncated,
	}
	for i := range s.anim.Frames {
		f := &s.anim.Frames[i]
		feat.Frames = append(feat.Frames, FrameInfo{
			Rect:    f.Bounds(),
			DelayMs: f.DelayMs(),
			Dispose: f.Dispose,
			Blend:   f.Blend,
		})
	}
	return feat, nil
}

// IsFrameError reports whether err came from decoding a specific frame and
// returns its index.
func IsFrameError(err error) (int, bool) {
	var fe *animation.FrameError
	if errors.As(err, &fe) {
		return fe.Index, true
	}
	return -1, false
}

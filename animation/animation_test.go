package animation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"
)

var (
	red         = color.NRGBA{R: 255, A: 255}
	green       = color.NRGBA{G: 255, A: 255}
	blue        = color.NRGBA{B: 255, A: 255}
	transparent = color.NRGBA{}
)

// --- Frame tests ---

func TestFrameBounds(t *testing.T) {
	f := Frame{OffsetX: 10, OffsetY: 20, Width: 100, Height: 200}
	b := f.Bounds()
	if b.Min.X != 10 || b.Min.Y != 20 || b.Max.X != 110 || b.Max.Y != 220 {
		t.Errorf("Bounds() = %v, want (10,20)-(110,220)", b)
	}
}

func TestFrameHasImage(t *testing.T) {
	f := Frame{}
	if f.HasImage() {
		t.Error("HasImage() = true for nil Image")
	}
	f.Image = image.NewNRGBA(image.Rect(0, 0, 1, 1))
	if !f.HasImage() {
		t.Error("HasImage() = false for non-nil Image")
	}
}

func TestFrameDelayMs(t *testing.T) {
	f := Frame{Duration: 70 * time.Millisecond}
	if got := f.DelayMs(); got != 70 {
		t.Errorf("DelayMs() = %d, want 70", got)
	}
}

func TestMethodStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DisposeNone.String(), "none"},
		{DisposeBackground.String(), "background"},
		{DisposePrevious.String(), "previous"},
		{DisposeMethod(9).String(), "DisposeMethod(9)"},
		{BlendSource.String(), "source"},
		{BlendOver.String(), "over"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

// --- Alpha blending tests ---

func blendNRGBA(dst, src color.NRGBA) color.NRGBA {
	d := [4]byte{dst.R, dst.G, dst.B, dst.A}
	s := [4]byte{src.R, src.G, src.B, src.A}
	blendOver(d[:], s[:])
	return color.NRGBA{R: d[0], G: d[1], B: d[2], A: d[3]}
}

func TestBlendNRGBA_FullyOpaqueSrc(t *testing.T) {
	src := color.NRGBA{R: 255, G: 0, B: 0, A: 255}
	dst := color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	if got := blendNRGBA(dst, src); got != src {
		t.Errorf("opaque src over dst = %v, want %v", got, src)
	}
}

func TestBlendNRGBA_TransparentSrc(t *testing.T) {
	src := color.NRGBA{R: 255, G: 0, B: 0, A: 0}
	dst := color.NRGBA{R: 0, G: 255, B: 0, A: 128}
	if got := blendNRGBA(dst, src); got != dst {
		t.Errorf("transparent src over dst = %v, want %v", got, dst)
	}
}

func TestBlendNRGBA_HalfAlpha(t *testing.T) {
	src := color.NRGBA{R: 255, G: 0, B: 0, A: 128}
	dst := color.NRGBA{R: 0, G: 0, B: 255, A: 255}
	want := color.NRGBA{R: 128, G: 0, B: 127, A: 255}
	if got := blendNRGBA(dst, src); got != want {
		t.Errorf("half-red over blue = %v, want %v", got, want)
	}
}

func TestBlendNRGBA_BothSemiTransparent(t *testing.T) {
	src := color.NRGBA{R: 200, G: 100, B: 50, A: 100}
	dst := color.NRGBA{R: 10, G: 20, B: 30, A: 60}
	// Each term truncates separately.
	want := color.NRGBA{
		R: uint8(10*155/255 + 200*100/255),
		G: uint8(20*155/255 + 100*100/255),
		B: uint8(30*155/255 + 50*100/255),
		A: uint8(60*155/255 + 100),
	}
	if got := blendNRGBA(dst, src); got != want {
		t.Errorf("blendOver = %v, want %v", got, want)
	}
}

func TestBlendNRGBA_AlphaSaturates(t *testing.T) {
	// Source alpha is added whole; only the destination term is scaled.
	tests := []struct {
		dst, src color.NRGBA
		wantA    uint8
	}{
		{color.NRGBA{A: 0}, color.NRGBA{R: 9, A: 128}, 128},
		{color.NRGBA{A: 255}, color.NRGBA{A: 1}, 255},
		{color.NRGBA{A: 255}, color.NRGBA{A: 254}, 255},
		{color.NRGBA{A: 100}, color.NRGBA{A: 50}, uint8(100*205/255 + 50)},
	}
	for _, tt := range tests {
		if got := blendNRGBA(tt.dst, tt.src).A; got != tt.wantA {
			t.Errorf("alpha of %v over %v = %d, want %d", tt.src, tt.dst, got, tt.wantA)
		}
	}
}

// --- Compositor tests ---

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func solidFrame(x, y, w, h int, c color.NRGBA, blend BlendMethod, dispose DisposeMethod) Frame {
	return Frame{
		OffsetX:  x,
		OffsetY:  y,
		Width:    w,
		Height:   h,
		Duration: 50 * time.Millisecond,
		Blend:    blend,
		Dispose:  dispose,
		Image:    solidNRGBA(w, h, c),
	}
}

// composite runs frames through a fresh compositor and returns a snapshot
// after every frame.
func composite(t *testing.T, w, h int, bg color.NRGBA, skip bool, frames []Frame) []*image.NRGBA {
	t.Helper()
	c := NewCompositor(w, h, bg)
	c.SkipCoveredDisposal = skip
	var snaps []*image.NRGBA
	for i := range frames {
		frames[i].Index = i
		if err := c.Apply(&frames[i], frames[i].Image); err != nil {
			t.Fatalf("Apply frame %d: %v", i, err)
		}
		snaps = append(snaps, c.Snapshot())
	}
	return snaps
}

func TestCompositorSingleFrame(t *testing.T) {
	snaps := composite(t, 4, 4, transparent, true, []Frame{
		solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
	})
	if got := snaps[0].NRGBAAt(2, 2); got != red {
		t.Errorf("pixel (2,2) = %v, want %v", got, red)
	}
}

func TestCompositorBackgroundFill(t *testing.T) {
	bg := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	snaps := composite(t, 4, 4, bg, true, []Frame{
		solidFrame(2, 2, 2, 2, red, BlendSource, DisposeNone),
	})
	if got := snaps[0].NRGBAAt(0, 0); got != bg {
		t.Errorf("(0,0) = %v, want background %v", got, bg)
	}
	if got := snaps[0].NRGBAAt(3, 3); got != red {
		t.Errorf("(3,3) = %v, want red", got)
	}
}

func TestCompositorBlendOver(t *testing.T) {
	halfRed := color.NRGBA{R: 255, A: 128}
	snaps := composite(t, 4, 4, transparent, true, []Frame{
		solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeNone),
		solidFrame(0, 0, 4, 4, halfRed, BlendOver, DisposeNone),
	})
	want := color.NRGBA{R: 128, G: 0, B: 127, A: 255}
	if got := snaps[1].NRGBAAt(1, 1); got != want {
		t.Errorf("pixel = %v, want %v", got, want)
	}
}

func TestCompositorBlendSource(t *testing.T) {
	halfRed := color.NRGBA{R: 255, A: 128}
	snaps := composite(t, 4, 4, transparent, true, []Frame{
		solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeNone),
		solidFrame(0, 0, 4, 4, halfRed, BlendSource, DisposeNone),
	})
	if got := snaps[1].NRGBAAt(1, 1); got != halfRed {
		t.Errorf("pixel = %v, want %v (BlendSource should overwrite)", got, halfRed)
	}
}

func TestCompositorDisposeBackground(t *testing.T) {
	snaps := composite(t, 2, 2, transparent, true, []Frame{
		solidFrame(0, 0, 2, 2, red, BlendSource, DisposeNone),
		solidFrame(0, 0, 1, 1, blue, BlendSource, DisposeBackground),
		solidFrame(1, 1, 1, 1, green, BlendSource, DisposeNone),
	})

	// Disposal is deferred: frame 1 is still visible in its own snapshot.
	if got := snaps[1].NRGBAAt(0, 0); got != blue {
		t.Errorf("frame 1 (0,0) = %v, want blue", got)
	}

	want := map[image.Point]color.NRGBA{
		{0, 0}: transparent,
		{1, 0}: red,
		{0, 1}: red,
		{1, 1}: green,
	}
	for p, c := range want {
		if got := snaps[2].NRGBAAt(p.X, p.Y); got != c {
			t.Errorf("frame 2 %v = %v, want %v", p, got, c)
		}
	}
}

func TestCompositorDisposePrevious(t *testing.T) {
	snaps := composite(t, 2, 2, transparent, true, []Frame{
		solidFrame(0, 0, 2, 2, red, BlendSource, DisposeNone),
		solidFrame(0, 0, 1, 1, blue, BlendSource, DisposePrevious),
		solidFrame(1, 1, 1, 1, green, BlendSource, DisposeNone),
	})
	if got := snaps[1].NRGBAAt(0, 0); got != blue {
		t.Errorf("frame 1 (0,0) = %v, want blue", got)
	}
	if got := snaps[2].NRGBAAt(0, 0); got != red {
		t.Errorf("frame 2 (0,0) = %v, want red (restored)", got)
	}
	if got := snaps[2].NRGBAAt(1, 1); got != green {
		t.Errorf("frame 2 (1,1) = %v, want green", got)
	}
}

func TestCompositorFirstFrameDisposePrevious(t *testing.T) {
	bg := color.NRGBA{R: 1, G: 2, B: 3, A: 255}
	snaps := composite(t, 2, 2, bg, true, []Frame{
		solidFrame(0, 0, 1, 1, red, BlendSource, DisposePrevious),
		solidFrame(1, 1, 1, 1, green, BlendSource, DisposeNone),
	})
	// Frame 0 restore-previous behaves like none: red stays.
	if got := snaps[1].NRGBAAt(0, 0); got != red {
		t.Errorf("(0,0) = %v, want red", got)
	}
}

func TestCompositorClipsToCanvas(t *testing.T) {
	snaps := composite(t, 4, 4, transparent, true, []Frame{
		solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
		solidFrame(2, 2, 4, 4, blue, BlendSource, DisposeBackground),
		solidFrame(0, 0, 1, 1, green, BlendSource, DisposeNone),
	})
	if got := snaps[1].NRGBAAt(3, 3); got != blue {
		t.Errorf("frame 1 (3,3) = %v, want blue", got)
	}
	if got := snaps[1].NRGBAAt(1, 1); got != red {
		t.Errorf("frame 1 (1,1) = %v, want red", got)
	}
	if got := snaps[2].NRGBAAt(3, 3); got != transparent {
		t.Errorf("frame 2 (3,3) = %v, want transparent", got)
	}
}

func TestCompositorFrameOutsideCanvas(t *testing.T) {
	snaps := composite(t, 2, 2, transparent, true, []Frame{
		solidFrame(0, 0, 2, 2, red, BlendSource, DisposeNone),
		solidFrame(5, 5, 2, 2, blue, BlendSource, DisposeBackground),
		solidFrame(0, 0, 1, 1, green, BlendOver, DisposeNone),
	})
	if !bytes.Equal(snaps[0].Pix, snaps[1].Pix) {
		t.Error("frame entirely outside the canvas changed it")
	}
	if got := snaps[2].NRGBAAt(1, 1); got != red {
		t.Errorf("(1,1) = %v, want red", got)
	}
}

func TestCompositorSizeMismatch(t *testing.T) {
	c := NewCompositor(4, 4, transparent)
	f := Frame{Width: 4, Height: 4}
	err := c.Apply(&f, image.NewNRGBA(image.Rect(0, 0, 3, 4)))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	if err := c.Apply(&f, nil); !errors.Is(err, ErrNilImage) {
		t.Errorf("expected ErrNilImage, got %v", err)
	}
}

func TestCompositorReset(t *testing.T) {
	frames := []Frame{
		solidFrame(0, 0, 2, 2, red, BlendSource, DisposeBackground),
		solidFrame(0, 0, 1, 1, blue, BlendOver, DisposeNone),
	}
	c := NewCompositor(2, 2, transparent)
	for i := range frames {
		if err := c.Apply(&frames[i], frames[i].Image); err != nil {
			t.Fatal(err)
		}
	}
	first := c.Snapshot()

	c.Reset()
	if c.Pos() != 0 {
		t.Fatalf("Pos() after Reset = %d, want 0", c.Pos())
	}
	for i := range frames {
		if err := c.Apply(&frames[i], frames[i].Image); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(first.Pix, c.Canvas().Pix) {
		t.Error("replay after Reset produced a different canvas")
	}
}

func TestCompositorSnapshotIsCopy(t *testing.T) {
	c := NewCompositor(2, 2, transparent)
	f := solidFrame(0, 0, 2, 2, red, BlendSource, DisposeNone)
	if err := c.Apply(&f, f.Image); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	snap.SetNRGBA(0, 0, blue)
	if got := c.Canvas().NRGBAAt(0, 0); got != red {
		t.Errorf("canvas changed through snapshot: %v", got)
	}
}

// Skipping a covered disposal must never change the output.
func TestCompositorSkipCoveredDisposalEquivalence(t *testing.T) {
	halfGreen := color.NRGBA{G: 255, A: 128}
	sequences := map[string][]Frame{
		"background covered by opaque over": {
			solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
			solidFrame(1, 1, 2, 2, blue, BlendSource, DisposeBackground),
			solidFrame(0, 0, 4, 4, green, BlendOver, DisposeNone),
		},
		"background covered by translucent source": {
			solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
			solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeBackground),
			solidFrame(0, 0, 4, 4, halfGreen, BlendSource, DisposeNone),
		},
		"background not covered by translucent over": {
			solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
			solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeBackground),
			solidFrame(0, 0, 4, 4, halfGreen, BlendOver, DisposeNone),
		},
		"previous covered": {
			solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
			solidFrame(0, 0, 2, 2, blue, BlendSource, DisposePrevious),
			solidFrame(0, 0, 3, 3, green, BlendOver, DisposeNone),
			solidFrame(3, 3, 1, 1, blue, BlendOver, DisposeNone),
		},
		"covering frame restores previous": {
			solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
			solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeBackground),
			solidFrame(0, 0, 4, 4, green, BlendSource, DisposePrevious),
			solidFrame(0, 0, 1, 1, red, BlendSource, DisposeNone),
		},
	}
	for name, frames := range sequences {
		t.Run(name, func(t *testing.T) {
			a := composite(t, 4, 4, transparent, true, frames)
			b := composite(t, 4, 4, transparent, false, frames)
			for i := range a {
				if !bytes.Equal(a[i].Pix, b[i].Pix) {
					t.Errorf("frame %d differs with and without skipping", i)
				}
			}
		})
	}
}

func TestCompositorSkipsCoveredDisposal(t *testing.T) {
	frames := []Frame{
		solidFrame(0, 0, 4, 4, red, BlendSource, DisposeBackground),
		solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeBackground),
		solidFrame(0, 0, 4, 4, green, BlendSource, DisposeNone),
	}
	c := NewCompositor(4, 4, transparent)
	for i := range frames {
		if err := c.Apply(&frames[i], frames[i].Image); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.SkippedDisposals(); got != 2 {
		t.Errorf("SkippedDisposals() = %d, want 2", got)
	}

	c.Reset()
	c.SkipCoveredDisposal = false
	for i := range frames {
		if err := c.Apply(&frames[i], frames[i].Image); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.SkippedDisposals(); got != 0 {
		t.Errorf("SkippedDisposals() with skipping off = %d, want 0", got)
	}
}

// The restored region after a restore-previous frame must match the canvas
// just before that frame was drawn.
func TestCompositorRestoreAfterSkippedDisposal(t *testing.T) {
	frames := []Frame{
		solidFrame(0, 0, 4, 4, red, BlendSource, DisposeNone),
		solidFrame(0, 0, 4, 4, blue, BlendSource, DisposeBackground),
		solidFrame(0, 0, 4, 4, green, BlendSource, DisposePrevious),
		solidFrame(0, 0, 1, 1, red, BlendSource, DisposeNone),
	}
	snaps := composite(t, 4, 4, transparent, true, frames)
	if got := snaps[3].NRGBAAt(2, 2); got != transparent {
		t.Errorf("(2,2) = %v, want transparent", got)
	}
}

// --- Premultiply ---

func TestPremultiply(t *testing.T) {
	tests := []struct {
		in, want [4]byte
	}{
		{[4]byte{200, 100, 50, 128}, [4]byte{100, 50, 25, 128}},
		{[4]byte{200, 100, 50, 0}, [4]byte{0, 0, 0, 0}},
		{[4]byte{200, 100, 50, 255}, [4]byte{200, 100, 50, 255}},
		{[4]byte{255, 255, 255, 1}, [4]byte{1, 1, 1, 1}},
	}
	for _, tt := range tests {
		var got [4]byte
		Premultiply(got[:], tt.in[:])
		if got != tt.want {
			t.Errorf("Premultiply(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPremultiplyInPlace(t *testing.T) {
	px := []byte{200, 100, 50, 128, 10, 20, 30, 255}
	Premultiply(px, px)
	want := []byte{100, 50, 25, 128, 10, 20, 30, 255}
	if !bytes.Equal(px, want) {
		t.Errorf("in-place = %v, want %v", px, want)
	}
	Premultiply(nil, nil)
}

func TestPremultipliedPixSubImage(t *testing.T) {
	img := solidNRGBA(4, 4, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.NRGBA)
	pix := PremultipliedPix(sub)
	if len(pix) != 2*2*4 {
		t.Fatalf("len = %d, want 16", len(pix))
	}
	for i := 0; i < len(pix); i += 4 {
		if pix[i] != 100 || pix[i+1] != 50 || pix[i+2] != 25 || pix[i+3] != 128 {
			t.Fatalf("pixel %d = %v", i/4, pix[i:i+4])
		}
	}
}

// --- Animation ---

func TestTotalDuration(t *testing.T) {
	anim := &Animation{
		CanvasWidth:  10,
		CanvasHeight: 10,
		Frames: []Frame{
			{Duration: 100 * time.Millisecond},
			{Duration: 200 * time.Millisecond},
			{Duration: 50 * time.Millisecond},
		},
	}
	if got := anim.TotalDuration(); got != 350*time.Millisecond {
		t.Errorf("TotalDuration() = %v, want 350ms", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		anim Animation
		want error
	}{
		{"ok", Animation{CanvasWidth: 1, CanvasHeight: 1, Frames: make([]Frame, 1)}, nil},
		{"zero width", Animation{CanvasHeight: 1, Frames: make([]Frame, 1)}, ErrCanvasSize},
		{"no frames", Animation{CanvasWidth: 1, CanvasHeight: 1}, ErrNoFrames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.anim.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrFormat) {
				t.Errorf("Validate() = %v, want %v wrapped in ErrFormat", err, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	anim := &Animation{Frames: make([]Frame, 5)}
	anim.Truncate(1)
	if len(anim.Frames) != 1 {
		t.Errorf("len(Frames) = %d, want 1", len(anim.Frames))
	}
	anim.Truncate(3)
	if len(anim.Frames) != 1 {
		t.Errorf("Truncate grew frames to %d", len(anim.Frames))
	}
}

type mockDecoder struct {
	w, h  int
	fail  map[int]bool
	calls atomic.Int32
}

func (m *mockDecoder) DecodeFrame(i int) (*image.NRGBA, error) {
	m.calls.Add(1)
	if m.fail[i] {
		return nil, fmt.Errorf("%w: mock failure", ErrDecode)
	}
	return solidNRGBA(m.w, m.h, color.NRGBA{R: uint8(i), A: 255}), nil
}

func mockAnimation(n int, dec PixelDecoder) *Animation {
	anim := &Animation{CanvasWidth: 4, CanvasHeight: 4, Decoder: dec}
	for i := 0; i < n; i++ {
		anim.Frames = append(anim.Frames, Frame{Index: i, Width: 4, Height: 4})
	}
	return anim
}

func TestDecodeFramesNoDecoder(t *testing.T) {
	anim := mockAnimation(2, nil)
	if err := anim.DecodeFrames(); err != ErrNoDecoder {
		t.Errorf("expected ErrNoDecoder, got %v", err)
	}
	if err := anim.DecodeFramesParallel(); err != ErrNoDecoder {
		t.Errorf("expected ErrNoDecoder, got %v", err)
	}
}

func TestDecodeFramesWithMock(t *testing.T) {
	dec := &mockDecoder{w: 4, h: 4}
	anim := mockAnimation(2, dec)
	if err := anim.DecodeFrames(); err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	for i, f := range anim.Frames {
		if f.Image == nil || f.Image.NRGBAAt(0, 0).R != uint8(i) {
			t.Errorf("frame %d Image not set", i)
		}
	}
}

func TestDecodeFramesSkipsDecoded(t *testing.T) {
	existing := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	dec := &mockDecoder{w: 4, h: 4}
	anim := mockAnimation(1, dec)
	anim.Frames[0].Image = existing
	if err := anim.DecodeFrames(); err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	if anim.Frames[0].Image != existing {
		t.Error("DecodeFrames replaced existing image")
	}
	if dec.calls.Load() != 0 {
		t.Errorf("decoder called %d times", dec.calls.Load())
	}
}

func TestDecodeFrameSizeMismatch(t *testing.T) {
	anim := mockAnimation(1, &mockDecoder{w: 3, h: 4})
	_, err := anim.DecodeFrame(0)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	if _, err := anim.DecodeFrame(1); !errors.Is(err, ErrFrameOutOfRange) {
		t.Errorf("expected ErrFrameOutOfRange, got %v", err)
	}
}

func TestDecodeFramesParallel(t *testing.T) {
	dec := &mockDecoder{w: 4, h: 4}
	anim := mockAnimation(16, dec)
	if err := anim.DecodeFramesParallel(); err != nil {
		t.Fatalf("DecodeFramesParallel: %v", err)
	}
	for i, f := range anim.Frames {
		if f.Image == nil || f.Image.NRGBAAt(0, 0).R != uint8(i) {
			t.Errorf("frame %d decoded incorrectly", i)
		}
	}
	if dec.calls.Load() != 16 {
		t.Errorf("decoder called %d times, want 16", dec.calls.Load())
	}
}

func TestDecodeFramesParallelLowestFailure(t *testing.T) {
	dec := &mockDecoder{w: 4, h: 4, fail: map[int]bool{5: true, 9: true}}
	anim := mockAnimation(12, dec)
	err := anim.DecodeFramesParallel()
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if got := FailedIndex(err); got != 5 {
		t.Errorf("FailedIndex = %d, want 5", got)
	}
	for i := 0; i < 5; i++ {
		if anim.Frames[i].Image == nil {
			t.Errorf("frame %d before the failure not decoded", i)
		}
	}
	for i := 5; i < 12; i++ {
		if anim.Frames[i].Image != nil {
			t.Errorf("frame %d at or after the failure kept its image", i)
		}
	}
}

func TestFailedIndexNoFrameError(t *testing.T) {
	if got := FailedIndex(ErrDecode); got != -1 {
		t.Errorf("FailedIndex = %d, want -1", got)
	}
}

// --- Color conversion ---

func TestColorToNRGBAConversion(t *testing.T) {
	tests := []struct {
		in   color.Color
		want color.NRGBA
	}{
		{color.NRGBA{R: 1, G: 2, B: 3, A: 4}, color.NRGBA{R: 1, G: 2, B: 3, A: 4}},
		{color.RGBA{R: 255, G: 0, B: 0, A: 255}, color.NRGBA{R: 255, A: 255}},
		{color.RGBA{R: 128, A: 128}, color.NRGBA{R: 255, A: 128}},
		{color.RGBA{}, color.NRGBA{}},
		{color.Gray{Y: 7}, color.NRGBA{R: 7, G: 7, B: 7, A: 255}},
	}
	for _, tt := range tests {
		if got := colorToNRGBA(tt.in); got != tt.want {
			t.Errorf("colorToNRGBA(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToNRGBA(t *testing.T) {
	// Paletted source.
	pal := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{red, color.NRGBA{}})
	pal.SetColorIndex(1, 0, 1)
	got := ToNRGBA(pal)
	if got.NRGBAAt(0, 0) != red || got.NRGBAAt(1, 0) != transparent {
		t.Errorf("paletted conversion = %v", got.Pix)
	}

	// NRGBA with an offset origin is re-based to (0,0).
	img := solidNRGBA(4, 4, blue)
	sub := img.SubImage(image.Rect(2, 2, 4, 4))
	got = ToNRGBA(sub)
	if got.Bounds() != image.Rect(0, 0, 2, 2) || got.NRGBAAt(1, 1) != blue {
		t.Errorf("sub-image conversion bounds %v", got.Bounds())
	}

	// NRGBA at the origin is returned as-is.
	if ToNRGBA(img) != img {
		t.Error("origin NRGBA was copied")
	}

	// Gray.
	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.Pix[0] = 9
	if c := ToNRGBA(gray).NRGBAAt(0, 0); c != (color.NRGBA{R: 9, G: 9, B: 9, A: 255}) {
		t.Errorf("gray conversion = %v", c)
	}

	// 16-bit keeps the high byte.
	n64 := image.NewNRGBA64(image.Rect(0, 0, 1, 1))
	n64.SetNRGBA64(0, 0, color.NRGBA64{R: 0x1234, G: 0xabcd, B: 0xff00, A: 0x8000})
	if c := ToNRGBA(n64).NRGBAAt(0, 0); c != (color.NRGBA{R: 0x12, G: 0xab, B: 0xff, A: 0x80}) {
		t.Errorf("NRGBA64 conversion = %v", c)
	}
}

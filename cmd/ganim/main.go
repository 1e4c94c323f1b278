// Command ganim inspects and decodes animated PNG and GIF files from the
// command line.
//
// Usage:
//
//	ganim info [options] <input>   Display animation metadata
//	ganim dec [options] <input>    Composite frames to GIF, PNG or raw RGBA (use "-" for stdin, -o - for stdout)
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/deepteams/animdec"
	"github.com/deepteams/animdec/animation"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "dec":
		err = runDec(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "ganim: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ganim: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  ganim info [options] <input>   Display animation metadata
  ganim dec [options] <input>    Composite frames to GIF, PNG or raw RGBA

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "ganim <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// --- config ---

// decConfig holds dec defaults loaded from a YAML file. Flags given on the
// command line take precedence.
type decConfig struct {
	Format           string  `yaml:"format"`
	Scale            float64 `yaml:"scale"`
	Fit              string  `yaml:"fit"`
	Premultiplied    bool    `yaml:"premultiplied"`
	Eager            bool    `yaml:"eager"`
	IgnoreBackground bool    `yaml:"ignore_background"`
	MaxPixels        int64   `yaml:"max_pixels"`
	MaxMemory        int64   `yaml:"max_memory"`
	Timeout          string  `yaml:"timeout"`
	Verbose          bool    `yaml:"verbose"`
}

// loadConfig reads and parses a YAML configuration file.
func loadConfig(path string) (*decConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg decConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			return nil, fmt.Errorf("invalid configuration: timeout: %w", err)
		}
	}
	return &cfg, nil
}

// --- dec ---

type decFlags struct {
	output    string
	format    string
	first     bool
	frame     int
	scale     float64
	fit       string
	premul    bool
	eager     bool
	ignoreBG  bool
	maxPixels int64
	maxMemory int64
	timeout   time.Duration
	verbose   bool
}

// applyConfig fills every flag not set on the command line from cfg.
func (f *decFlags) applyConfig(fs *flag.FlagSet, cfg *decConfig) {
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if !set["fmt"] && cfg.Format != "" {
		f.format = cfg.Format
	}
	if !set["scale"] && cfg.Scale != 0 {
		f.scale = cfg.Scale
	}
	if !set["fit"] && cfg.Fit != "" {
		f.fit = cfg.Fit
	}
	if !set["premul"] && cfg.Premultiplied {
		f.premul = true
	}
	if !set["eager"] && cfg.Eager {
		f.eager = true
	}
	if !set["ignore_bg"] && cfg.IgnoreBackground {
		f.ignoreBG = true
	}
	if !set["max_pixels"] && cfg.MaxPixels != 0 {
		f.maxPixels = cfg.MaxPixels
	}
	if !set["max_memory"] && cfg.MaxMemory != 0 {
		f.maxMemory = cfg.MaxMemory
	}
	if !set["timeout"] && cfg.Timeout != "" {
		f.timeout, _ = time.ParseDuration(cfg.Timeout)
	}
	if !set["v"] && cfg.Verbose {
		f.verbose = true
	}
}

func (f *decFlags) options() *animdec.Options {
	opts := &animdec.Options{
		SingleFrame:      f.first,
		Eager:            f.eager,
		Scale:            f.scale,
		IgnoreBackground: f.ignoreBG,
		MaxPixels:        f.maxPixels,
		MaxMemory:        f.maxMemory,
		Logger:           newLogger(f.verbose),
	}
	if f.timeout > 0 {
		deadline := time.Now().Add(f.timeout)
		opts.Abort = func() bool { return time.Now().After(deadline) }
	}
	return opts
}

func runDec(args []string) error {
	var f decFlags
	fs := flag.NewFlagSet("dec", flag.ContinueOnError)
	fs.StringVar(&f.output, "o", "", `output path (default: <input>.gif, .png or .rgba; "-" for stdout)`)
	fs.StringVar(&f.format, "fmt", "", "output format: gif, png, raw (default: gif when animated, png otherwise)")
	fs.BoolVar(&f.first, "first", false, "decode only the first frame")
	fs.IntVar(&f.frame, "frame", -1, "decode only frame N (replays from the start)")
	fs.Float64Var(&f.scale, "scale", 1, "scale factor in (0, 1]")
	fs.StringVar(&f.fit, "fit", "", "fit each frame inside WxH, preserving aspect ratio")
	fs.BoolVar(&f.premul, "premul", false, "write premultiplied alpha (raw format only)")
	fs.BoolVar(&f.eager, "eager", false, "decode all frames up front in parallel")
	fs.BoolVar(&f.ignoreBG, "ignore_bg", false, "start GIF canvases transparent")
	fs.Int64Var(&f.maxPixels, "max_pixels", 0, "canvas pixel limit (0=default)")
	fs.Int64Var(&f.maxMemory, "max_memory", 0, "retained frame memory limit in bytes (0=default)")
	fs.DurationVar(&f.timeout, "timeout", 0, "stop decoding after this long (0=no limit)")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
	configPath := fs.String("config", "", "YAML file with dec defaults")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dec: missing input file\nUsage: ganim dec [options] <input>")
	}
	inputPath := fs.Arg(0)

	if *configPath != "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		f.applyConfig(fs, cfg)
	}

	fitW, fitH, err := parseFit(f.fit)
	if err != nil {
		return err
	}

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	s, err := animdec.Open(in, f.options())
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}
	defer s.Close()

	frames, err := collectFrames(s, f.frame)
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}

	outFmt := detectOutputFormat(f.format, f.output, len(frames) > 1)
	switch outFmt {
	case "gif", "png", "raw":
	default:
		return fmt.Errorf("dec: unknown format %q (use gif/png/raw)", outFmt)
	}
	if f.premul && outFmt != "raw" {
		return fmt.Errorf("dec: -premul requires -fmt raw")
	}

	images := make([]image.Image, len(frames))
	for i, fr := range frames {
		images[i] = fr.Image
		if fitW > 0 {
			images[i] = imaging.Fit(fr.Image, fitW, fitH, imaging.Lanczos)
		}
	}

	outputPath := f.output
	if outputPath == "" {
		outputPath = defaultOutput(inputPath, outFmt, len(images))
	}

	write := func(w io.Writer) error {
		switch outFmt {
		case "gif":
			return writeGIF(w, images, frames, s.LoopCount())
		case "raw":
			return writeRaw(w, images, frames, fitW > 0, f.premul)
		default:
			return writePNG(w, images)
		}
	}

	if outputPath == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("dec: `-o -` should be used with a pipe for stdout")
		}
		return write(os.Stdout)
	}

	if outFmt == "png" && len(images) > 1 {
		return writePNGSequence(outputPath, images, inputPath)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := write(out); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("dec: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return err
	}

	fmt.Fprintf(os.Stderr, "Decoded %s → %s (%d frames)\n", inputPath, outputPath, len(images))
	return nil
}

// collectFrames decodes frame n, or every frame when n is negative.
func collectFrames(s *animdec.Session, n int) ([]*animdec.DecodedFrame, error) {
	if n >= 0 {
		fr, err := s.Seek(n)
		if err != nil {
			return nil, err
		}
		return []*animdec.DecodedFrame{fr}, nil
	}
	frames, err := s.DecodeAll()
	if errors.Is(err, animdec.ErrAborted) && len(frames) > 0 {
		fmt.Fprintf(os.Stderr, "ganim: timeout after %d of %d frames\n", len(frames), s.FrameCount())
		return frames, nil
	}
	return frames, err
}

// parseFit parses a "WxH" box. An empty string disables fitting.
func parseFit(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("dec: -fit %q: want WxH", s)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("dec: -fit %q: want positive WxH", s)
	}
	return w, h, nil
}

// detectOutputFormat returns "gif", "png" or "raw" based on flag/extension.
func detectOutputFormat(fmtFlag, outputPath string, animated bool) string {
	if fmtFlag != "" {
		return strings.ToLower(fmtFlag)
	}
	if outputPath != "" && outputPath != "-" {
		switch strings.ToLower(filepath.Ext(outputPath)) {
		case ".gif":
			return "gif"
		case ".png":
			return "png"
		case ".rgba", ".raw":
			return "raw"
		}
	}
	if animated {
		return "gif"
	}
	return "png"
}

// defaultOutput names the output after the input. Several PNG frames go
// to a directory.
func defaultOutput(inputPath, format string, frames int) string {
	base := "output"
	if inputPath != "-" {
		base = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	}
	switch {
	case format == "raw":
		return base + ".rgba"
	case format == "png" && frames > 1:
		return base + "_frames"
	case format == "png" && strings.EqualFold(filepath.Ext(inputPath), ".png"):
		return base + "_frame.png"
	}
	return base + "." + format
}

// writeGIF quantizes frames to the Plan9 palette with Floyd-Steinberg
// dithering.
func writeGIF(w io.Writer, images []image.Image, frames []*animdec.DecodedFrame, loop int) error {
	g := &gif.GIF{LoopCount: gifLoopCount(loop)}
	for i, img := range images {
		b := img.Bounds()
		paletted := image.NewPaletted(b, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, b, img, b.Min)
		g.Image = append(g.Image, paletted)

		// GIF delay is in 1/100th of a second.
		delay := frames[i].DelayMs() / 10
		if delay < 1 {
			delay = 10
		}
		g.Delay = append(g.Delay, delay)
	}
	return gif.EncodeAll(w, g)
}

// gifLoopCount maps a session loop count (-1 infinite, 0 once, N loops) to
// image/gif's convention (0 infinite, -1 once).
func gifLoopCount(loop int) int {
	switch {
	case loop < 0:
		return 0
	case loop == 0:
		return -1
	default:
		return loop
	}
}

func writePNG(w io.Writer, images []image.Image) error {
	if len(images) != 1 {
		return fmt.Errorf("png output to a single stream needs one frame, have %d", len(images))
	}
	return png.Encode(w, images[0])
}

// writePNGSequence writes one PNG per frame into dir.
func writePNGSequence(dir string, images []image.Image, inputPath string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, img := range images {
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := png.Encode(out, img); err != nil {
			out.Close()
			return fmt.Errorf("dec: frame %d: %w", i, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "Decoded %s → %s/ (%d frames)\n", inputPath, dir, len(images))
	return nil
}

// writeRaw writes the frames' RGBA8888 pixels back to back.
func writeRaw(w io.Writer, images []image.Image, frames []*animdec.DecodedFrame, fitted, premul bool) error {
	for i, img := range images {
		var pix []byte
		switch {
		case fitted && premul:
			pix = animation.PremultipliedPix(imaging.Clone(img))
		case fitted:
			pix = imaging.Clone(img).Pix
		case premul:
			pix = frames[i].Premultiplied()
		default:
			pix = frames[i].Pix()
		}
		if _, err := w.Write(pix); err != nil {
			return err
		}
	}
	return nil
}

// --- info ---

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	listFrames := fs.Bool("frames", false, "list every frame's rectangle, delay, disposal and blend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("info: missing input file\nUsage: ganim info [options] <input>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	feat, err := animdec.GetFeatures(in)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}

	name := inputPath
	if inputPath == "-" {
		name = "<stdin>"
	}

	fmt.Printf("File:       %s\n", name)
	fmt.Printf("Format:     %s\n", feat.Format)
	fmt.Printf("Dimensions: %d x %d\n", feat.Width, feat.Height)
	fmt.Printf("Animation:  %v\n", feat.HasAnimation)
	fmt.Printf("Frames:     %d\n", feat.FrameCount)
	if feat.HasAnimation {
		loop := "infinite"
		switch {
		case feat.LoopCount == 0:
			loop = "once"
		case feat.LoopCount > 0:
			loop = fmt.Sprintf("%d", feat.LoopCount)
		}
		fmt.Printf("Loop count: %s\n", loop)
		fmt.Printf("Duration:   %v\n", feat.Duration)
	}
	if feat.Truncated {
		fmt.Printf("Truncated:  stream ends without trailer\n")
	}
	if *listFrames {
		for i, fr := range feat.Frames {
			fmt.Printf("  %4d  %v  %5d ms  dispose=%s  blend=%s\n",
				i, fr.Rect, fr.DelayMs, fr.Dispose, fr.Blend)
		}
	}

	if inputPath != "-" {
		fi, err := os.Stat(inputPath)
		if err == nil {
			fmt.Printf("File size:  %d bytes\n", fi.Size())
		}
	}

	return nil
}

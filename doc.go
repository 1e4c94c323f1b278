// Package animdec decodes animated APNG and GIF images into fully composited
// RGBA frames.
//
// A Session owns one encoded animation. Loading scans the whole container
// once, keeping each frame's compressed payload, so the frame count, loop
// count and per-frame delays are known before any pixels are decoded. Frames
// are then produced one at a time, each a complete canvas with the
// animation's disposal and blend rules already applied.
//
// The package supports:
//   - PNG and APNG (acTL/fcTL/fdAT), all PNG color types and bit depths
//   - GIF87a and GIF89a, local and global palettes, interlacing, the
//     NETSCAPE2.0 loop extension
//   - Streaming (one frame at a time) and eager (all frames) decoding
//   - Straight and premultiplied alpha output
//   - Down-scaling at decode time
//
// Basic usage:
//
//	s, err := animdec.OpenFile("spinner.gif", nil)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	for s.DecodeNextFrame() {
//		f := s.Current()
//		show(f.Image, f.Delay)
//	}
//	if err := s.Err(); err != nil {
//		return err
//	}
//
// A Session is not safe for concurrent use. A DecodedFrame is owned by the
// caller once returned and may be handed to another goroutine.
package animdec

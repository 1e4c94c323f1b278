package animation

import "image"

// Premultiply writes the premultiplied-alpha form of the straight-alpha RGBA
// pixels in src to dst: each color channel becomes c*a/255 (truncated), alpha
// is unchanged. dst and src may be the same slice. len(dst) must be at least
// len(src).
func Premultiply(dst, src []byte) {
	dst = dst[:len(src)]
	for i := 0; i+3 < len(src); i += 4 {
		a := uint32(src[i+3])
		switch a {
		case 0xff:
			dst[i+0] = src[i+0]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+2]
		case 0:
			dst[i+0] = 0
			dst[i+1] = 0
			dst[i+2] = 0
		default:
			dst[i+0] = uint8(uint32(src[i+0]) * a / 0xff)
			dst[i+1] = uint8(uint32(src[i+1]) * a / 0xff)
			dst[i+2] = uint8(uint32(src[i+2]) * a / 0xff)
		}
		dst[i+3] = uint8(a)
	}
}

// PremultipliedPix returns a freshly allocated, tightly packed
// premultiplied copy of img's pixels.
func PremultipliedPix(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		so := img.PixOffset(b.Min.X, b.Min.Y+y)
		Premultiply(out[y*w*4:(y+1)*w*4], img.Pix[so:so+w*4])
	}
	return out
}

package protocol

import "github.com/coreman2200/pixdriver/internal/pixel"

// BytesPerPixel is the encoded size of one pixel: 9 for RGB, 12 for RGBW.
func BytesPerPixel(f pixel.Format) int {
	return f.BytesPerPixel() * BytesPerColor
}

// BufferSize is the full transmission size for n pixels including the reset tail.
func BufferSize(n int, f pixel.Format) int {
	return n*BytesPerPixel(f) + ResetBytes
}

// Encode serializes pixels in G,R,B[,W] order into dst and returns it. dst is
// reused when large enough. Pixels whose mask entry is false are sent as
// black; a nil or short mask leaves the remaining pixels visible. Every byte
// index i is stored at i^1 to match the peripheral's 16-bit word order.
func Encode(dst []byte, pixels []pixel.Color, f pixel.Format, mask []bool) []byte {
	size := BufferSize(len(pixels), f)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	bpp := BytesPerPixel(f)
	n := len(pixels) * bpp
	clear(dst[n&^1:])

	var comps [4]uint8
	for i, p := range pixels {
		if i < len(mask) && !mask[i] {
			p = pixel.Black
		}
		comps[0], comps[1], comps[2], comps[3] = p.G, p.R, p.B, p.W
		off := i * bpp
		for c := 0; c < f.BytesPerPixel(); c++ {
			enc := lut[comps[c]]
			for k := 0; k < BytesPerColor; k++ {
				dst[(off+k)^1] = enc[k]
			}
			off += BytesPerColor
		}
	}
	return dst
}

// Unswap undoes the word swap, handy for inspecting an encoded buffer.
func Unswap(dst, src []byte) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	}
	dst = dst[:len(src)]
	for i := range src {
		j := i ^ 1
		if j < len(src) {
			dst[i] = src[j]
		} else {
			dst[i] = 0
		}
	}
	return dst
}

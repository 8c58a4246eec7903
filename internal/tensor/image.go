package tensor

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image is a single channel-first image with values nominally in [-1, 1].
type Image struct {
	C, H, W int
	Pix     []float32
}

// NewImage allocates a zeroed image.
func NewImage(c, h, w int) Image {
	if c < 0 || h < 0 || w < 0 {
		panic("negative dimension for image")
	}
	return Image{C: c, H: h, W: w, Pix: make([]float32, c*h*w)}
}

func (im Image) At(c, y, x int) float32 { return im.Pix[(c*im.H+y)*im.W+x] }

func (im Image) Set(c, y, x int, v float32) { im.Pix[(c*im.H+y)*im.W+x] = v }

// Resize scales the image to h x w with nearest-neighbour sampling. Values
// are copied exactly: the scaler runs over a map of source pixel indices and
// the floats are gathered afterwards.
func Resize(src Image, h, w int) Image {
	if src.H == h && src.W == w {
		out := NewImage(src.C, h, w)
		copy(out.Pix, src.Pix)
		return out
	}
	index := image.NewRGBA64(image.Rect(0, 0, src.W, src.H))
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			index.SetRGBA64(x, y, encodeIndex(y*src.W+x))
		}
	}
	scaled := image.NewRGBA64(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), index, index.Bounds(), draw.Src, nil)

	out := NewImage(src.C, h, w)
	plane := src.H * src.W
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := decodeIndex(scaled.RGBA64At(x, y))
			for c := 0; c < src.C; c++ {
				out.Pix[(c*h+y)*w+x] = src.Pix[c*plane+i]
			}
		}
	}
	return out
}

func encodeIndex(i int) color.RGBA64 {
	return color.RGBA64{
		R: uint16(i >> 32),
		G: uint16(i >> 16),
		B: uint16(i),
		A: 0xffff,
	}
}

func decodeIndex(c color.RGBA64) int {
	return int(c.R)<<32 | int(c.G)<<16 | int(c.B)
}

// ToNRGBA renders the image for encoding. One channel renders as gray,
// three or more use the first three as RGB. Values are mapped from [-1, 1].
func (im Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, im.W, im.H))
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			var r, g, b uint8
			if im.C >= 3 {
				r, g, b = toByte(im.At(0, y, x)), toByte(im.At(1, y, x)), toByte(im.At(2, y, x))
			} else if im.C > 0 {
				r = toByte(im.At(0, y, x))
				g, b = r, r
			}
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return out
}

// FromImage converts a decoded image into a channels-first Image in [-1, 1].
func FromImage(src image.Image, channels int) Image {
	b := src.Bounds()
	out := NewImage(channels, b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			vals := [3]uint8{c.R, c.G, c.B}
			if channels == 1 {
				gray := color.GrayModel.Convert(c).(color.Gray)
				out.Set(0, y, x, fromByte(gray.Y))
				continue
			}
			for ch := 0; ch < channels && ch < 3; ch++ {
				out.Set(ch, y, x, fromByte(vals[ch]))
			}
		}
	}
	return out
}

func toByte(v float32) uint8 {
	f := (v + 1) * 127.5
	switch {
	case f <= 0:
		return 0
	case f >= 255:
		return 255
	default:
		return uint8(f + 0.5)
	}
}

func fromByte(b uint8) float32 {
	return float32(b)/127.5 - 1
}

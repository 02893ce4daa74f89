package render

import (
	"image"
	"image/color"
	"math"
)

// Image is a dense H×W×3 float image stored row-major, channel-last.
type Image struct {
	W, H int
	Pix  []float64
}

// NewImage allocates a zero image.
func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]float64, w*h*3)}
}

// NumPixels returns W·H.
func (im *Image) NumPixels() int { return im.W * im.H }

// At returns the RGB triple at (x, y).
func (im *Image) At(x, y int) (r, g, b float64) {
	i := (y*im.W + x) * 3
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// Set writes the RGB triple at (x, y).
func (im *Image) Set(x, y int, r, g, b float64) {
	i := (y*im.W + x) * 3
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = r, g, b
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	return &Image{W: im.W, H: im.H, Pix: append([]float64(nil), im.Pix...)}
}

// MeanColor returns the spatial mean of each channel.
func (im *Image) MeanColor() [3]float64 {
	var m [3]float64
	n := im.NumPixels()
	if n == 0 {
		return m
	}
	for i := 0; i < len(im.Pix); i += 3 {
		m[0] += im.Pix[i]
		m[1] += im.Pix[i+1]
		m[2] += im.Pix[i+2]
	}
	for c := range m {
		m[c] /= float64(n)
	}
	return m
}

// ToRGBA converts values in [lo, hi] to an 8-bit image, clamping outside the range.
func (im *Image) ToRGBA(lo, hi float64) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.W, im.H))
	scale := 255 / (hi - lo)
	for y := 0; y < im.H; y++ {
		for x := 0; x < im.W; x++ {
			r, g, b := im.At(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: to8(r, lo, scale),
				G: to8(g, lo, scale),
				B: to8(b, lo, scale),
				A: 255,
			})
		}
	}
	return out
}

func to8(v, lo, scale float64) uint8 {
	f := (v - lo) * scale
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f + 0.5)
}

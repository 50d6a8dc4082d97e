package linescan

import (
	"errors"
	"image"
	"image/color"
)

// ErrSourceUnavailable is returned when no readable frame was supplied for a
// tick. The tick is skipped; accumulation state is left untouched.
var ErrSourceUnavailable = errors.New("linescan: frame source unavailable")

// PixelBuffer is the read-only view of one video frame. The sampler only
// reads from it during a tick; nothing mutates a frame mid-tick.
type PixelBuffer interface {
	// Bounds returns the frame dimensions in pixels.
	Bounds() (width, height int)
	// RGBAt returns the 8-bit colour channels at (x, y). Coordinates are
	// guaranteed in-bounds by the caller.
	RGBAt(x, y int) (r, g, b uint8)
}

// ImageBuffer adapts a decoded image.Image as a PixelBuffer, so still images
// can be replayed as frames in dev mode.
type ImageBuffer struct {
	img image.Image
}

// NewImageBuffer wraps img. Returns nil if img is nil.
func NewImageBuffer(img image.Image) *ImageBuffer {
	if img == nil {
		return nil
	}
	return &ImageBuffer{img: img}
}

func (b *ImageBuffer) Bounds() (int, int) {
	r := b.img.Bounds()
	return r.Dx(), r.Dy()
}

func (b *ImageBuffer) RGBAt(x, y int) (uint8, uint8, uint8) {
	min := b.img.Bounds().Min
	c := color.NRGBAModel.Convert(b.img.At(min.X+x, min.Y+y)).(color.NRGBA)
	return c.R, c.G, c.B
}

// UniformBuffer is a solid-colour frame. Used by tests and as a degenerate
// dev source.
type UniformBuffer struct {
	Width, Height int
	R, G, B       uint8
}

func (b *UniformBuffer) Bounds() (int, int) { return b.Width, b.Height }

func (b *UniformBuffer) RGBAt(x, y int) (uint8, uint8, uint8) {
	return b.R, b.G, b.B
}

// GradientBuffer is a synthetic spectrum ramp: red fades out and blue fades
// in left to right, with a green hump in the middle. It gives the dev
// pipeline a frame source with visible spectral structure.
type GradientBuffer struct {
	Width, Height int
}

func (b *GradientBuffer) Bounds() (int, int) { return b.Width, b.Height }

func (b *GradientBuffer) RGBAt(x, y int) (uint8, uint8, uint8) {
	if b.Width <= 1 {
		return 128, 128, 128
	}
	t := float64(x) / float64(b.Width-1)
	r := uint8(255 * (1 - t))
	g := uint8(255 * (1 - 2*absFloat(t-0.5)))
	bl := uint8(255 * t)
	return r, g, bl
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

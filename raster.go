package fractal

import (
	"fmt"
	"image"
)

// Raster is a row-major RGBA pixel buffer with its origin at the top-left corner.
// Alpha is always 255.
type Raster struct {
	Width  int
	Height int
	Pix    []byte
}

// NewRaster allocates a raster with every byte zero, alpha included.
// Producers must set alpha before handing the raster out.
func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*4),
	}
}

// NewBlankRaster returns an all-black opaque raster.
func NewBlankRaster(width, height int) *Raster {
	r := NewRaster(width, height)
	for i := 3; i < len(r.Pix); i += 4 {
		r.Pix[i] = 255
	}
	return r
}

// Validate checks that Pix matches the dimensions.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("nil raster")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("raster dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Pix) != r.Width*r.Height*4 {
		return fmt.Errorf("raster %dx%d has %d bytes, want %d", r.Width, r.Height, len(r.Pix), r.Width*r.Height*4)
	}
	return nil
}

// Offset returns the index of the R byte of pixel (x, y).
func (r *Raster) Offset(x, y int) int {
	return (y*r.Width + x) * 4
}

// SetRGB writes an opaque pixel.
func (r *Raster) SetRGB(x, y int, red, green, blue uint8) {
	i := r.Offset(x, y)
	r.Pix[i] = red
	r.Pix[i+1] = green
	r.Pix[i+2] = blue
	r.Pix[i+3] = 255
}

// Intensity is the sum of the R, G and B bytes of pixel p (in row-major order).
func (r *Raster) Intensity(p int) int {
	i := p * 4
	return int(r.Pix[i]) + int(r.Pix[i+1]) + int(r.Pix[i+2])
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	if r == nil {
		return nil
	}
	c := &Raster{Width: r.Width, Height: r.Height, Pix: make([]byte, len(r.Pix))}
	copy(c.Pix, r.Pix)
	return c
}

// Image wraps the pixels in an *image.RGBA without copying.
func (r *Raster) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    r.Pix,
		Stride: r.Width * 4,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

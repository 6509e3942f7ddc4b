package accum

import (
	"math"

	fractal "github.com/marben/dist_fractal"
)

// DefaultGamma brightens faint trajectories.
const DefaultGamma = 0.6

// DefaultTint is the warm color a single-channel buffer is drawn in.
var DefaultTint = [3]float64{1.0, 0.75, 0.45}

// Options controls Colorize. Zero values select the defaults.
type Options struct {
	Gamma float64
	Tint  [3]float64
}

func (o Options) withDefaults() Options {
	if o.Gamma <= 0 || math.IsNaN(o.Gamma) || math.IsInf(o.Gamma, 0) {
		o.Gamma = DefaultGamma
	}
	if o.Tint == ([3]float64{}) {
		o.Tint = DefaultTint
	}
	return o
}

// Colorize normalizes every channel by its maximum, applies gamma and returns an opaque
// raster. One channel is drawn through the tint, three channels map to red, green and blue.
// A buffer with nothing accumulated yields a black raster.
func Colorize(b *Buffer, opts Options) *fractal.Raster {
	opts = opts.withDefaults()
	out := fractal.NewBlankRaster(b.width, b.height)

	empty := true
	for _, m := range b.max {
		if m > 0 {
			empty = false
		}
	}
	if empty {
		return out
	}

	n := b.width * b.height
	if len(b.planes) == 1 {
		plane, m := b.planes[0], b.max[0]
		for p := 0; p < n; p++ {
			v := level(plane[p], m, opts.Gamma)
			i := p * 4
			out.Pix[i] = toByte(v * opts.Tint[0])
			out.Pix[i+1] = toByte(v * opts.Tint[1])
			out.Pix[i+2] = toByte(v * opts.Tint[2])
		}
		return out
	}

	for c, plane := range b.planes {
		m := b.max[c]
		for p := 0; p < n; p++ {
			out.Pix[p*4+c] = toByte(level(plane[p], m, opts.Gamma))
		}
	}
	return out
}

// level maps a cell to [0,1].
func level(cell, peak float32, gamma float64) float64 {
	if peak <= 0 || cell <= 0 {
		return 0
	}
	v := float64(cell) / float64(peak)
	if v > 1 {
		v = 1
	}
	return math.Pow(v, gamma)
}

func toByte(v float64) uint8 {
	b := math.Floor(v * 255)
	switch {
	case b < 0 || math.IsNaN(b):
		return 0
	case b > 255:
		return 255
	}
	return uint8(b)
}

package render

import (
	"context"
	"fmt"
	"math"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/formula"
)

// ProgressEvery is the row cadence of escape-time progress reports.
// The final row is always reported.
const ProgressEvery = 100

// EscapeCount iterates z = z² + c from zero until |z|² > 4 or maxIter iterations.
// Points that never escape return maxIter.
func EscapeCount(c complex128, maxIter int) int {
	cr, ci := real(c), imag(c)
	x, y := 0.0, 0.0
	n := 0
	for x*x+y*y <= 4 && n < maxIter {
		x, y = x*x-y*y+cr, 2*x*y+ci
		n++
	}
	return n
}

// smoothEscape is EscapeCount made continuous: the count of an escaping point is
// reduced by log2(log|z|) so bands blend between integers. Interior points return maxIter.
func smoothEscape(c complex128, maxIter int) float64 {
	cr, ci := real(c), imag(c)
	x, y := 0.0, 0.0
	for n := 1; n <= maxIter; n++ {
		x, y = x*x-y*y+cr, 2*x*y+ci
		if r2 := x*x + y*y; r2 > 4 {
			// log|z| == log(|z|²)/2
			return float64(n) - math.Log2(math.Log(r2)/2)
		}
	}
	return float64(maxIter)
}

// DefaultColor is the built-in periodic coloring of an escape count.
func DefaultColor(n int) (r, g, b uint8) {
	return uint8(n % 255), uint8((n % 127) * 2), uint8((n % 63) * 4)
}

// RenderMandelbrot computes the escape-time raster of req.
func RenderMandelbrot(ctx context.Context, req *fractal.MandelbrotRequest, progress func(fractal.Progress)) (*fractal.Raster, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	paint, err := newPainter(req)
	if err != nil {
		return nil, err
	}

	v := req.Viewport
	img := fractal.NewRaster(v.XRes, v.YRes)
	for py := 0; py < v.YRes; py++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for px := 0; px < v.XRes; px++ {
			re, im := v.PixelToComplex(float64(px), float64(py))
			r, g, b, err := paint(complex(re, im))
			if err != nil {
				return nil, err
			}
			img.SetRGB(px, py, r, g, b)
		}
		if progress != nil && (py%ProgressEvery == 0 || py == v.YRes-1) {
			progress(fractal.Progress{ID: req.ID, Index: py, Total: v.YRes})
		}
	}
	return img, nil
}

type painter func(c complex128) (r, g, b uint8, err error)

func newPainter(req *fractal.MandelbrotRequest) (painter, error) {
	maxIter := req.IterationCap
	if req.Palette == fractal.PaletteHSV {
		return func(c complex128) (uint8, uint8, uint8, error) {
			mu := smoothEscape(c, maxIter)
			if mu >= float64(maxIter) {
				return 0, 0, 0, nil
			}
			r, g, b := hueColor(mu * 0.02)
			return r, g, b, nil
		}, nil
	}

	if req.Colors.IsDefault() {
		return func(c complex128) (uint8, uint8, uint8, error) {
			r, g, b := DefaultColor(EscapeCount(c, maxIter))
			return r, g, b, nil
		}, nil
	}

	set, err := formula.CompileSet(req.Colors)
	if err != nil {
		return nil, fmt.Errorf("color formula: %w", err)
	}
	// The color only depends on the count, so each count is evaluated once.
	memo := make(map[int][3]uint8)
	return func(c complex128) (uint8, uint8, uint8, error) {
		n := EscapeCount(c, maxIter)
		if rgb, ok := memo[n]; ok {
			return rgb[0], rgb[1], rgb[2], nil
		}
		r, g, b := DefaultColor(n)
		rgb := [3]uint8{r, g, b}
		for i, f := range set {
			if f == nil {
				continue
			}
			v, err := f.Byte(n)
			if err != nil {
				return 0, 0, 0, fmt.Errorf("color formula: %w", err)
			}
			rgb[i] = v
		}
		memo[n] = rgb
		return rgb[0], rgb[1], rgb[2], nil
	}, nil
}

// hueColor maps a hue in turns to a fully saturated, full brightness RGB color.
func hueColor(h float64) (r, g, b uint8) {
	channel := func(n float64) uint8 {
		k := math.Mod(n+h*6, 6)
		if k < 0 {
			k += 6
		}
		return uint8(255 * (1 - math.Max(0, min(k, 4-k, 1))))
	}
	return channel(5), channel(3), channel(1)
}

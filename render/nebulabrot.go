package render

import (
	"context"
	"math/rand/v2"

	fractal "github.com/marben/dist_fractal"
)

// SampleProgressEvery is the sample cadence of trajectory progress reports.
const SampleProgressEvery = 10_000

// MaxHitsPerPixel is the largest per-batch hit count a raster can carry:
// hits fill R, then G, then B.
const MaxHitsPerPixel = 3 * 255

// Trace iterates the orbit of c and appends to trail[:0] the row-major index of every
// in-raster pixel the orbit visits. escaped reports whether the orbit left |z| <= 2
// strictly before maxIter iterations; a bounded orbit's trail must be discarded.
func Trace(c complex128, maxIter int, view fractal.Viewport, trail []int) (out []int, escaped bool) {
	trail = trail[:0]
	cr, ci := real(c), imag(c)
	x, y := 0.0, 0.0
	n := 0
	for x*x+y*y <= 4 && n < maxIter {
		x, y = x*x-y*y+cr, 2*x*y+ci
		if px, py := view.ComplexToPixel(x, y); view.Contains(px, py) {
			trail = append(trail, py*view.XRes+px)
		}
		n++
	}
	return trail, n < maxIter
}

// SampleHits traces req.Samples points drawn uniformly from the request viewport
// and returns the per-pixel hit counts of the escaping trajectories.
func SampleHits(ctx context.Context, req *fractal.NebulabrotRequest, progress func(fractal.Progress)) ([]uint32, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	v := req.Viewport
	seed := req.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	hits := make([]uint32, v.Pixels())
	trail := make([]int, 0, req.IterationCap)
	width, height := v.Width(), v.Height()
	for i := 0; i < req.Samples; i++ {
		if i%SampleProgressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := complex(v.MinX+rng.Float64()*width, v.MinY+rng.Float64()*height)
		var escaped bool
		trail, escaped = Trace(c, req.IterationCap, v, trail)
		if escaped {
			for _, p := range trail {
				hits[p]++
			}
		}
		if done := i + 1; progress != nil && (done%SampleProgressEvery == 0 || done == req.Samples) {
			progress(fractal.Progress{ID: req.ID, Index: done, Total: req.Samples})
		}
	}
	return hits, nil
}

// EncodeHits packs per-pixel hit counts into an opaque raster whose R+G+B sum is
// min(hits, MaxHitsPerPixel).
func EncodeHits(hits []uint32, width, height int) *fractal.Raster {
	img := fractal.NewBlankRaster(width, height)
	for p, n := range hits {
		if n == 0 {
			continue
		}
		i := p * 4
		for ch := 0; ch < 3 && n > 0; ch++ {
			b := min(n, 255)
			img.Pix[i+ch] = uint8(b)
			n -= b
		}
	}
	return img
}

// RenderNebulabrot computes one batch of trajectory hits for req. The batch is not
// weighted; HitWeight is applied when the batch is merged into an accumulator.
func RenderNebulabrot(ctx context.Context, req *fractal.NebulabrotRequest, progress func(fractal.Progress)) (*fractal.Raster, error) {
	hits, err := SampleHits(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return EncodeHits(hits, req.Viewport.XRes, req.Viewport.YRes), nil
}

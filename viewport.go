package fractal

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidViewport is returned for viewports that no kernel may read.
var ErrInvalidViewport = errors.New("invalid viewport")

// Canonical bounds restored by Reset.
const (
	HomeMinX = -2.0
	HomeMaxX = 1.0
	HomeMinY = -1.5
	HomeMaxY = 1.5
)

// Viewport is the window of the complex plane mapped onto an XRes × YRes raster.
// Pixel row 0 is the top (maximum imaginary) row.
type Viewport struct {
	MinX, MaxX float64
	MinY, MaxY float64
	XRes, YRes int
}

// DefaultViewport returns the canonical window at the given resolution.
func DefaultViewport(xRes, yRes int) Viewport {
	return Viewport{
		MinX: HomeMinX,
		MaxX: HomeMaxX,
		MinY: HomeMinY,
		MaxY: HomeMaxY,
		XRes: xRes,
		YRes: yRes,
	}
}

// Validate reports whether v can be handed to a kernel.
func (v Viewport) Validate() error {
	for _, f := range []float64{v.MinX, v.MaxX, v.MinY, v.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite bound in %s", ErrInvalidViewport, v)
		}
	}
	switch {
	case v.MaxX <= v.MinX:
		return fmt.Errorf("%w: maxX %g <= minX %g", ErrInvalidViewport, v.MaxX, v.MinX)
	case v.MaxY <= v.MinY:
		return fmt.Errorf("%w: maxY %g <= minY %g", ErrInvalidViewport, v.MaxY, v.MinY)
	case v.XRes <= 0 || v.YRes <= 0:
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidViewport, v.XRes, v.YRes)
	}
	return nil
}

func (v Viewport) Width() float64  { return v.MaxX - v.MinX }
func (v Viewport) Height() float64 { return v.MaxY - v.MinY }

// PixelWidth is the complex-plane width covered by one pixel.
func (v Viewport) PixelWidth() float64 { return v.Width() / float64(v.XRes) }

// PixelHeight is the complex-plane height covered by one pixel.
func (v Viewport) PixelHeight() float64 { return v.Height() / float64(v.YRes) }

// Pixels is XRes*YRes.
func (v Viewport) Pixels() int { return v.XRes * v.YRes }

// PixelToComplex maps a pixel coordinate to the complex point it samples.
func (v Viewport) PixelToComplex(px, py float64) (re, im float64) {
	pw, ph := v.PixelWidth(), v.PixelHeight()
	re = v.MinX + pw*px + 0.5*pw
	im = v.MaxY - ph*py + 0.5*ph
	return re, im
}

// ComplexToPixel is the inverse of PixelToComplex rounded to the nearest pixel.
// The result may lie outside the raster; callers check with Contains.
func (v Viewport) ComplexToPixel(re, im float64) (px, py int) {
	pw, ph := v.PixelWidth(), v.PixelHeight()
	px = int(math.Round((re - v.MinX - 0.5*pw) / pw))
	py = int(math.Round((v.MaxY - im + 0.5*ph) / ph))
	return px, py
}

// Contains reports whether (px, py) addresses a pixel of the raster.
func (v Viewport) Contains(px, py int) bool {
	return px >= 0 && px < v.XRes && py >= 0 && py < v.YRes
}

// ZoomAt recenters the window on the complex point under (px, py) and scales both
// extents by percent. percent < 1 zooms in, > 1 zooms out, 1 keeps the scale.
func (v Viewport) ZoomAt(px, py, percent float64) (Viewport, error) {
	if err := v.Validate(); err != nil {
		return v, err
	}
	if percent <= 0 || math.IsNaN(percent) || math.IsInf(percent, 0) {
		return v, fmt.Errorf("%w: zoom factor %g", ErrInvalidViewport, percent)
	}
	re, im := v.PixelToComplex(px, py)
	halfW := v.Width() / 2 * percent
	halfH := v.Height() / 2 * percent
	z := Viewport{
		MinX: re - halfW,
		MaxX: re + halfW,
		MinY: im - halfH,
		MaxY: im + halfH,
		XRes: v.XRes,
		YRes: v.YRes,
	}
	// Extreme zoom factors can collapse the window below float64 resolution.
	if err := z.Validate(); err != nil {
		return v, err
	}
	return z, nil
}

// Reset restores the canonical bounds, keeping the resolution.
func (v Viewport) Reset() Viewport {
	return DefaultViewport(v.XRes, v.YRes)
}

// Resize keeps the bounds and changes the resolution.
func (v Viewport) Resize(xRes, yRes int) (Viewport, error) {
	r := v
	r.XRes, r.YRes = xRes, yRes
	if err := r.Validate(); err != nil {
		return v, err
	}
	return r, nil
}

func (v Viewport) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]@%dx%d", v.MinX, v.MaxX, v.MinY, v.MaxY, v.XRes, v.YRes)
}

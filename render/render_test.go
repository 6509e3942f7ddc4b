package render

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	fractal "github.com/marben/dist_fractal"
)

func TestEscapeCount(t *testing.T) {
	assert.Equal(t, 50, EscapeCount(0, 50), "origin is inside the set")
	assert.Equal(t, 50, EscapeCount(-1, 50), "period-2 point is inside the set")
	assert.Equal(t, 1, EscapeCount(complex(3, 0), 50))
	assert.Equal(t, 3, EscapeCount(complex(1, 0), 50))
}

func TestSmoothEscape(t *testing.T) {
	assert.Equal(t, 50.0, smoothEscape(0, 50))
	assert.InDelta(t, 1-math.Log2(math.Log(9)/2), smoothEscape(complex(3, 0), 50), 1e-12)
	mu := smoothEscape(complex(1, 0), 50)
	assert.Greater(t, mu, float64(EscapeCount(complex(1, 0), 50)-1))
	assert.Less(t, mu, float64(EscapeCount(complex(1, 0), 50)))
}

func TestHueColor(t *testing.T) {
	for _, tc := range []struct {
		h       float64
		r, g, b uint8
	}{
		{0, 255, 0, 0},
		{1.0 / 6, 255, 255, 0},
		{1.0 / 3, 0, 255, 0},
		{2.0 / 3, 0, 0, 255},
		{1, 255, 0, 0},
		{-1.0 / 3, 0, 0, 255},
	} {
		r, g, b := hueColor(tc.h)
		assert.Equal(t, []uint8{tc.r, tc.g, tc.b}, []uint8{r, g, b}, "hue %g", tc.h)
	}
}

func TestDefaultColor(t *testing.T) {
	r, g, b := DefaultColor(100)
	assert.Equal(t, []uint8{100, 200, 148}, []uint8{r, g, b})
}

func TestRenderMandelbrot_Deterministic(t *testing.T) {
	req := &fractal.MandelbrotRequest{
		ID:           "a",
		Viewport:     fractal.DefaultViewport(64, 48),
		IterationCap: 60,
	}
	first, err := RenderMandelbrot(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := RenderMandelbrot(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Pix, second.Pix)
	require.NoError(t, first.Validate())

	for i := 3; i < len(first.Pix); i += 4 {
		require.Equal(t, uint8(255), first.Pix[i])
	}

	// centre pixel is interior and gets the cap color
	re, im := req.Viewport.PixelToComplex(42, 24)
	require.Equal(t, 60, EscapeCount(complex(re, im), 60))
	r, g, b := DefaultColor(60)
	i := first.Offset(42, 24)
	assert.Equal(t, []uint8{r, g, b}, first.Pix[i:i+3])
}

func TestRenderMandelbrot_Progress(t *testing.T) {
	req := &fractal.MandelbrotRequest{
		ID:           "p",
		Viewport:     fractal.DefaultViewport(4, 250),
		IterationCap: 5,
	}
	var rows []int
	_, err := RenderMandelbrot(context.Background(), req, func(p fractal.Progress) {
		assert.Equal(t, "p", p.ID)
		assert.Equal(t, 250, p.Total)
		rows = append(rows, p.Index)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 100, 200, 249}, rows)
}

func TestRenderMandelbrot_Formulas(t *testing.T) {
	view := fractal.DefaultViewport(16, 16)
	req := &fractal.MandelbrotRequest{
		Viewport:     view,
		IterationCap: 30,
		Colors:       fractal.ColorFormula{R: "default", G: "iters * 100", B: "7"},
	}
	img, err := RenderMandelbrot(context.Background(), req, nil)
	require.NoError(t, err)

	for py := 0; py < view.YRes; py++ {
		for px := 0; px < view.XRes; px++ {
			re, im := view.PixelToComplex(float64(px), float64(py))
			n := EscapeCount(complex(re, im), 30)
			r, _, _ := DefaultColor(n)
			g := min(n*100, 255)
			i := img.Offset(px, py)
			require.Equal(t, []uint8{r, uint8(g), 7, 255}, img.Pix[i:i+4])
		}
	}
}

func TestRenderMandelbrot_BadFormulaFails(t *testing.T) {
	req := &fractal.MandelbrotRequest{
		Viewport:     fractal.DefaultViewport(4, 4),
		IterationCap: 10,
		Colors:       fractal.ColorFormula{R: "exec()"},
	}
	_, err := RenderMandelbrot(context.Background(), req, nil)
	assert.Error(t, err)
}

func TestRenderMandelbrot_HSV(t *testing.T) {
	req := &fractal.MandelbrotRequest{
		Viewport:     fractal.DefaultViewport(32, 32),
		IterationCap: 40,
		Palette:      fractal.PaletteHSV,
	}
	img, err := RenderMandelbrot(context.Background(), req, nil)
	require.NoError(t, err)
	i := img.Offset(21, 16) // near the origin, inside the set
	assert.Equal(t, []uint8{0, 0, 0, 255}, img.Pix[i:i+4])
}

func TestRenderMandelbrot_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := &fractal.MandelbrotRequest{Viewport: fractal.DefaultViewport(4, 4), IterationCap: 10}
	_, err := RenderMandelbrot(ctx, req, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrace_BoundedOrbitDiscarded(t *testing.T) {
	view := fractal.DefaultViewport(100, 100)
	trail, escaped := Trace(0, 200, view, nil)
	assert.False(t, escaped)
	assert.Len(t, trail, 200, "origin is revisited every iteration")

	_, escaped = Trace(complex(0.5, 0.5), 200, view, trail)
	assert.True(t, escaped)
}

func TestTrace_DropsOutOfBounds(t *testing.T) {
	view := fractal.Viewport{MinX: 10, MaxX: 11, MinY: 10, MaxY: 11, XRes: 10, YRes: 10}
	trail, escaped := Trace(complex(1, 1), 100, view, nil)
	assert.True(t, escaped)
	assert.Empty(t, trail)
}

func TestSampleHits_BoundedPointContributesNothing(t *testing.T) {
	// A viewport so small around the origin that every sample is bounded.
	view := fractal.Viewport{MinX: -1e-9, MaxX: 1e-9, MinY: -1e-9, MaxY: 1e-9, XRes: 8, YRes: 8}
	req := &fractal.NebulabrotRequest{Viewport: view, IterationCap: 100, Samples: 500, HitWeight: 1, Seed: 7}
	hits, err := SampleHits(context.Background(), req, nil)
	require.NoError(t, err)
	for _, h := range hits {
		require.Zero(t, h)
	}
}

func TestSampleHits_SeededIsDeterministic(t *testing.T) {
	req := &fractal.NebulabrotRequest{
		Viewport:     fractal.DefaultViewport(40, 40),
		IterationCap: 50,
		Samples:      25_000,
		HitWeight:    1,
		Seed:         42,
	}
	var progress []int
	a, err := SampleHits(context.Background(), req, func(p fractal.Progress) { progress = append(progress, p.Index) })
	require.NoError(t, err)
	b, err := SampleHits(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, []int{10_000, 20_000, 25_000}, progress)

	var total uint64
	for _, h := range a {
		total += uint64(h)
	}
	assert.NotZero(t, total)
}

func TestEncodeHits(t *testing.T) {
	img := EncodeHits([]uint32{0, 10, 300, 10_000}, 2, 2)
	require.NoError(t, img.Validate())
	assert.Equal(t, 0, img.Intensity(0))
	assert.Equal(t, 10, img.Intensity(1))
	assert.Equal(t, 300, img.Intensity(2))
	assert.Equal(t, MaxHitsPerPixel, img.Intensity(3))
	assert.Equal(t, []uint8{255, 45, 0, 255}, img.Pix[8:12])
}

func TestRenderer_Dispatch(t *testing.T) {
	var seen []fractal.Mode
	r := Renderer{
		Logger:   zaptest.NewLogger(t),
		OnRender: func(req fractal.Request) { seen = append(seen, req.Mode()) },
	}
	view := fractal.DefaultViewport(8, 8)

	img, err := r.Render(context.Background(), &fractal.MandelbrotRequest{Viewport: view, IterationCap: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Width)

	img, err = r.Render(context.Background(), &fractal.NebulabrotRequest{Viewport: view, IterationCap: 5, Samples: 10, HitWeight: 1, Seed: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Height)

	_, err = r.Render(context.Background(), &fractal.NebulabrotRequest{Viewport: view, IterationCap: 5}, nil)
	assert.ErrorIs(t, err, fractal.ErrInvalidRequest)

	assert.Equal(t, []fractal.Mode{fractal.ModeMandelbrot, fractal.ModeNebulabrot, fractal.ModeNebulabrot}, seen)
}

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/engine"
	"github.com/marben/dist_fractal/render"
	"github.com/marben/dist_fractal/worker"
)

func TestParseZoom(t *testing.T) {
	px, py, f, err := parseZoom("10, 20.5,0.1")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20.5, 0.1}, []float64{px, py, f})

	for _, s := range []string{"", "1,2", "1,2,3,4", "a,2,3"} {
		_, _, _, err := parseZoom(s)
		assert.Error(t, err, s)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := loadConfig(options{mode: "mandelbrot", region: "seahorse-valley"})
	require.NoError(t, err)
	assert.Equal(t, fractal.ModeMandelbrot, cfg.Mode)
	assert.Equal(t, 100, cfg.IterationCap)
	assert.Equal(t, "seahorse-valley", cfg.Region)

	_, err = loadConfig(options{mode: "julia"})
	assert.Error(t, err)
	_, err = loadConfig(options{region: "nowhere"})
	assert.Error(t, err)
}

func newTestEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	log := zaptest.NewLogger(t)
	e, err := engine.New(cfg, worker.NewLocal(render.Renderer{Logger: log}), engine.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRenderImage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mb := engine.DefaultConfig(fractal.ModeMandelbrot)
	mb.XRes, mb.YRes = 24, 16
	img, err := renderImage(ctx, newTestEngine(t, mb), mb.Mode, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	want, err := render.RenderMandelbrot(ctx, &fractal.MandelbrotRequest{Viewport: fractal.DefaultViewport(24, 16), IterationCap: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, img)

	neb := engine.DefaultConfig(fractal.ModeNebulabrot)
	neb.XRes, neb.YRes = 16, 16
	neb.SamplesPerBatch = 500
	neb.IterationCap = 100
	neb.BatchInterval = time.Millisecond
	neb.Seed = 11
	e := newTestEngine(t, neb)
	img, err = renderImage(ctx, e, neb.Mode, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Width)
	assert.GreaterOrEqual(t, e.Stats().Batches, 2)

	_, err = renderImage(ctx, e, neb.Mode, 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestExportImage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := engine.DefaultConfig(fractal.ModeMandelbrot)
	cfg.XRes, cfg.YRes = 8, 8
	e := newTestEngine(t, cfg)

	img, err := exportImage(ctx, e, 40, 30, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Width)
	assert.Equal(t, 30, img.Height)
	assert.Equal(t, 1.0, e.ExportProgress())
}

package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/internal/metrics"
)

// Renderer runs requests on the escape-time or trajectory kernel.
type Renderer struct {
	// OnRender, when set, is called before each request starts.
	OnRender func(req fractal.Request)
	Logger   *zap.Logger
}

var _ fractal.Kernel = Renderer{}

// Render implements fractal.Kernel.
func (imp Renderer) Render(ctx context.Context, req fractal.Request, progress func(fractal.Progress)) (*fractal.Raster, error) {
	log := imp.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if imp.OnRender != nil {
		imp.OnRender(req)
	}

	start := time.Now()
	var (
		img *fractal.Raster
		err error
	)
	switch r := req.(type) {
	case *fractal.MandelbrotRequest:
		img, err = RenderMandelbrot(ctx, r, progress)
	case *fractal.NebulabrotRequest:
		img, err = RenderNebulabrot(ctx, r, progress)
		if err == nil {
			metrics.SamplesTraced.Add(float64(r.Samples))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported request type %T", fractal.ErrInvalidRequest, req)
	}
	elapsed := time.Since(start)

	mode := string(req.Mode())
	switch {
	case err == nil:
		metrics.KernelRequests.WithLabelValues(mode, metrics.OutcomeOK).Inc()
		metrics.KernelSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
		log.Debug("rendered",
			zap.String("id", req.RequestID()),
			zap.String("mode", mode),
			zap.Stringer("viewport", req.View()),
			zap.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.KernelRequests.WithLabelValues(mode, metrics.OutcomeCanceled).Inc()
	default:
		metrics.KernelRequests.WithLabelValues(mode, metrics.OutcomeError).Inc()
		log.Warn("render failed", zap.String("id", req.RequestID()), zap.String("mode", mode), zap.Error(err))
	}
	return img, err
}

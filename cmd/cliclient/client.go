package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/engine"
)

const pollInterval = 50 * time.Millisecond

// renderImage runs the engine until the mandelbrot render is final or the requested
// number of nebulabrot batches has been accumulated.
func renderImage(ctx context.Context, e *engine.Engine, mode fractal.Mode, batches int, logger *zap.Logger) (*fractal.Raster, error) {
	if mode == fractal.ModeNebulabrot && batches < 1 {
		return nil, fmt.Errorf("need at least one batch, got %d", batches)
	}

	done := func() bool {
		if mode == fractal.ModeMandelbrot {
			return !e.IsRunning()
		}
		return e.Stats().Batches >= batches
	}

	g, ctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})
	g.Go(func() error {
		defer close(finished)
		if err := e.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer e.Stop()
		return poll(ctx, e, done)
	})
	g.Go(func() error {
		reportProgress(ctx, finished, logger, func() []zap.Field {
			s := e.Stats()
			return []zap.Field{
				zap.Float64("batch_progress", e.RenderProgress()),
				zap.Int("batches", s.Batches),
				zap.Int64("samples", s.Samples),
				zap.Duration("last_batch", e.ElapsedTime()),
			}
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.Raster(), nil
}

// exportImage renders the current view at export resolution.
func exportImage(ctx context.Context, e *engine.Engine, width, height int, logger *zap.Logger) (*fractal.Raster, error) {
	g, ctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})
	var img *fractal.Raster
	g.Go(func() error {
		defer close(finished)
		var err error
		img, err = e.Export(ctx, width, height)
		return err
	})
	g.Go(func() error {
		reportProgress(ctx, finished, logger, func() []zap.Field {
			return []zap.Field{zap.Float64("export_progress", e.ExportProgress())}
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return img, nil
}

// waitIdle blocks until a running engine stops by itself.
func waitIdle(ctx context.Context, e *engine.Engine) error {
	return poll(ctx, e, func() bool { return !e.IsRunning() })
}

func poll(ctx context.Context, e *engine.Engine, done func() bool) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		if err := e.Err(); err != nil {
			return err
		}
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func reportProgress(ctx context.Context, finished <-chan struct{}, logger *zap.Logger, fields func() []zap.Field) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-finished:
			return
		case <-t.C:
			logger.Info("progress", fields()...)
		}
	}
}

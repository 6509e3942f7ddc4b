// Package engine schedules fractal batches on a worker and keeps the displayed raster.
//
// In nebulabrot mode a running engine keeps one trajectory batch in flight at a time,
// merges every result into an accumulation buffer on a round-robin channel and waits
// BatchInterval before issuing the next batch. In mandelbrot mode a run renders the
// current viewport once; zooming or resetting the view renders again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/accum"
	"github.com/marben/dist_fractal/internal/metrics"
)

var (
	// ErrBusy is returned by Export while a batch is in flight.
	ErrBusy = errors.New("batch in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// OnFailure registers a hook called after a batch failed and the engine stopped.
// The hook runs on its own goroutine, so it may call any Engine method, Close included.
func OnFailure(f func(error)) Option {
	return func(e *Engine) { e.onFailure = f }
}

// Stats counts merged work since the last accumulator reset.
type Stats struct {
	Batches int
	Samples int64
}

type batch struct {
	req     fractal.Request
	gen     uint64
	channel int
	issued  time.Time
}

// Engine drives one worker. All methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	worker    fractal.Worker
	log       *zap.Logger
	onFailure func(error)
	mode      string

	m          sync.Mutex
	view       fractal.Viewport
	gen        uint64
	buf        *accum.Buffer
	display    *fractal.Raster
	running    bool
	inFlight   bool
	timer      *time.Timer
	timerSeq   uint64
	batchIndex int
	stats      Stats
	err        error
	elapsed    time.Duration
	progress   float64
	exportProg float64
	closed     bool
}

// New creates a stopped engine that owns worker.
func New(cfg Config, worker fractal.Worker, opts ...Option) (*Engine, error) {
	mode, err := fractal.ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	view, err := cfg.Viewport()
	if err != nil {
		return nil, err
	}
	if worker == nil {
		return nil, errors.New("engine needs a worker")
	}

	e := &Engine{
		cfg:     cfg,
		worker:  worker,
		log:     zap.NewNop(),
		mode:    string(mode),
		view:    view,
		display: fractal.NewBlankRaster(view.XRes, view.YRes),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.With(zap.String("mode", e.mode))

	if mode == fractal.ModeNebulabrot {
		if e.buf, err = accum.NewBuffer(cfg.Channels, view.XRes, view.YRes); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Start begins issuing batches. It is a no-op while running.
func (e *Engine) Start() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	if e.running {
		e.m.Unlock()
		return nil
	}
	e.running = true
	e.err = nil
	b := e.prepareLocked()
	e.m.Unlock()

	e.log.Info("engine started", zap.Stringer("viewport", e.Viewport()))
	e.post(b)
	return nil
}

// Stop cancels the pending batch timer. A batch already in flight is still applied
// but nothing is scheduled after it.
func (e *Engine) Stop() {
	e.m.Lock()
	defer e.m.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.stopTimerLocked()
	e.log.Info("engine stopped")
}

// SingleBatch issues one batch whether or not the engine is running.
// It is dropped when a batch is already in flight.
func (e *Engine) SingleBatch() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	b := e.prepareLocked()
	e.m.Unlock()

	e.post(b)
	return nil
}

// ZoomAt recenters the view on pixel (px, py) and scales it by percent.
// Accumulated work is discarded before any further batch is accepted.
func (e *Engine) ZoomAt(px, py, percent float64) error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	view, err := e.view.ZoomAt(px, py, percent)
	if err != nil {
		e.m.Unlock()
		return err
	}
	b := e.setViewLocked(view)
	e.m.Unlock()

	e.log.Debug("zoom", zap.Stringer("viewport", view))
	e.post(b)
	return nil
}

// ResetView restores the canonical bounds at the current resolution.
func (e *Engine) ResetView() {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return
	}
	b := e.setViewLocked(e.view.Reset())
	e.m.Unlock()

	e.post(b)
}

// Resize changes the raster resolution and rebuilds the accumulation buffer.
func (e *Engine) Resize(xRes, yRes int) error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return ErrClosed
	}
	view, err := e.view.Resize(xRes, yRes)
	if err != nil {
		e.m.Unlock()
		return err
	}
	if e.buf != nil {
		buf, err := accum.NewBuffer(e.cfg.Channels, xRes, yRes)
		if err != nil {
			e.m.Unlock()
			return err
		}
		e.buf = buf
	}
	b := e.setViewLocked(view)
	e.m.Unlock()

	e.post(b)
	return nil
}

// ResetAccumulator zeroes the accumulated densities and blanks the display.
// A batch in flight is discarded when it returns.
func (e *Engine) ResetAccumulator() {
	e.m.Lock()
	defer e.m.Unlock()
	e.gen++
	e.clearLocked()
}

// setViewLocked installs view, invalidates in-flight work and, in mandelbrot mode,
// prepares the re-render.
func (e *Engine) setViewLocked(view fractal.Viewport) *batch {
	e.view = view
	e.gen++
	e.clearLocked()
	if e.cfg.Mode != fractal.ModeMandelbrot {
		return nil
	}
	// the stale render, if any, issues the new one when it comes back
	e.running = true
	e.stopTimerLocked()
	return e.prepareLocked()
}

func (e *Engine) clearLocked() {
	if e.buf != nil {
		e.buf.Reset()
	}
	e.display = fractal.NewBlankRaster(e.view.XRes, e.view.YRes)
	e.stats = Stats{}
	e.progress = 0
}

// prepareLocked builds the next batch and marks it in flight. It returns nil when a
// batch is already in flight.
func (e *Engine) prepareLocked() *batch {
	if e.inFlight {
		metrics.Batches.WithLabelValues(e.mode, metrics.EventDropped).Inc()
		e.log.Debug("batch dropped, previous one still in flight")
		return nil
	}

	b := &batch{gen: e.gen, issued: time.Now()}
	id := fractal.NewRequestID()
	switch e.cfg.Mode {
	case fractal.ModeMandelbrot:
		b.req = &fractal.MandelbrotRequest{
			ID:           id,
			Viewport:     e.view,
			IterationCap: e.cfg.IterationCap,
			Colors:       e.cfg.Colors,
			Palette:      e.cfg.Palette,
		}
	default:
		b.channel = e.batchIndex % e.cfg.Channels
		var seed uint64
		if e.cfg.Seed != 0 {
			seed = e.cfg.Seed + uint64(e.batchIndex)
		}
		b.req = &fractal.NebulabrotRequest{
			ID:           id,
			Viewport:     e.view,
			IterationCap: e.cfg.IterationCap,
			Samples:      e.cfg.SamplesPerBatch,
			HitWeight:    e.cfg.HitWeight,
			Seed:         seed,
		}
	}
	e.batchIndex++
	e.inFlight = true
	e.progress = 0
	metrics.Batches.WithLabelValues(e.mode, metrics.EventIssued).Inc()
	return b
}

// post hands b to the worker. It must be called without holding the lock.
func (e *Engine) post(b *batch) {
	if b == nil {
		return
	}
	e.log.Debug("batch issued", zap.String("id", b.req.RequestID()), zap.Int("channel", b.channel))
	if err := e.worker.Post(b.req, func(resp fractal.Response) { e.handle(b, resp) }); err != nil {
		e.fail(b, fmt.Errorf("post batch: %w", err))
	}
}

func (e *Engine) handle(b *batch, resp fractal.Response) {
	switch r := resp.(type) {
	case fractal.Progress:
		e.m.Lock()
		if b.gen == e.gen {
			e.progress = r.Fraction()
		}
		e.m.Unlock()
	case fractal.RasterResult:
		e.complete(b, r.Raster)
	case fractal.Failure:
		e.fail(b, r)
	default:
		panic(fmt.Sprintf("engine: unexpected response %T", resp))
	}
}

func (e *Engine) complete(b *batch, img *fractal.Raster) {
	e.m.Lock()
	e.inFlight = false
	if e.closed {
		e.m.Unlock()
		return
	}
	e.elapsed = time.Since(b.issued)

	if b.gen != e.gen {
		metrics.Batches.WithLabelValues(e.mode, metrics.EventStale).Inc()
		e.log.Debug("stale batch discarded", zap.String("id", b.req.RequestID()))
		next := e.continueLocked()
		e.m.Unlock()
		e.post(next)
		return
	}

	if err := e.applyLocked(b, img); err != nil {
		e.m.Unlock()
		e.fail(b, err)
		return
	}
	metrics.Batches.WithLabelValues(e.mode, metrics.EventMerged).Inc()
	if e.cfg.Mode == fractal.ModeMandelbrot {
		// the render is final for this viewport
		e.running = false
	}
	next := e.continueLocked()
	e.m.Unlock()
	e.post(next)
}

func (e *Engine) applyLocked(b *batch, img *fractal.Raster) error {
	if e.cfg.Mode == fractal.ModeMandelbrot {
		if img.Width != e.view.XRes || img.Height != e.view.YRes {
			return fmt.Errorf("%w: raster %dx%d for view %dx%d", accum.ErrSizeMismatch, img.Width, img.Height, e.view.XRes, e.view.YRes)
		}
		e.display = img
		e.progress = 1
		return nil
	}
	if err := e.buf.Merge(b.channel, img, e.cfg.HitWeight); err != nil {
		return err
	}
	e.display = accum.Colorize(e.buf, e.cfg.colorOptions())
	e.stats.Batches++
	e.stats.Samples += int64(e.cfg.SamplesPerBatch)
	e.progress = 1
	return nil
}

// continueLocked decides what follows a finished batch: an immediate re-render of a
// changed mandelbrot view or the timer for the next trajectory batch.
func (e *Engine) continueLocked() *batch {
	if !e.running {
		return nil
	}
	if e.cfg.Mode == fractal.ModeMandelbrot {
		return e.prepareLocked()
	}
	e.scheduleLocked()
	return nil
}

func (e *Engine) scheduleLocked() {
	e.stopTimerLocked()
	seq := e.timerSeq
	e.timer = time.AfterFunc(e.cfg.BatchInterval, func() { e.fire(seq) })
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerSeq++
}

func (e *Engine) fire(seq uint64) {
	e.m.Lock()
	if seq != e.timerSeq || !e.running || e.closed {
		e.m.Unlock()
		return
	}
	e.timer = nil
	b := e.prepareLocked()
	e.m.Unlock()

	e.post(b)
}

// fail stops the engine and records err.
func (e *Engine) fail(b *batch, err error) {
	e.m.Lock()
	e.inFlight = false
	if e.closed {
		e.m.Unlock()
		return
	}
	e.running = false
	e.stopTimerLocked()
	e.err = err
	hook := e.onFailure
	e.m.Unlock()

	metrics.Batches.WithLabelValues(e.mode, metrics.EventFailed).Inc()
	e.log.Error("batch failed, engine stopped", zap.String("id", b.req.RequestID()), zap.Error(err))
	if hook != nil {
		go hook(err)
	}
}

// Export renders the current view as a mandelbrot raster of width × height, independent
// of the display resolution. Non-positive dimensions select the configured export size.
// It occupies the single in-flight slot while it runs.
func (e *Engine) Export(ctx context.Context, width, height int) (*fractal.Raster, error) {
	width, height = e.cfg.exportSize(width, height)

	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil, ErrClosed
	}
	if e.inFlight {
		e.m.Unlock()
		return nil, ErrBusy
	}
	view, err := e.view.Resize(width, height)
	if err != nil {
		e.m.Unlock()
		return nil, err
	}
	req := &fractal.MandelbrotRequest{
		ID:           fractal.NewRequestID(),
		Viewport:     view,
		IterationCap: e.cfg.IterationCap,
		Colors:       e.cfg.Colors,
		Palette:      e.cfg.Palette,
	}
	e.inFlight = true
	e.exportProg = 0
	e.m.Unlock()

	e.log.Info("export started", zap.Int("width", width), zap.Int("height", height))
	done := make(chan fractal.Response, 1)
	err = e.worker.Post(req, func(resp fractal.Response) {
		if p, ok := resp.(fractal.Progress); ok {
			e.m.Lock()
			e.exportProg = p.Fraction()
			e.m.Unlock()
			return
		}
		e.finishExport()
		done <- resp
	})
	if err != nil {
		e.finishExport()
		return nil, fmt.Errorf("post export: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-done:
		switch r := resp.(type) {
		case fractal.RasterResult:
			e.m.Lock()
			e.exportProg = 1
			e.m.Unlock()
			e.log.Info("export finished", zap.Int("width", width), zap.Int("height", height))
			return r.Raster, nil
		case fractal.Failure:
			return nil, fmt.Errorf("export: %w", r)
		default:
			return nil, fmt.Errorf("export: unexpected response %T", resp)
		}
	}
}

// finishExport frees the in-flight slot and resumes a running engine.
func (e *Engine) finishExport() {
	e.m.Lock()
	e.inFlight = false
	var next *batch
	if !e.closed {
		next = e.continueLocked()
	}
	e.m.Unlock()
	e.post(next)
}

// Close stops the engine and closes its worker.
func (e *Engine) Close() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil
	}
	e.closed = true
	e.running = false
	e.stopTimerLocked()
	e.m.Unlock()

	return e.worker.Close()
}

// IsRunning reports whether the engine keeps issuing batches.
func (e *Engine) IsRunning() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return e.running
}

// ElapsedTime is the wall time of the last completed batch.
func (e *Engine) ElapsedTime() time.Duration {
	e.m.Lock()
	defer e.m.Unlock()
	return e.elapsed
}

// RenderProgress is the completed fraction of the batch in flight.
func (e *Engine) RenderProgress() float64 {
	e.m.Lock()
	defer e.m.Unlock()
	return e.progress
}

// ExportProgress is the completed fraction of the last export.
func (e *Engine) ExportProgress() float64 {
	e.m.Lock()
	defer e.m.Unlock()
	return e.exportProg
}

// Raster returns a copy of the displayed raster.
func (e *Engine) Raster() *fractal.Raster {
	e.m.Lock()
	defer e.m.Unlock()
	return e.display.Clone()
}

func (e *Engine) Viewport() fractal.Viewport {
	e.m.Lock()
	defer e.m.Unlock()
	return e.view
}

func (e *Engine) Stats() Stats {
	e.m.Lock()
	defer e.m.Unlock()
	return e.stats
}

// Err returns the failure that stopped the engine, if any. Start clears it.
func (e *Engine) Err() error {
	e.m.Lock()
	defer e.m.Unlock()
	return e.err
}

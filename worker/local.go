// Package worker carries compute requests to a kernel off the caller's goroutine,
// either in-process (Local) or over a websocket (Remote, Server).
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/internal/metrics"
)

var (
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("worker closed")
	// ErrQueueFull is returned by Post when the request queue is full.
	ErrQueueFull = errors.New("worker queue full")
)

// DefaultQueueSize bounds the requests a worker accepts ahead of the running one.
const DefaultQueueSize = 4

type options struct {
	log       *zap.Logger
	queueSize int
	name      string
}

// Option configures a worker.
type Option func(*options)

// WithLogger sets the worker's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithQueueSize sets how many requests may wait behind the running one.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithName labels the worker in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(name string, opts []Option) options {
	o := options{log: zap.NewNop(), queueSize: DefaultQueueSize, name: name}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.queueSize < 1 {
		o.queueSize = 1
	}
	o.log = o.log.With(zap.String("worker", o.name))
	return o
}

type job struct {
	req fractal.Request
	h   fractal.ResponseHandler
}

// Local runs a kernel on a single background goroutine, one request at a time.
type Local struct {
	kernel fractal.Kernel
	opts   options

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	m      sync.Mutex
	closed bool
}

var _ fractal.Worker = (*Local)(nil)

// NewLocal starts a worker goroutine in front of kernel.
func NewLocal(kernel fractal.Kernel, opts ...Option) *Local {
	o := buildOptions("local", opts)
	ctx, cancel := context.WithCancel(context.Background())
	w := &Local{
		kernel: kernel,
		opts:   o,
		jobs:   make(chan job, o.queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Post queues req. It fails immediately with ErrQueueFull instead of waiting.
func (w *Local) Post(req fractal.Request, h fractal.ResponseHandler) error {
	if req == nil || h == nil {
		return fmt.Errorf("%w: nil request or handler", fractal.ErrInvalidRequest)
	}
	w.m.Lock()
	defer w.m.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.jobs <- job{req: req, h: h}:
		metrics.WorkerQueue.WithLabelValues(w.opts.name).Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close cancels the running computation, drops queued requests and waits for the
// worker goroutine to exit. Discarded requests get no further response.
func (w *Local) Close() error {
	w.m.Lock()
	if w.closed {
		w.m.Unlock()
		return nil
	}
	w.closed = true
	w.cancel()
	w.m.Unlock()

	<-w.done
	return nil
}

func (w *Local) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			metrics.WorkerQueue.WithLabelValues(w.opts.name).Sub(float64(len(w.jobs)))
			return
		case j := <-w.jobs:
			w.process(j)
			metrics.WorkerQueue.WithLabelValues(w.opts.name).Dec()
		}
	}
}

func (w *Local) process(j job) {
	id := j.req.RequestID()
	defer func() {
		if r := recover(); r != nil {
			w.opts.log.Error("kernel panic", zap.String("id", id), zap.Any("panic", r))
			if w.ctx.Err() == nil {
				j.h(fractal.Failure{ID: id, Err: fmt.Errorf("kernel panic: %v", r)})
			}
		}
	}()

	img, err := w.kernel.Render(w.ctx, j.req, func(p fractal.Progress) {
		if w.ctx.Err() == nil {
			j.h(p)
		}
	})
	if w.ctx.Err() != nil {
		w.opts.log.Debug("discarding request of closed worker", zap.String("id", id))
		return
	}
	if err != nil {
		j.h(fractal.Failure{ID: id, Err: err})
		return
	}
	j.h(fractal.RasterResult{ID: id, Raster: img})
}

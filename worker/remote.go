package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/internal/metrics"
)

// MaxMessageBytes bounds a single websocket message. Rasters travel base64 encoded
// inside JSON, so a 4096×4096 raster needs roughly 90 MiB.
const MaxMessageBytes = 128 << 20

// Remote is a Worker whose kernel runs behind a websocket Server.
type Remote struct {
	conn *websocket.Conn
	opts options

	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	wg     sync.WaitGroup

	m       sync.Mutex
	pending map[string]fractal.ResponseHandler
	closed  bool
	broken  error
}

var _ fractal.Worker = (*Remote)(nil)

// Dial connects to a worker server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Remote, error) {
	o := buildOptions("remote", opts)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket.Dial %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageBytes)

	rctx, cancel := context.WithCancel(context.Background())
	w := &Remote{
		conn:    conn,
		opts:    o,
		ctx:     rctx,
		cancel:  cancel,
		out:     make(chan []byte, o.queueSize),
		pending: make(map[string]fractal.ResponseHandler),
	}
	w.wg.Add(2)
	go w.readLoop()
	go w.writeLoop()
	o.log.Info("connected to worker server", zap.String("url", url))
	return w, nil
}

// Post queues req for the server. Requests need a unique id.
func (w *Remote) Post(req fractal.Request, h fractal.ResponseHandler) error {
	if req == nil || h == nil {
		return fmt.Errorf("%w: nil request or handler", fractal.ErrInvalidRequest)
	}
	id := req.RequestID()
	if id == "" {
		return fmt.Errorf("%w: remote requests need an id", fractal.ErrInvalidRequest)
	}
	b, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	w.m.Lock()
	defer w.m.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.broken != nil {
		return fmt.Errorf("%w: %v", ErrClosed, w.broken)
	}
	if _, dup := w.pending[id]; dup {
		return fmt.Errorf("%w: duplicate request id %s", fractal.ErrInvalidRequest, id)
	}
	select {
	case w.out <- b:
		w.pending[id] = h
		metrics.WorkerQueue.WithLabelValues(w.opts.name).Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drops pending requests without responses and closes the connection.
func (w *Remote) Close() error {
	w.m.Lock()
	if w.closed {
		w.m.Unlock()
		return nil
	}
	w.closed = true
	dropped := len(w.pending)
	w.pending = map[string]fractal.ResponseHandler{}
	w.m.Unlock()

	metrics.WorkerQueue.WithLabelValues(w.opts.name).Sub(float64(dropped))
	if err := w.conn.Close(websocket.StatusNormalClosure, "closing"); err != nil {
		// the connection may already be gone after a failure
		w.opts.log.Debug("close websocket", zap.Error(err))
	}
	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *Remote) readLoop() {
	defer w.wg.Done()
	for {
		_, b, err := w.conn.Read(w.ctx)
		if err != nil {
			w.fail(err)
			return
		}
		resp, err := DecodeResponse(b)
		if err != nil {
			id := responseID(b)
			if id == "" {
				// nothing to attribute it to; the stream can no longer be trusted
				w.fail(err)
				return
			}
			w.opts.log.Warn("undecodable response", zap.String("id", id), zap.Error(err))
			resp = fractal.Failure{ID: id, Err: err}
		}
		w.deliver(resp)
	}
}

func (w *Remote) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case b := <-w.out:
			if err := w.conn.Write(w.ctx, websocket.MessageText, b); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *Remote) deliver(resp fractal.Response) {
	id := resp.RequestID()
	w.m.Lock()
	h, ok := w.pending[id]
	if ok {
		if _, progress := resp.(fractal.Progress); !progress {
			delete(w.pending, id)
			metrics.WorkerQueue.WithLabelValues(w.opts.name).Dec()
		}
	}
	w.m.Unlock()

	if !ok {
		w.opts.log.Debug("dropping response for unknown request", zap.String("id", id))
		return
	}
	h(resp)
}

// fail completes every pending request with a Failure after the connection broke.
// It does nothing once Close has been called.
func (w *Remote) fail(err error) {
	w.m.Lock()
	if w.closed || w.broken != nil {
		w.m.Unlock()
		return
	}
	w.broken = err
	pending := w.pending
	w.pending = map[string]fractal.ResponseHandler{}
	w.m.Unlock()

	w.cancel()
	w.opts.log.Warn("worker connection lost", zap.Error(err), zap.Int("pending", len(pending)))
	metrics.WorkerQueue.WithLabelValues(w.opts.name).Sub(float64(len(pending)))
	for id, h := range pending {
		h(fractal.Failure{ID: id, Err: fmt.Errorf("worker connection: %w", err)})
	}
}

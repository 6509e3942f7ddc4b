package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/internal/metrics"
)

// Config holds the configuration of a worker Server.
type Config struct {
	Addr           string   `yaml:"addr"`
	Path           string   `yaml:"path"`
	OriginPatterns []string `yaml:"origin_patterns"`
	QueueSize      int      `yaml:"queue_size"`
	// MaxPixels and MaxSamples bound what a single request may ask for.
	MaxPixels  int `yaml:"max_pixels"`
	MaxSamples int `yaml:"max_samples"`
}

const (
	// DefaultMaxPixels keeps a base64 encoded raster response under MaxMessageBytes.
	DefaultMaxPixels = MaxMessageBytes * 3 / 16
	// DefaultMaxSamples bounds the work of one nebulabrot batch.
	DefaultMaxSamples = 50_000_000
)

// Server exposes a kernel over websocket. Every connection gets its own Local
// worker, so one client's requests run strictly one after another.
type Server struct {
	cfg    Config
	kernel fractal.Kernel
	log    *zap.Logger
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a server for kernel. Only the logger option is used.
func NewServer(cfg Config, kernel fractal.Kernel, opts ...Option) *Server {
	o := buildOptions("server", opts)
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxPixels < 1 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxSamples < 1 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	s := &Server{
		cfg:    cfg,
		kernel: kernel,
		log:    o.log,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc(cfg.Path, s.serveWS)
	return s
}

// Handle registers an extra handler (metrics, health) next to the websocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Serve listens on cfg.Addr and blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", zap.Error(err))
		}
	}()

	s.log.Info("worker server listening", zap.String("addr", s.cfg.Addr), zap.String("path", s.cfg.Path))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return nil
}

// ServeHTTP routes to the websocket endpoint or to a handler added with Handle.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// serveWS upgrades the request to a websocket and serves compute requests on it
// until the peer goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept", zap.Error(err))
		return
	}
	c.SetReadLimit(MaxMessageBytes)

	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	log := s.log.With(zap.String("remote", r.RemoteAddr))
	log.Info("worker client connected")
	err = s.serveConn(r.Context(), c, log)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("worker client disconnected")
	default:
		log.Warn("worker connection ended", zap.Error(err))
	}
}

func (s *Server) serveConn(ctx context.Context, c *websocket.Conn, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.CloseNow()

	local := NewLocal(s.kernel, WithLogger(log), WithName("server"), WithQueueSize(s.cfg.QueueSize))
	defer local.Close()

	send := func(resp fractal.Response) {
		b, err := EncodeResponse(resp)
		if err != nil {
			log.Error("encode response", zap.String("id", resp.RequestID()), zap.Error(err))
			b, err = EncodeResponse(fractal.Failure{ID: resp.RequestID(), Err: err})
			if err != nil {
				return
			}
		}
		if err := c.Write(ctx, websocket.MessageText, b); err != nil {
			log.Debug("write response", zap.Error(err))
			cancel()
		}
	}

	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			return err
		}
		msg, err := decodeRequestMessage(b)
		if err != nil {
			log.Warn("dropping undecodable request", zap.Error(err))
			continue
		}
		req, err := msg.request()
		if err == nil {
			err = s.checkLimits(req)
		}
		if err == nil {
			err = local.Post(req, send)
		}
		if err != nil {
			log.Warn("rejecting request", zap.String("id", msg.ID), zap.Error(err))
			send(fractal.Failure{ID: msg.ID, Err: err})
		}
	}
}

// checkLimits rejects requests whose raster or sample count exceeds the configured bounds,
// before anything gets allocated for them.
func (s *Server) checkLimits(req fractal.Request) error {
	vp := req.View()
	if px := int64(vp.XRes) * int64(vp.YRes); px > int64(s.cfg.MaxPixels) {
		return fmt.Errorf("%w: %dx%d raster exceeds %d pixels", fractal.ErrInvalidRequest, vp.XRes, vp.YRes, s.cfg.MaxPixels)
	}
	if r, ok := req.(*fractal.NebulabrotRequest); ok && r.Samples > s.cfg.MaxSamples {
		return fmt.Errorf("%w: %d samples exceeds %d", fractal.ErrInvalidRequest, r.Samples, s.cfg.MaxSamples)
	}
	return nil
}

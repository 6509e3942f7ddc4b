package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/worker"
)

// newWebServer mounts the websocket compute endpoint, a health check, metrics (unless
// they get their own listener) and optionally a static file directory.
func newWebServer(cfg serverConfig, kernel fractal.Kernel, logger *zap.Logger) *worker.Server {
	srv := worker.NewServer(cfg.Worker, kernel, worker.WithLogger(logger))
	srv.Handle("/healthz", http.HandlerFunc(healthz))
	if cfg.MetricsAddr == "" {
		srv.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	if cfg.StaticDir != "" {
		srv.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return srv
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serveMetrics exposes prometheus metrics on their own listener until ctx is done.
func serveMetrics(ctx context.Context, addr, path string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return nil
}

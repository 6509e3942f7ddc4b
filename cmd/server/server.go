// server hosts a fractal compute worker over websocket.
// Engines connect with worker.Dial and post mandelbrot or nebulabrot requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/render"
	"github.com/marben/dist_fractal/worker"
)

type serverConfig struct {
	Worker      worker.Config `yaml:"worker"`
	MetricsAddr string        `yaml:"metrics_addr"`
	MetricsPath string        `yaml:"metrics_path"`
	StaticDir   string        `yaml:"static_dir"`
	Development bool          `yaml:"development"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Worker: worker.Config{
			Addr: ":8080",
			Path: "/ws",
		},
		MetricsPath: "/metrics",
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(development bool) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if development {
		logConfig = zap.NewDevelopmentConfig()
	}
	return logConfig.Build()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("run: %+v", err)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "yaml config file")
	addr := flag.String("addr", "", "listen address (overrides the config)")
	metricsAddr := flag.String("metrics-addr", "", "serve metrics on a separate address")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	cfg := defaultServerConfig()
	if *configPath != "" {
		var err error
		if cfg, err = loadServerConfig(*configPath); err != nil {
			return err
		}
	}
	if *addr != "" {
		cfg.Worker.Addr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	cfg.Development = cfg.Development || *dev

	logger, err := newLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "sync logger: %v\n", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	renderer := render.Renderer{
		Logger: logger,
		OnRender: func(req fractal.Request) {
			logger.Debug("rendering", zap.String("id", req.RequestID()), zap.String("mode", string(req.Mode())))
		},
	}
	srv := newWebServer(cfg, renderer, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, cfg.MetricsPath, logger) })
	}

	logger.Info("fractal worker server started",
		zap.String("addr", cfg.Worker.Addr),
		zap.String("ws", cfg.Worker.Path),
		zap.Strings("regions", fractal.RegionNames()))
	err = g.Wait()
	logger.Info("fractal worker server stopped")
	return err
}

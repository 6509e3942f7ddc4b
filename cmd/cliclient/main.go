// cliclient renders a fractal with an engine and saves it as an image.
// The kernel runs in-process unless -worker points at a worker server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/engine"
	"github.com/marben/dist_fractal/render"
	"github.com/marben/dist_fractal/worker"
)

type options struct {
	configPath string
	mode       string
	region     string
	workerURL  string
	batches    int
	zoom       string
	out        string
	export     bool
	width      int
	height     int
	timeout    time.Duration
	dev        bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", os.Getenv("CONFIG_PATH"), "engine yaml config file")
	flag.StringVar(&o.mode, "mode", "", "mandelbrot or nebulabrot (overrides the config)")
	flag.StringVar(&o.region, "region", "", "start at a landmark: "+strings.Join(fractal.RegionNames(), ", "))
	flag.StringVar(&o.workerURL, "worker", "", "worker server url (ws://host:8080/ws); empty renders in-process")
	flag.IntVar(&o.batches, "batches", 20, "nebulabrot batches to accumulate")
	flag.StringVar(&o.zoom, "zoom", "", "zoom before rendering, as px,py,factor")
	flag.StringVar(&o.out, "o", "fractal.png", "output file (.png, .tiff or .bmp)")
	flag.BoolVar(&o.export, "export", false, "render a high resolution mandelbrot export instead")
	flag.IntVar(&o.width, "width", 0, "export width (default from config)")
	flag.IntVar(&o.height, "height", 0, "export height (default from config)")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Minute, "give up after this long")
	flag.BoolVar(&o.dev, "dev", false, "development logging")
	flag.Parse()
	return o
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run() error {
	o := parseFlags()

	logConfig := zap.NewProductionConfig()
	if o.dev {
		logConfig = zap.NewDevelopmentConfig()
	}
	logger, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if _, err := fractal.FormatFromPath(o.out); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, o.timeout)
	defer cancelTimeout()

	w, err := newWorker(ctx, o.workerURL, logger)
	if err != nil {
		return err
	}
	e, err := engine.New(cfg, w, engine.WithLogger(logger))
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("engine.New: %w", err)
	}
	defer e.Close()

	if o.zoom != "" {
		px, py, factor, err := parseZoom(o.zoom)
		if err != nil {
			return err
		}
		if err := e.ZoomAt(px, py, factor); err != nil {
			return fmt.Errorf("zoom: %w", err)
		}
		// mandelbrot engines start re-rendering on zoom; wait it out before exporting
		if o.export {
			if err := waitIdle(ctx, e); err != nil {
				return err
			}
		}
	}

	var img *fractal.Raster
	if o.export {
		img, err = exportImage(ctx, e, o.width, o.height, logger)
	} else {
		img, err = renderImage(ctx, e, cfg.Mode, o.batches, logger)
	}
	if err != nil {
		return err
	}

	if err := fractal.SaveFile(o.out, img); err != nil {
		return err
	}
	logger.Info("image saved", zap.String("file", o.out), zap.Int("width", img.Width), zap.Int("height", img.Height))
	return nil
}

func loadConfig(o options) (engine.Config, error) {
	mode := fractal.ModeNebulabrot
	if o.mode != "" {
		var err error
		if mode, err = fractal.ParseMode(o.mode); err != nil {
			return engine.Config{}, err
		}
	}
	cfg := engine.DefaultConfig(mode)
	if o.configPath != "" {
		var err error
		if cfg, err = engine.LoadConfig(o.configPath); err != nil {
			return engine.Config{}, err
		}
		if o.mode != "" {
			cfg.Mode = mode
		}
	}
	if o.region != "" {
		cfg.Region = o.region
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func newWorker(ctx context.Context, url string, logger *zap.Logger) (fractal.Worker, error) {
	if url == "" {
		return worker.NewLocal(render.Renderer{Logger: logger}, worker.WithLogger(logger)), nil
	}
	w, err := worker.Dial(ctx, url, worker.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return w, nil
}

// parseZoom reads "px,py,factor".
func parseZoom(s string) (px, py, factor float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("zoom %q: want px,py,factor", s)
	}
	var v [3]float64
	for i, p := range parts {
		if v[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return 0, 0, 0, fmt.Errorf("zoom %q: %w", s, err)
		}
	}
	return v[0], v[1], v[2], nil
}

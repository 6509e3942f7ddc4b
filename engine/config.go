package engine

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	fractal "github.com/marben/dist_fractal"
	"github.com/marben/dist_fractal/accum"
)

// Export size used when Export is called without dimensions.
const (
	DefaultExportWidth  = 2400
	DefaultExportAspect = 0.75
)

// Config is the engine configuration. LoadConfig fills it from YAML over the defaults.
type Config struct {
	Mode   fractal.Mode `yaml:"mode"`
	XRes   int          `yaml:"x_res"`
	YRes   int          `yaml:"y_res"`
	Region string       `yaml:"region"`

	IterationCap int `yaml:"iteration_cap"`

	// mandelbrot
	Colors  fractal.ColorFormula `yaml:"colors"`
	Palette fractal.Palette      `yaml:"palette"`

	// nebulabrot
	SamplesPerBatch int           `yaml:"samples_per_batch"`
	HitWeight       float64       `yaml:"hit_weight"`
	Channels        int           `yaml:"channels"`
	Gamma           float64       `yaml:"gamma"`
	Tint            []float64     `yaml:"tint"`
	BatchInterval   time.Duration `yaml:"batch_interval"`
	Seed            uint64        `yaml:"seed"`

	ExportWidth  int `yaml:"export_width"`
	ExportHeight int `yaml:"export_height"`
}

// DefaultConfig returns the defaults for mode.
func DefaultConfig(mode fractal.Mode) Config {
	cfg := Config{
		Mode:            mode,
		XRes:            700,
		YRes:            700,
		IterationCap:    1000,
		SamplesPerBatch: 50_000,
		HitWeight:       1,
		Channels:        3,
		Gamma:           accum.DefaultGamma,
		Tint:            append([]float64(nil), accum.DefaultTint[:]...),
		BatchInterval:   250 * time.Millisecond,
		ExportWidth:     DefaultExportWidth,
		ExportHeight:    int(DefaultExportWidth * DefaultExportAspect),
	}
	if mode == fractal.ModeMandelbrot {
		cfg.XRes = 600
		cfg.YRes = 600
		cfg.IterationCap = 100
	}
	return cfg
}

// LoadConfig reads a YAML file. Keys missing from the file keep the defaults of the
// file's mode (nebulabrot when no mode is given).
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var probe struct {
		Mode string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(b, &probe); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	mode := fractal.ModeNebulabrot
	if probe.Mode != "" {
		if mode, err = fractal.ParseMode(probe.Mode); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig(mode)
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values an engine cannot run with.
func (c Config) Validate() error {
	if _, err := fractal.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := c.Viewport(); err != nil {
		return err
	}
	switch {
	case c.IterationCap < 1:
		return fmt.Errorf("%w: iteration cap %d", fractal.ErrInvalidRequest, c.IterationCap)
	case c.Mode == fractal.ModeMandelbrot:
		return nil
	case c.SamplesPerBatch < 1:
		return fmt.Errorf("%w: samples per batch %d", fractal.ErrInvalidRequest, c.SamplesPerBatch)
	case c.HitWeight < 0 || math.IsNaN(c.HitWeight) || math.IsInf(c.HitWeight, 0):
		return fmt.Errorf("%w: hit weight %v", fractal.ErrInvalidRequest, c.HitWeight)
	case c.Channels != 1 && c.Channels != 3:
		return fmt.Errorf("%w: %d channels", accum.ErrInvalidChannel, c.Channels)
	case c.BatchInterval < 0:
		return fmt.Errorf("negative batch interval %s", c.BatchInterval)
	case len(c.Tint) != 0 && len(c.Tint) != 3:
		return fmt.Errorf("tint needs 3 components, got %d", len(c.Tint))
	}
	return nil
}

// Viewport returns the configured starting window: the named region if any, else the
// canonical one.
func (c Config) Viewport() (fractal.Viewport, error) {
	v := fractal.DefaultViewport(c.XRes, c.YRes)
	if c.Region != "" {
		r, err := fractal.LookupRegion(c.Region)
		if err != nil {
			return fractal.Viewport{}, err
		}
		v = r.Viewport(c.XRes, c.YRes)
	}
	if err := v.Validate(); err != nil {
		return fractal.Viewport{}, err
	}
	return v, nil
}

func (c Config) colorOptions() accum.Options {
	opts := accum.Options{Gamma: c.Gamma}
	if len(c.Tint) == 3 {
		copy(opts.Tint[:], c.Tint)
	}
	return opts
}

func (c Config) exportSize(width, height int) (int, int) {
	if width <= 0 {
		width = c.ExportWidth
		if width <= 0 {
			width = DefaultExportWidth
		}
	}
	if height <= 0 {
		height = c.ExportHeight
		if height <= 0 || width != c.ExportWidth {
			height = int(float64(width) * DefaultExportAspect)
		}
	}
	return width, height
}

package fractal

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidRequest is returned for requests rejected before dispatch.
var ErrInvalidRequest = errors.New("invalid request")

// Mode selects the kernel a request runs on.
type Mode string

const (
	ModeMandelbrot Mode = "mandelbrot"
	ModeNebulabrot Mode = "nebulabrot"
)

// ParseMode accepts the wire names plus "buddhabrot" as an alias of nebulabrot.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeMandelbrot):
		return ModeMandelbrot, nil
	case string(ModeNebulabrot), "buddhabrot":
		return ModeNebulabrot, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// DefaultFormula marks a color channel that uses the built-in periodic formula.
const DefaultFormula = "default"

// ColorFormula holds one restricted formula per color channel, evaluated with the
// escape count bound. Empty or DefaultFormula selects the built-in formula.
type ColorFormula struct {
	R, G, B string
}

// IsDefault reports whether no channel carries a custom formula.
func (f ColorFormula) IsDefault() bool {
	return isDefaultFormula(f.R) && isDefaultFormula(f.G) && isDefaultFormula(f.B)
}

// Channels returns R, G and B in order.
func (f ColorFormula) Channels() [3]string {
	return [3]string{f.R, f.G, f.B}
}

func isDefaultFormula(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == DefaultFormula
}

// IsDefaultFormula reports whether a single channel formula selects the built-in one.
func IsDefaultFormula(s string) bool { return isDefaultFormula(s) }

// Palette is a named built-in coloring for escape-time rasters.
type Palette string

const (
	// PaletteFormula colors by ColorFormula (the default periodic formulas when unset).
	PaletteFormula Palette = ""
	// PaletteHSV colors by smooth iteration count through an HSV ramp.
	PaletteHSV Palette = "hsv"
)

// Request is a compute request. Implementations are *MandelbrotRequest and
// *NebulabrotRequest; a posted request must not be mutated.
type Request interface {
	RequestID() string
	Mode() Mode
	View() Viewport
	Validate() error
	isRequest()
}

// NewRequestID returns a fresh id for correlating responses with requests.
func NewRequestID() string {
	return uuid.NewString()
}

// MandelbrotRequest asks for an escape-time raster.
type MandelbrotRequest struct {
	ID           string
	Viewport     Viewport
	IterationCap int
	Colors       ColorFormula
	Palette      Palette
}

func (r *MandelbrotRequest) RequestID() string { return r.ID }
func (r *MandelbrotRequest) Mode() Mode        { return ModeMandelbrot }
func (r *MandelbrotRequest) View() Viewport    { return r.Viewport }
func (*MandelbrotRequest) isRequest()          {}

func (r *MandelbrotRequest) Validate() error {
	if err := r.Viewport.Validate(); err != nil {
		return err
	}
	if r.IterationCap < 1 {
		return fmt.Errorf("%w: iteration cap %d", ErrInvalidRequest, r.IterationCap)
	}
	switch r.Palette {
	case PaletteFormula, PaletteHSV:
	default:
		return fmt.Errorf("%w: unknown palette %q", ErrInvalidRequest, r.Palette)
	}
	return nil
}

// NebulabrotRequest asks for one batch of Monte-Carlo trajectory hits.
// Seed 0 draws a random seed.
type NebulabrotRequest struct {
	ID           string
	Viewport     Viewport
	IterationCap int
	Samples      int
	HitWeight    float64
	Seed         uint64
}

func (r *NebulabrotRequest) RequestID() string { return r.ID }
func (r *NebulabrotRequest) Mode() Mode        { return ModeNebulabrot }
func (r *NebulabrotRequest) View() Viewport    { return r.Viewport }
func (*NebulabrotRequest) isRequest()          {}

func (r *NebulabrotRequest) Validate() error {
	if err := r.Viewport.Validate(); err != nil {
		return err
	}
	switch {
	case r.IterationCap < 1:
		return fmt.Errorf("%w: iteration cap %d", ErrInvalidRequest, r.IterationCap)
	case r.Samples < 1:
		return fmt.Errorf("%w: samples %d", ErrInvalidRequest, r.Samples)
	case r.HitWeight < 0 || math.IsNaN(r.HitWeight) || math.IsInf(r.HitWeight, 0):
		return fmt.Errorf("%w: hit weight %g", ErrInvalidRequest, r.HitWeight)
	}
	return nil
}

var (
	_ Request = (*MandelbrotRequest)(nil)
	_ Request = (*NebulabrotRequest)(nil)
)

// Response is one message of the stream answering a request: zero or more
// Progress values followed by exactly one RasterResult or Failure.
type Response interface {
	RequestID() string
	isResponse()
}

// RasterResult completes a request successfully.
type RasterResult struct {
	ID     string
	Raster *Raster
}

// Progress reports Index of Total rows (escape-time) or samples (trajectory) done.
// It never carries pixels and never completes a request.
type Progress struct {
	ID    string
	Index int
	Total int
}

// Failure completes a request unsuccessfully. No partial raster is delivered.
type Failure struct {
	ID  string
	Err error
}

func (r RasterResult) RequestID() string { return r.ID }
func (p Progress) RequestID() string     { return p.ID }
func (f Failure) RequestID() string      { return f.ID }

func (RasterResult) isResponse() {}
func (Progress) isResponse()     {}
func (Failure) isResponse()      {}

// Fraction is Index/Total in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, float64(p.Index)/float64(p.Total)))
}

func (f Failure) Error() string {
	if f.Err == nil {
		return "request " + f.ID + " failed"
	}
	return "request " + f.ID + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

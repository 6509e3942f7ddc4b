package worker

import (
	"errors"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"

	fractal "github.com/marben/dist_fractal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformed is returned for wire messages that do not decode into a known variant.
var ErrMalformed = errors.New("malformed message")

// requestMessage is the wire form of a compute request.
type requestMessage struct {
	ID             string       `json:"id"`
	Mode           fractal.Mode `json:"mode"`
	MinX           float64      `json:"minX"`
	MaxX           float64      `json:"maxX"`
	MinY           float64      `json:"minY"`
	MaxY           float64      `json:"maxY"`
	XRes           int32        `json:"xRes"`
	YRes           int32        `json:"yRes"`
	IterationCount int32        `json:"iterationCount"`

	// mandelbrot only
	UseColorFormat bool   `json:"useColorFormat,omitempty"`
	ColorFormatR   string `json:"colorFormatR,omitempty"`
	ColorFormatG   string `json:"colorFormatG,omitempty"`
	ColorFormatB   string `json:"colorFormatB,omitempty"`
	Palette        string `json:"palette,omitempty"`

	// nebulabrot only
	Samples   int32   `json:"samples,omitempty"`
	HitWeight float64 `json:"hitWeight,omitempty"`
	Seed      uint64  `json:"seed,omitempty"`
}

const (
	kindRaster   = "raster"
	kindProgress = "progress"
	kindFailure  = "failure"
)

// responseMessage is the wire form of one response.
type responseMessage struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Pix      []byte `json:"pix,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Total    int    `json:"total,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RemoteError is a failure reported by the other end of a connection.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "remote: " + e.Msg }

func toInt32(name string, v int) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s %d overflows int32", fractal.ErrInvalidRequest, name, v)
	}
	return int32(v), nil
}

// EncodeRequest marshals req into its wire form.
func EncodeRequest(req fractal.Request) ([]byte, error) {
	v := req.View()
	msg := requestMessage{
		ID:   req.RequestID(),
		Mode: req.Mode(),
		MinX: v.MinX,
		MaxX: v.MaxX,
		MinY: v.MinY,
		MaxY: v.MaxY,
	}
	var err error
	if msg.XRes, err = toInt32("xRes", v.XRes); err != nil {
		return nil, err
	}
	if msg.YRes, err = toInt32("yRes", v.YRes); err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case *fractal.MandelbrotRequest:
		if msg.IterationCount, err = toInt32("iterationCount", r.IterationCap); err != nil {
			return nil, err
		}
		msg.UseColorFormat = !r.Colors.IsDefault()
		if msg.UseColorFormat {
			msg.ColorFormatR = orDefault(r.Colors.R)
			msg.ColorFormatG = orDefault(r.Colors.G)
			msg.ColorFormatB = orDefault(r.Colors.B)
		}
		msg.Palette = string(r.Palette)
	case *fractal.NebulabrotRequest:
		if msg.IterationCount, err = toInt32("iterationCount", r.IterationCap); err != nil {
			return nil, err
		}
		if msg.Samples, err = toInt32("samples", r.Samples); err != nil {
			return nil, err
		}
		msg.HitWeight = r.HitWeight
		msg.Seed = r.Seed
	default:
		return nil, fmt.Errorf("%w: unsupported request type %T", fractal.ErrInvalidRequest, req)
	}
	return json.Marshal(msg)
}

func orDefault(s string) string {
	if fractal.IsDefaultFormula(s) {
		return fractal.DefaultFormula
	}
	return s
}

func decodeRequestMessage(b []byte) (requestMessage, error) {
	var msg requestMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

func (msg requestMessage) request() (fractal.Request, error) {
	view := fractal.Viewport{
		MinX: msg.MinX,
		MaxX: msg.MaxX,
		MinY: msg.MinY,
		MaxY: msg.MaxY,
		XRes: int(msg.XRes),
		YRes: int(msg.YRes),
	}
	switch msg.Mode {
	case fractal.ModeMandelbrot:
		r := &fractal.MandelbrotRequest{
			ID:           msg.ID,
			Viewport:     view,
			IterationCap: int(msg.IterationCount),
			Palette:      fractal.Palette(msg.Palette),
		}
		if msg.UseColorFormat {
			r.Colors = fractal.ColorFormula{R: msg.ColorFormatR, G: msg.ColorFormatG, B: msg.ColorFormatB}
		}
		return r, nil
	case fractal.ModeNebulabrot:
		return &fractal.NebulabrotRequest{
			ID:           msg.ID,
			Viewport:     view,
			IterationCap: int(msg.IterationCount),
			Samples:      int(msg.Samples),
			HitWeight:    msg.HitWeight,
			Seed:         msg.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrMalformed, msg.Mode)
	}
}

// DecodeRequest unmarshals a wire request. The request is not validated.
func DecodeRequest(b []byte) (fractal.Request, error) {
	msg, err := decodeRequestMessage(b)
	if err != nil {
		return nil, err
	}
	return msg.request()
}

// EncodeResponse marshals resp into its wire form.
func EncodeResponse(resp fractal.Response) ([]byte, error) {
	var msg responseMessage
	switch r := resp.(type) {
	case fractal.RasterResult:
		if err := r.Raster.Validate(); err != nil {
			return nil, fmt.Errorf("encode raster %s: %w", r.ID, err)
		}
		msg = responseMessage{ID: r.ID, Kind: kindRaster, Width: r.Raster.Width, Height: r.Raster.Height, Pix: r.Raster.Pix}
	case fractal.Progress:
		msg = responseMessage{ID: r.ID, Kind: kindProgress, Progress: r.Index, Total: r.Total}
	case fractal.Failure:
		text := "unknown failure"
		if r.Err != nil {
			text = r.Err.Error()
		}
		msg = responseMessage{ID: r.ID, Kind: kindFailure, Error: text}
	default:
		return nil, fmt.Errorf("unsupported response type %T", resp)
	}
	return json.Marshal(msg)
}

// DecodeResponse unmarshals a wire response into its typed variant.
func DecodeResponse(b []byte) (fractal.Response, error) {
	var msg responseMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Kind {
	case kindRaster:
		img := &fractal.Raster{Width: msg.Width, Height: msg.Height, Pix: msg.Pix}
		if err := img.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fractal.RasterResult{ID: msg.ID, Raster: img}, nil
	case kindProgress:
		return fractal.Progress{ID: msg.ID, Index: msg.Progress, Total: msg.Total}, nil
	case kindFailure:
		return fractal.Failure{ID: msg.ID, Err: &RemoteError{Msg: msg.Error}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, msg.Kind)
	}
}

// responseID extracts the request id of a response that failed to decode, or ""
// when the message is not even a JSON object with an id.
func responseID(b []byte) string {
	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		return ""
	}
	return msg.ID
}

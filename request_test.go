package fractal

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	view := DefaultViewport(8, 8)
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"mandelbrot ok", &MandelbrotRequest{Viewport: view, IterationCap: 10}, nil},
		{"mandelbrot hsv", &MandelbrotRequest{Viewport: view, IterationCap: 10, Palette: PaletteHSV}, nil},
		{"mandelbrot zero cap", &MandelbrotRequest{Viewport: view}, ErrInvalidRequest},
		{"mandelbrot palette", &MandelbrotRequest{Viewport: view, IterationCap: 1, Palette: "plasma"}, ErrInvalidRequest},
		{"mandelbrot viewport", &MandelbrotRequest{IterationCap: 10}, ErrInvalidViewport},
		{"nebulabrot ok", &NebulabrotRequest{Viewport: view, IterationCap: 10, Samples: 5, HitWeight: 1}, nil},
		{"nebulabrot samples", &NebulabrotRequest{Viewport: view, IterationCap: 10, HitWeight: 1}, ErrInvalidRequest},
		{"nebulabrot weight", &NebulabrotRequest{Viewport: view, IterationCap: 10, Samples: 5, HitWeight: -1}, ErrInvalidRequest},
		{"nebulabrot nan weight", &NebulabrotRequest{Viewport: view, IterationCap: 10, Samples: 5, HitWeight: math.NaN()}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestColorFormulaDefaults(t *testing.T) {
	assert.True(t, ColorFormula{}.IsDefault())
	assert.True(t, ColorFormula{R: "default", G: " ", B: ""}.IsDefault())
	assert.False(t, ColorFormula{G: "iters * 2"}.IsDefault())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Buddhabrot")
	require.NoError(t, err)
	assert.Equal(t, ModeNebulabrot, m)

	_, err = ParseMode("julia")
	assert.Error(t, err)
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 0.5, Progress{Index: 300, Total: 600}.Fraction())
	assert.Equal(t, 0.0, Progress{Index: 3}.Fraction())
	assert.Equal(t, 1.0, Progress{Index: 9, Total: 3}.Fraction())
}

func TestFailureUnwrap(t *testing.T) {
	f := Failure{ID: "x", Err: ErrInvalidRequest}
	assert.ErrorIs(t, f, ErrInvalidRequest)
	assert.Contains(t, f.Error(), "x")
}

func TestBlankRasterIsOpaqueBlack(t *testing.T) {
	r := NewBlankRaster(3, 2)
	require.NoError(t, r.Validate())
	for i := 0; i < len(r.Pix); i += 4 {
		assert.Equal(t, []byte{0, 0, 0, 255}, r.Pix[i:i+4])
	}
}

func TestEncodeFormats(t *testing.T) {
	r := NewBlankRaster(4, 4)
	r.SetRGB(1, 2, 10, 20, 30)
	assert.Equal(t, 60, r.Intensity(2*4+1))

	for _, f := range []Format{FormatPNG, FormatTIFF, FormatBMP} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, r, f), f)
		assert.NotZero(t, buf.Len(), f)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, r, FormatPNG))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	red, green, blue, alpha := img.At(1, 2).RGBA()
	assert.Equal(t, []uint32{10, 20, 30, 255}, []uint32{red >> 8, green >> 8, blue >> 8, alpha >> 8})

	assert.Error(t, Encode(&buf, &Raster{Width: 2, Height: 2}, FormatPNG))
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"out.png":  FormatPNG,
		"out.TIFF": FormatTIFF,
		"a/b.tif":  FormatTIFF,
		"x.bmp":    FormatBMP,
		"noext":    FormatPNG,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := FormatFromPath("x.gif")
	assert.Error(t, err)
}

package accum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fractal "github.com/marben/dist_fractal"
)

func batch(w, h int, hits map[int][3]uint8) *fractal.Raster {
	r := fractal.NewBlankRaster(w, h)
	for p, rgb := range hits {
		r.SetRGB(p%w, p/w, rgb[0], rgb[1], rgb[2])
	}
	return r
}

func TestNewBuffer(t *testing.T) {
	for _, ch := range []int{0, 2, 4, -1} {
		_, err := NewBuffer(ch, 4, 4)
		assert.ErrorIs(t, err, ErrInvalidChannel, "channels %d", ch)
	}
	_, err := NewBuffer(1, 0, 4)
	assert.Error(t, err)

	b, err := NewBuffer(3, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Channels())
	assert.Equal(t, 5, b.Width())
	assert.Equal(t, 2, b.Height())
}

func TestMerge(t *testing.T) {
	b, err := NewBuffer(3, 3, 2)
	require.NoError(t, err)

	require.NoError(t, b.Merge(1, batch(3, 2, map[int][3]uint8{0: {2, 0, 0}, 4: {255, 255, 10}}), 1))
	assert.Equal(t, float32(2), b.At(1, 0))
	assert.Equal(t, float32(520), b.At(1, 4))
	assert.Equal(t, float32(520), b.Max(1))
	assert.Zero(t, b.Max(0))
	assert.Zero(t, b.At(0, 4))

	require.NoError(t, b.Merge(1, batch(3, 2, map[int][3]uint8{0: {4, 0, 0}}), 0.5))
	assert.Equal(t, float32(4), b.At(1, 0))
	assert.Equal(t, float32(520), b.Max(1))
}

func TestMerge_MaxMonotone(t *testing.T) {
	b, err := NewBuffer(1, 2, 2)
	require.NoError(t, err)

	var last float32
	for i, w := range []float64{1, 0, 3, 0.25, 0, 2} {
		require.NoError(t, b.Merge(0, batch(2, 2, map[int][3]uint8{i % 4: {uint8(10 * (i + 1)), 0, 0}}), w))
		assert.GreaterOrEqual(t, b.Max(0), last)
		last = b.Max(0)
	}
}

func TestMerge_Rejects(t *testing.T) {
	b, err := NewBuffer(3, 2, 2)
	require.NoError(t, err)
	r := batch(2, 2, map[int][3]uint8{0: {9, 0, 0}})

	assert.ErrorIs(t, b.Merge(0, batch(3, 2, nil), 1), ErrSizeMismatch)
	assert.ErrorIs(t, b.Merge(3, r, 1), ErrInvalidChannel)
	assert.ErrorIs(t, b.Merge(-1, r, 1), ErrInvalidChannel)
	assert.Error(t, b.Merge(0, r, -1))
	assert.Error(t, b.Merge(0, r, math.NaN()))
	assert.Error(t, b.Merge(0, r, math.Inf(1)))
	assert.Error(t, b.Merge(0, &fractal.Raster{Width: 2, Height: 2}, 1))

	for c := 0; c < 3; c++ {
		assert.Zero(t, b.Max(c))
	}
}

func TestReset(t *testing.T) {
	b, err := NewBuffer(3, 2, 2)
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		require.NoError(t, b.Merge(c, batch(2, 2, map[int][3]uint8{1: {7, 7, 7}}), 1))
	}
	b.Reset()

	for c := 0; c < 3; c++ {
		assert.Zero(t, b.Max(c))
		for p := 0; p < 4; p++ {
			assert.Zero(t, b.At(c, p))
		}
	}
	assert.Equal(t, fractal.NewBlankRaster(2, 2), Colorize(b, Options{}))
}

func TestColorize_Empty(t *testing.T) {
	b, err := NewBuffer(1, 4, 3)
	require.NoError(t, err)
	out := Colorize(b, Options{})
	assert.Equal(t, fractal.NewBlankRaster(4, 3), out)
}

func TestColorize_SingleChannelTint(t *testing.T) {
	b, err := NewBuffer(1, 2, 1)
	require.NoError(t, err)
	require.NoError(t, b.Merge(0, batch(2, 1, map[int][3]uint8{0: {100, 0, 0}}), 1))

	out := Colorize(b, Options{})
	assert.Equal(t, []byte{255, 191, 114, 255, 0, 0, 0, 255}, out.Pix)

	out = Colorize(b, Options{Tint: [3]float64{0, 1, 0}})
	assert.Equal(t, []byte{0, 255, 0, 255}, out.Pix[:4])
}

func TestColorize_ThreeChannels(t *testing.T) {
	b, err := NewBuffer(3, 2, 1)
	require.NoError(t, err)
	require.NoError(t, b.Merge(0, batch(2, 1, map[int][3]uint8{0: {10, 0, 0}, 1: {20, 0, 0}}), 1))
	require.NoError(t, b.Merge(2, batch(2, 1, map[int][3]uint8{1: {5, 0, 0}}), 1))

	out := Colorize(b, Options{Gamma: 1})
	assert.Equal(t, []byte{127, 0, 0, 255, 255, 0, 255, 255}, out.Pix)

	// gamma below one lifts faint cells without moving the extremes
	lifted := Colorize(b, Options{})
	assert.Greater(t, lifted.Pix[0], out.Pix[0])
	assert.Equal(t, uint8(255), lifted.Pix[4])
	for i := 3; i < len(lifted.Pix); i += 4 {
		assert.Equal(t, uint8(255), lifted.Pix[i])
	}
}

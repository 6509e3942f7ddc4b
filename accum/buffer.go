// Package accum accumulates trajectory-density batches and maps them to colors.
package accum

import (
	"errors"
	"fmt"
	"math"

	fractal "github.com/marben/dist_fractal"
)

var (
	// ErrSizeMismatch is returned when a batch raster does not match the buffer resolution.
	ErrSizeMismatch = errors.New("raster size does not match buffer")
	// ErrInvalidChannel is returned for a channel index or count out of range.
	ErrInvalidChannel = errors.New("invalid channel")
)

// Buffer holds one plane of float32 densities per channel and the running maximum of each.
type Buffer struct {
	width, height int
	planes        [][]float32
	max           []float32
}

// NewBuffer allocates a zeroed buffer. channels must be 1 or 3.
func NewBuffer(channels, width, height int) (*Buffer, error) {
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidChannel, channels)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: buffer %dx%d", ErrSizeMismatch, width, height)
	}
	b := &Buffer{
		width:  width,
		height: height,
		planes: make([][]float32, channels),
		max:    make([]float32, channels),
	}
	for i := range b.planes {
		b.planes[i] = make([]float32, width*height)
	}
	return b, nil
}

func (b *Buffer) Channels() int { return len(b.planes) }
func (b *Buffer) Width() int    { return b.width }
func (b *Buffer) Height() int   { return b.height }

// Max returns the largest cell value ever seen on channel since the last Reset.
func (b *Buffer) Max(channel int) float32 { return b.max[channel] }

// At returns the cell of pixel p (row-major) on channel.
func (b *Buffer) At(channel, p int) float32 { return b.planes[channel][p] }

// Merge adds the intensity of every pixel of r, scaled by weight, to channel.
// The buffer is left untouched on error.
func (b *Buffer) Merge(channel int, r *fractal.Raster, weight float64) error {
	if channel < 0 || channel >= len(b.planes) {
		return fmt.Errorf("%w: channel %d of %d", ErrInvalidChannel, channel, len(b.planes))
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if r.Width != b.width || r.Height != b.height {
		return fmt.Errorf("%w: raster %dx%d, buffer %dx%d", ErrSizeMismatch, r.Width, r.Height, b.width, b.height)
	}
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("merge: invalid weight %v", weight)
	}

	plane := b.planes[channel]
	w := float32(weight)
	m := b.max[channel]
	for p := range plane {
		hits := r.Intensity(p)
		if hits == 0 {
			continue
		}
		plane[p] += float32(hits) * w
		if plane[p] > m {
			m = plane[p]
		}
	}
	b.max[channel] = m
	return nil
}

// Reset zeroes every cell and maximum.
func (b *Buffer) Reset() {
	for i, plane := range b.planes {
		clear(plane)
		b.max[i] = 0
	}
}

// Package image provides float32 image planes for the aligner's software
// device: mip chains built with a 2x2 box filter and mirrored-repeat
// bilinear sampling.
package image

import (
	"errors"

	"github.com/ajroetker/go-highway/hwy/contrib/algo"
)

// Common errors for image operations.
var (
	// ErrInvalidDimensions is returned when width, height or channel count
	// is non-positive.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrDataSize is returned when provided data does not match the plane size.
	ErrDataSize = errors.New("image: data size mismatch")
)

// Plane is a width x height image of interleaved float32 channels, stored
// row-major, top-to-bottom, with no row padding.
//
// Thread safety: Plane is safe for concurrent reads. Writers must touch
// disjoint rows or synchronize externally.
type Plane struct {
	width    int
	height   int
	channels int
	pix      []float32
}

// NewPlane creates a zeroed plane.
func NewPlane(width, height, channels int) (*Plane, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, ErrInvalidDimensions
	}
	return &Plane{
		width:    width,
		height:   height,
		channels: channels,
		pix:      make([]float32, width*height*channels),
	}, nil
}

// FromPix creates a plane over an existing slice without copying.
func FromPix(pix []float32, width, height, channels int) (*Plane, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, ErrInvalidDimensions
	}
	if len(pix) != width*height*channels {
		return nil, ErrDataSize
	}
	return &Plane{width: width, height: height, channels: channels, pix: pix}, nil
}

// Width returns the plane width in texels.
func (p *Plane) Width() int { return p.width }

// Height returns the plane height in texels.
func (p *Plane) Height() int { return p.height }

// Channels returns the number of channels per texel.
func (p *Plane) Channels() int { return p.channels }

// Bounds returns width and height.
func (p *Plane) Bounds() (int, int) { return p.width, p.height }

// Pix returns the backing slice.
func (p *Plane) Pix() []float32 { return p.pix }

// Row returns the texels of row y.
func (p *Plane) Row(y int) []float32 {
	stride := p.width * p.channels
	return p.pix[y*stride : (y+1)*stride]
}

// Texel returns the channels of texel (x, y). The slice aliases the plane.
func (p *Plane) Texel(x, y int) []float32 {
	i := (y*p.width + x) * p.channels
	return p.pix[i : i+p.channels]
}

// CopyFrom replaces the plane contents.
func (p *Plane) CopyFrom(src []float32) error {
	if len(src) != len(p.pix) {
		return ErrDataSize
	}
	copy(p.pix, src)
	return nil
}

// Clear sets every channel of every texel to zero.
func (p *Plane) Clear() {
	algo.Fill(p.pix, 0)
}

// ClearRows zeroes rows [y0, y1).
func (p *Plane) ClearRows(y0, y1 int) {
	stride := p.width * p.channels
	algo.Fill(p.pix[y0*stride:y1*stride], 0)
}

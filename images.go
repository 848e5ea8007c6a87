package aligner

import (
	"fmt"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"
)

// Images is the pixel data an engine aligns. Base and Target are linear
// RGBA float32, row-major, top-to-bottom, Width*Height*4 values each.
type Images struct {
	Width  int
	Height int
	Base   []float32
	Target []float32
}

// Validate checks the dimensions and the pixel slice lengths.
func (im Images) Validate() error {
	if im.Width < 1 || im.Height < 1 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidArgument, im.Width, im.Height)
	}
	want := im.Width * im.Height * 4
	if len(im.Base) != want {
		return fmt.Errorf("%w: base image has %d values (%d bytes), want %d (%d bytes)",
			ErrInvalidArgument, len(im.Base), len(im.Base)*4, want, want*4)
	}
	if len(im.Target) != want {
		return fmt.Errorf("%w: target image has %d values (%d bytes), want %d (%d bytes)",
			ErrInvalidArgument, len(im.Target), len(im.Target)*4, want, want*4)
	}
	return nil
}

// PixelsFromBytes decodes little-endian float32 pixel data.
func PixelsFromBytes(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 values", ErrInvalidArgument, len(b))
	}
	out := make([]float32, len(b)/4)
	vec.DecodeFloat32s(b, out)
	return out, nil
}

// PixelsToBytes encodes pixels as little-endian float32 data.
func PixelsToBytes(p []float32) []byte {
	b := make([]byte, len(p)*4)
	vec.EncodeFloat32s(b, p)
	return b
}

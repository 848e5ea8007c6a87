package aligner

import (
	"fmt"
	"math/bits"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// PyramidReducer records mip chain generation.
//
// Each level is built from the previous one with a 2x2 box filter and is
// followed by a barrier, so no level is read before it has been written.
// For a power-of-two square texture the 1x1 level is the exact mean of
// level 0.
type PyramidReducer struct {
	device gpucore.Device
}

// NewPyramidReducer creates a reducer for textures of d.
func NewPyramidReducer(d gpucore.Device) *PyramidReducer {
	return &PyramidReducer{device: d}
}

// Record appends the commands that regenerate every level of tex above 0.
// It fails with ErrUnsupportedFormat if the device cannot linearly filter
// the texture format.
func (r *PyramidReducer) Record(enc *gpucore.CommandEncoder, tex gpucore.TextureID, desc gpucore.TextureDesc) error {
	if !r.device.SupportsLinearFilter(desc.Format) {
		return fmt.Errorf("%w: %s does not support linear filtering on %s",
			ErrUnsupportedFormat, desc.Format, r.device.Name())
	}
	for level := 1; level < desc.Levels(); level++ {
		enc.Record(gpucore.Downsample{Texture: tex, Level: level})
		enc.Record(gpucore.Barrier{Texture: tex, Level: level})
	}
	return nil
}

// CostLevel returns the first mip level of a side x side canvas at which
// the workW x workH region covers at most costArea texels. It never goes
// past the 1x1 level.
func CostLevel(workW, workH, side, costArea int) int {
	last := bits.Len(uint(side)) - 1
	for level := range last {
		w, h := regionFootprint(workW, workH, level)
		if w*h <= costArea {
			return level
		}
	}
	return max(last, 0)
}

// regionFootprint returns how many texels of a mip level the top-left
// workW x workH region touches.
func regionFootprint(workW, workH, level int) (int, int) {
	return ceilDiv(workW, 1<<level), ceilDiv(workH, 1<<level)
}

package wgpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

//go:embed shaders/clear.wgsl
var clearShaderWGSL string

//go:embed shaders/draw_grid.wgsl
var drawGridShaderWGSL string

//go:embed shaders/difference.wgsl
var differenceShaderWGSL string

//go:embed shaders/downsample.wgsl
var downsampleShaderWGSL string

type kernelID int

const (
	kernelClear kernelID = iota
	kernelDrawGrid
	kernelDifference
	kernelDownsample
	numKernels
)

// kernelDef describes a compute kernel. Binding 0 is always the Params
// uniform; bindings lists the storage buffers that follow it.
type kernelDef struct {
	name     string
	source   string
	bindings []gputypes.BufferBindingType
}

var kernelDefs = [numKernels]kernelDef{
	kernelClear: {
		name:     "clear",
		source:   clearShaderWGSL,
		bindings: []gputypes.BufferBindingType{gputypes.BufferBindingTypeStorage},
	},
	kernelDrawGrid: {
		name:   "draw_grid",
		source: drawGridShaderWGSL,
		bindings: []gputypes.BufferBindingType{
			gputypes.BufferBindingTypeReadOnlyStorage, // vertices
			gputypes.BufferBindingTypeReadOnlyStorage, // indices
			gputypes.BufferBindingTypeReadOnlyStorage, // source
			gputypes.BufferBindingTypeStorage,         // target
		},
	},
	kernelDifference: {
		name:   "difference",
		source: differenceShaderWGSL,
		bindings: []gputypes.BufferBindingType{
			gputypes.BufferBindingTypeReadOnlyStorage, // warped
			gputypes.BufferBindingTypeReadOnlyStorage, // target
			gputypes.BufferBindingTypeStorage,         // canvas
		},
	},
	kernelDownsample: {
		name:     "downsample",
		source:   downsampleShaderWGSL,
		bindings: []gputypes.BufferBindingType{gputypes.BufferBindingTypeStorage},
	},
}

func (k kernelID) String() string {
	if k < 0 || k >= numKernels {
		return "unknown"
	}
	return kernelDefs[k].name
}

// compileSPIRV compiles WGSL source to little-endian SPIR-V words.
func compileSPIRV(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile shader: SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}

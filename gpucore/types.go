package gpucore

import (
	"fmt"
	"math/bits"
)

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// TextureID is an opaque handle to a texture with its mip chain.
type TextureID uint64

// MeshID is an opaque handle to a grid mesh (vertices + immutable indices).
type MeshID uint64

// BufferID is an opaque handle to a host-readable readback buffer.
type BufferID uint64

// FenceID is an opaque handle to a timeline fence.
type FenceID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float TextureFormat = iota + 1

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatR32Uint is 32-bit red channel only, unsigned integer.
	// It cannot be linearly filtered.
	TextureFormatR32Uint
)

// Channels returns the number of interleaved channels per texel.
func (f TextureFormat) Channels() int {
	switch f {
	case TextureFormatRGBA32Float:
		return 4
	case TextureFormatR32Float, TextureFormatR32Uint:
		return 1
	default:
		return 0
	}
}

// Filterable reports whether the format supports linear filtering.
func (f TextureFormat) Filterable() bool {
	return f == TextureFormatRGBA32Float || f == TextureFormatR32Float
}

// String returns a string representation of the format.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA32Float:
		return "RGBA32Float"
	case TextureFormatR32Float:
		return "R32Float"
	case TextureFormatR32Uint:
		return "R32Uint"
	default:
		return fmt.Sprintf("TextureFormat(%d)", uint32(f))
	}
}

// TextureDesc describes a texture.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the level 0 dimensions in texels.
	Width  int
	Height int

	// Format is the texel format.
	Format TextureFormat

	// MipLevels is the number of mip levels. 0 is treated as 1.
	MipLevels int
}

// Levels returns the effective mip level count.
func (d TextureDesc) Levels() int {
	return max(1, d.MipLevels)
}

// LevelSize returns the dimensions of a mip level.
func (d TextureDesc) LevelSize(level int) (w, h int) {
	return LevelSize(d.Width, d.Height, level)
}

// Validate checks dimensions, format and mip count.
func (d TextureDesc) Validate() error {
	if d.Width < 1 || d.Height < 1 {
		return fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidDescriptor, d.Label, d.Width, d.Height)
	}
	if d.Format.Channels() == 0 {
		return fmt.Errorf("%w: texture %q has format %s", ErrInvalidDescriptor, d.Label, d.Format)
	}
	if d.Levels() > FullMipLevels(d.Width, d.Height) {
		return fmt.Errorf("%w: texture %q requests %d mip levels, at most %d fit",
			ErrInvalidDescriptor, d.Label, d.Levels(), FullMipLevels(d.Width, d.Height))
	}
	return nil
}

// LevelSize returns max(1, w>>level) x max(1, h>>level).
func LevelSize(w, h, level int) (int, int) {
	return max(1, w>>level), max(1, h>>level)
}

// FullMipLevels returns the number of levels needed to reach 1x1
// when every level floors both axes by two.
func FullMipLevels(w, h int) int {
	m := max(w, h)
	if m < 1 {
		return 0
	}
	return bits.Len(uint(m))
}

// Vertex is a single grid vertex as laid out in device memory.
// Must match the Vertex struct in draw_grid.wgsl.
type Vertex struct {
	WarpedX float32 // Output position X, normalized
	WarpedY float32 // Output position Y, normalized
	OrigX   float32 // Sampling coordinate X, normalized
	OrigY   float32 // Sampling coordinate Y, normalized
}

// VertexSize is the size of a Vertex in bytes.
const VertexSize = 16

// MeshDesc describes a triangle mesh.
type MeshDesc struct {
	// Label is an optional debug label.
	Label string

	// VertexCount is the fixed number of vertices.
	VertexCount int

	// Indices lists triangle corners, three per triangle. Immutable
	// after creation.
	Indices []uint32
}

// Validate checks index count and range.
func (d MeshDesc) Validate() error {
	if d.VertexCount < 3 {
		return fmt.Errorf("%w: mesh %q has %d vertices", ErrInvalidDescriptor, d.Label, d.VertexCount)
	}
	if len(d.Indices) == 0 || len(d.Indices)%3 != 0 {
		return fmt.Errorf("%w: mesh %q has %d indices", ErrInvalidDescriptor, d.Label, len(d.Indices))
	}
	for i, idx := range d.Indices {
		if int(idx) >= d.VertexCount {
			return fmt.Errorf("%w: mesh %q index %d = %d out of range", ErrInvalidDescriptor, d.Label, i, idx)
		}
	}
	return nil
}

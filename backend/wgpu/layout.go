package wgpu

import (
	"encoding/binary"
	"math"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

const (
	// levelAlign is the float alignment of each mip level inside a texture
	// buffer (256 bytes, the WebGPU storage offset alignment).
	levelAlign = 64

	// paramsSize is the byte size of the Params uniform shared by all kernels.
	paramsSize = 64

	// workgroupSize is the x/y workgroup edge of every kernel.
	workgroupSize = 8

	// maxDispatchZ caps triangles per draw_grid dispatch.
	maxDispatchZ = 65535

	// defaultMaxBufferSize matches the WebGPU default
	// maxStorageBufferBindingSize.
	defaultMaxBufferSize = 128 << 20
)

// textureLayout places every mip level of a texture in one buffer.
type textureLayout struct {
	channels int
	widths   []int
	heights  []int
	offsets  []int
	total    int
}

func newTextureLayout(desc gpucore.TextureDesc) textureLayout {
	n := desc.Levels()
	l := textureLayout{
		channels: desc.Format.Channels(),
		widths:   make([]int, n),
		heights:  make([]int, n),
		offsets:  make([]int, n),
	}
	off := 0
	for i := range n {
		w, h := desc.LevelSize(i)
		l.widths[i], l.heights[i], l.offsets[i] = w, h, off
		off += alignUp(w*h*l.channels, levelAlign)
	}
	l.total = off
	return l
}

// levels returns the number of mip levels.
func (l textureLayout) levels() int { return len(l.offsets) }

// floats returns the number of values in a level.
func (l textureLayout) floats(level int) int {
	return l.widths[level] * l.heights[level] * l.channels
}

// bytes returns the size of the backing buffer.
func (l textureLayout) bytes() uint64 { return uint64(l.total) * 4 }

func alignUp(n, a int) int { return (n + a - 1) / a * a }

// params mirrors the Params struct declared by every WGSL kernel.
// Unused fields are left zero.
type params struct {
	srcW, srcH, srcOff, srcCh uint32
	dstW, dstH, dstOff, dstCh uint32
	regionW, regionH          uint32
	auxW, triCount            uint32
	mulA, mulB                float32
	triBase                   uint32
}

func (p *params) encode() []byte {
	b := make([]byte, paramsSize)
	words := [...]uint32{
		p.srcW, p.srcH, p.srcOff, p.srcCh,
		p.dstW, p.dstH, p.dstOff, p.dstCh,
		p.regionW, p.regionH, p.auxW, p.triCount,
		math.Float32bits(p.mulA), math.Float32bits(p.mulB), p.triBase, 0,
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// groups returns the number of workgroups covering n invocations.
func groups(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// triangleExtent returns the largest per-triangle pixel footprint the
// draw_grid kernel has to cover in a w x h target, using the same
// float32 bounding box rule as the shader.
func triangleExtent(vertices []gpucore.Vertex, indices []uint32, w, h int) (int, int) {
	fw, fh := float32(w), float32(h)
	var maxW, maxH int
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := vertices[indices[i]], vertices[indices[i+1]], vertices[indices[i+2]]
		loX := min(a.WarpedX, b.WarpedX, c.WarpedX) * fw
		hiX := max(a.WarpedX, b.WarpedX, c.WarpedX) * fw
		loY := min(a.WarpedY, b.WarpedY, c.WarpedY) * fh
		hiY := max(a.WarpedY, b.WarpedY, c.WarpedY) * fh
		if !finite(loX) || !finite(hiX) || !finite(loY) || !finite(hiY) {
			continue
		}
		x0 := max(int(math.Ceil(float64(loX-0.5))), 0)
		x1 := min(int(math.Floor(float64(hiX-0.5))), w-1)
		y0 := max(int(math.Ceil(float64(loY-0.5))), 0)
		y1 := min(int(math.Floor(float64(hiY-0.5))), h-1)
		if x1 < x0 || y1 < y0 {
			continue
		}
		maxW = max(maxW, x1-x0+1)
		maxH = max(maxH, y1-y0+1)
	}
	return maxW, maxH
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// encodeFloats converts values to little-endian bytes.
func encodeFloats(src []float32) []byte {
	b := make([]byte, len(src)*4)
	vec.EncodeFloat32s(b, src)
	return b
}

// decodeFloats fills dst from little-endian bytes.
func decodeFloats(src []byte, dst []float32) {
	vec.DecodeFloat32s(src, dst)
}

// encodeVertices packs vertices in the std430 layout of the WGSL Vertex
// struct (two vec2<f32>).
func encodeVertices(vs []gpucore.Vertex) []byte {
	flat := make([]float32, 0, len(vs)*4)
	for _, v := range vs {
		flat = append(flat, v.WarpedX, v.WarpedY, v.OrigX, v.OrigY)
	}
	return encodeFloats(flat)
}

func encodeIndices(idx []uint32) []byte {
	b := make([]byte, len(idx)*4)
	for i, v := range idx {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

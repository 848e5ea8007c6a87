// Package cpu implements gpucore.Device in software.
//
// Every command runs synchronously inside Submit, split into row bands on
// a persistent go-highway worker pool. Results are deterministic: row
// bands are disjoint and, within a band, grid triangles are drawn in index
// order.
package cpu

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
	"github.com/bean-mhm/img-aligner-sub001/internal/image"
)

// Name is the backend identifier.
const Name = "cpu"

// texture is a texture with its mip chain.
type texture struct {
	desc  gpucore.TextureDesc
	chain *image.MipmapChain
}

// mesh holds the latest vertices and the immutable indices.
type mesh struct {
	desc     gpucore.MeshDesc
	vertices []gpucore.Vertex
}

// Device is a software gpucore.Device.
//
// Thread safety: Device is safe for concurrent use. Resource maps are
// guarded by an RWMutex; command execution only holds the read lock.
type Device struct {
	mu       sync.RWMutex
	textures map[gpucore.TextureID]*texture
	meshes   map[gpucore.MeshID]*mesh
	buffers  map[gpucore.BufferID][]float32
	fences   map[gpucore.FenceID]*atomic.Uint64
	closed   bool

	nextID atomic.Uint64
	pool   *workerpool.Pool
}

var _ gpucore.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers sets the number of kernel workers. 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// New creates a software device.
func New(opts ...Option) *Device {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Device{
		textures: make(map[gpucore.TextureID]*texture),
		meshes:   make(map[gpucore.MeshID]*mesh),
		buffers:  make(map[gpucore.BufferID][]float32),
		fences:   make(map[gpucore.FenceID]*atomic.Uint64),
		pool:     workerpool.New(o.workers),
	}
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return Name }

// SupportsLinearFilter implements gpucore.Device.
func (d *Device) SupportsLinearFilter(f gpucore.TextureFormat) bool { return f.Filterable() }

func (d *Device) newID() uint64 { return d.nextID.Add(1) }

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if err := desc.Validate(); err != nil {
		return gpucore.InvalidID, err
	}
	chain, err := image.NewMipmapChain(desc.Width, desc.Height, desc.Format.Channels(), desc.Levels())
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("cpu: texture %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.TextureID(d.newID())
	d.textures[id] = &texture{desc: desc, chain: chain}
	return id, nil
}

// WriteTexture implements gpucore.Device.
func (d *Device) WriteTexture(id gpucore.TextureID, level int, data []float32) error {
	tex, err := d.texture(id)
	if err != nil {
		return err
	}
	plane := tex.chain.Level(level)
	if plane == nil {
		return fmt.Errorf("%w: texture %q has no level %d", gpucore.ErrInvalidCommand, tex.desc.Label, level)
	}
	if err := plane.CopyFrom(data); err != nil {
		return fmt.Errorf("cpu: write texture %q level %d: got %d values, want %d: %w",
			tex.desc.Label, level, len(data), len(plane.Pix()), err)
	}
	return nil
}

// DestroyTexture implements gpucore.Device.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	delete(d.textures, id)
	d.mu.Unlock()
}

// CreateMesh implements gpucore.Device.
func (d *Device) CreateMesh(desc gpucore.MeshDesc) (gpucore.MeshID, error) {
	if err := desc.Validate(); err != nil {
		return gpucore.InvalidID, err
	}
	m := &mesh{
		desc:     desc,
		vertices: make([]gpucore.Vertex, desc.VertexCount),
	}
	m.desc.Indices = append([]uint32(nil), desc.Indices...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.MeshID(d.newID())
	d.meshes[id] = m
	return id, nil
}

// WriteVertices implements gpucore.Device.
func (d *Device) WriteVertices(id gpucore.MeshID, vertices []gpucore.Vertex) error {
	d.mu.RLock()
	m, ok := d.meshes[id]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return gpucore.ErrDeviceClosed
	}
	if !ok {
		return fmt.Errorf("%w: mesh %d", gpucore.ErrUnknownResource, id)
	}
	if len(vertices) != len(m.vertices) {
		return fmt.Errorf("%w: mesh %q expects %d vertices, got %d",
			gpucore.ErrInvalidCommand, m.desc.Label, len(m.vertices), len(vertices))
	}
	copy(m.vertices, vertices)
	return nil
}

// DestroyMesh implements gpucore.Device.
func (d *Device) DestroyMesh(id gpucore.MeshID) {
	d.mu.Lock()
	delete(d.meshes, id)
	d.mu.Unlock()
}

// CreateReadbackBuffer implements gpucore.Device.
func (d *Device) CreateReadbackBuffer(size int) (gpucore.BufferID, error) {
	if size < 1 {
		return gpucore.InvalidID, fmt.Errorf("%w: readback buffer of %d floats", gpucore.ErrInvalidDescriptor, size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = make([]float32, size)
	return id, nil
}

// ReadBuffer implements gpucore.Device.
func (d *Device) ReadBuffer(id gpucore.BufferID, dst []float32) error {
	d.mu.RLock()
	buf, ok := d.buffers[id]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return gpucore.ErrDeviceClosed
	}
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if len(dst) > len(buf) {
		return fmt.Errorf("%w: read %d floats from buffer of %d", gpucore.ErrInvalidCommand, len(dst), len(buf))
	}
	copy(dst, buf)
	return nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	delete(d.buffers, id)
	d.mu.Unlock()
}

// CreateFence implements gpucore.Device.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.FenceID(d.newID())
	d.fences[id] = new(atomic.Uint64)
	return id, nil
}

// DestroyFence implements gpucore.Device.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	delete(d.fences, id)
	d.mu.Unlock()
}

// Submit implements gpucore.Device. Commands run to completion before
// Submit returns; the fence is signaled only if all of them succeed.
func (d *Device) Submit(cmds []gpucore.Command, fence gpucore.FenceID, value uint64) error {
	d.mu.RLock()
	f, ok := d.fences[fence]
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return gpucore.ErrDeviceClosed
	}
	if !ok {
		return fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fence)
	}

	for i, cmd := range cmds {
		if err := d.execute(cmd); err != nil {
			return fmt.Errorf("cpu: command %d (%s): %w", i, gpucore.CommandName(cmd), err)
		}
	}
	f.Store(value)
	return nil
}

// Wait implements gpucore.Device. Submissions complete synchronously, so
// the fence either already holds value or never will.
func (d *Device) Wait(fence gpucore.FenceID, value uint64, _ time.Duration) (bool, error) {
	d.mu.RLock()
	f, ok := d.fences[fence]
	d.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fence)
	}
	return f.Load() >= value, nil
}

// Close implements gpucore.Device.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	clear(d.textures)
	clear(d.meshes)
	clear(d.buffers)
	clear(d.fences)
	d.pool.Close()
}

func (d *Device) texture(id gpucore.TextureID) (*texture, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, id)
	}
	return tex, nil
}

func (d *Device) level(id gpucore.TextureID, level int) (*texture, *image.Plane, error) {
	tex, err := d.texture(id)
	if err != nil {
		return nil, nil, err
	}
	plane := tex.chain.Level(level)
	if plane == nil {
		return nil, nil, fmt.Errorf("%w: texture %q has no level %d", gpucore.ErrInvalidCommand, tex.desc.Label, level)
	}
	return tex, plane, nil
}

//go:build !nogpu

package wgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// Name is the backend identifier.
const Name = "wgpu"

type texture struct {
	desc   gpucore.TextureDesc
	layout textureLayout
	buf    hal.Buffer
}

// mesh keeps a host copy of the vertices to size draw dispatches.
type mesh struct {
	desc     gpucore.MeshDesc
	vertices []gpucore.Vertex
	vbuf     hal.Buffer
	ibuf     hal.Buffer
}

type readback struct {
	size int
	buf  hal.Buffer
}

// inflight holds what a submission needs until its fence value is reached.
type inflight struct {
	value    uint64
	cmdBuf   hal.CommandBuffer
	uniforms []hal.Buffer
	groups   []hal.BindGroup
}

type fence struct {
	hal     hal.Fence
	pending []inflight
}

// Device is a gpucore.Device backed by a WebGPU HAL device.
//
// Thread safety: Device is safe for concurrent use. Wait does not hold the
// device lock while blocking on the GPU.
type Device struct {
	mu sync.Mutex

	instance       hal.Instance
	device         hal.Device
	queue          hal.Queue
	adapterName    string
	externalDevice bool // true when using a shared device (don't destroy on Close)
	maxBufferSize  uint64

	kernels kernelSet

	textures map[gpucore.TextureID]*texture
	meshes   map[gpucore.MeshID]*mesh
	buffers  map[gpucore.BufferID]*readback
	fences   map[gpucore.FenceID]*fence
	nextID   uint64
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*options)

type options struct {
	provider      gpucontext.DeviceProvider
	maxBufferSize uint64
}

// WithDeviceProvider makes the device share the HAL device and queue of
// an external provider (for example a gogpu window) instead of opening
// its own. The provider must also implement HalDevice() any and
// HalQueue() any.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithMaxBufferSize overrides the largest storage buffer the device will
// allocate, in bytes.
func WithMaxBufferSize(n uint64) Option {
	return func(o *options) { o.maxBufferSize = n }
}

// New opens a device and builds the compute pipelines.
func New(opts ...Option) (*Device, error) {
	o := options{maxBufferSize: defaultMaxBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		maxBufferSize: o.maxBufferSize,
		textures:      make(map[gpucore.TextureID]*texture),
		meshes:        make(map[gpucore.MeshID]*mesh),
		buffers:       make(map[gpucore.BufferID]*readback),
		fences:        make(map[gpucore.FenceID]*fence),
	}

	var err error
	if o.provider != nil {
		err = d.attach(o.provider)
	} else {
		err = d.open()
	}
	if err != nil {
		d.releaseDevice()
		return nil, err
	}
	if err := d.kernels.create(d.device); err != nil {
		d.kernels.destroy(d.device)
		d.releaseDevice()
		return nil, fmt.Errorf("wgpu: create pipelines: %w", err)
	}
	slogger().Info("wgpu: device ready", "adapter", d.adapterName, "shared", d.externalDevice)
	return d, nil
}

func (d *Device) open() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}
	d.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("wgpu: open device: %w", err)
	}
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapterName = selected.Info.Name
	return nil
}

func (d *Device) attach(p gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	d.device = device
	d.queue = queue
	d.externalDevice = true
	d.adapterName = "shared"
	return nil
}

// releaseDevice destroys the HAL device and instance unless they are shared.
func (d *Device) releaseDevice() {
	if !d.externalDevice {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return Name }

// AdapterName returns the name of the GPU in use.
func (d *Device) AdapterName() string { return d.adapterName }

// SetLogger routes backend logs to l. Engines call it when they adopt a
// device.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// SupportsLinearFilter implements gpucore.Device. Kernels filter in
// shader code, so every float format qualifies.
func (d *Device) SupportsLinearFilter(f gpucore.TextureFormat) bool { return f.Filterable() }

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) createBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if size > d.maxBufferSize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, limit is %d",
			gpucore.ErrInvalidDescriptor, label, size, d.maxBufferSize)
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %s: %w", label, err)
	}
	return buf, nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.TextureID, error) {
	if err := desc.Validate(); err != nil {
		return gpucore.InvalidID, err
	}
	layout := newTextureLayout(desc)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	buf, err := d.createBuffer(desc.Label, layout.bytes(),
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	if err != nil {
		return gpucore.InvalidID, err
	}
	d.queue.WriteBuffer(buf, 0, make([]byte, layout.bytes()))

	id := gpucore.TextureID(d.newID())
	d.textures[id] = &texture{desc: desc, layout: layout, buf: buf}
	return id, nil
}

// WriteTexture implements gpucore.Device.
func (d *Device) WriteTexture(id gpucore.TextureID, level int, data []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tex, err := d.levelLocked(id, level)
	if err != nil {
		return err
	}
	if want := tex.layout.floats(level); len(data) != want {
		return fmt.Errorf("%w: write texture %q level %d: got %d values, want %d",
			gpucore.ErrInvalidCommand, tex.desc.Label, level, len(data), want)
	}
	d.queue.WriteBuffer(tex.buf, uint64(tex.layout.offsets[level])*4, encodeFloats(data))
	return nil
}

// DestroyTexture implements gpucore.Device.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tex, ok := d.textures[id]; ok {
		d.device.DestroyBuffer(tex.buf)
		delete(d.textures, id)
	}
}

// CreateMesh implements gpucore.Device.
func (d *Device) CreateMesh(desc gpucore.MeshDesc) (gpucore.MeshID, error) {
	if err := desc.Validate(); err != nil {
		return gpucore.InvalidID, err
	}
	m := &mesh{desc: desc, vertices: make([]gpucore.Vertex, desc.VertexCount)}
	m.desc.Indices = append([]uint32(nil), desc.Indices...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	vbuf, err := d.createBuffer(desc.Label+"_vertices", uint64(desc.VertexCount)*gpucore.VertexSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return gpucore.InvalidID, err
	}
	ibuf, err := d.createBuffer(desc.Label+"_indices", uint64(len(desc.Indices))*4,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		d.device.DestroyBuffer(vbuf)
		return gpucore.InvalidID, err
	}
	d.queue.WriteBuffer(vbuf, 0, encodeVertices(m.vertices))
	d.queue.WriteBuffer(ibuf, 0, encodeIndices(m.desc.Indices))
	m.vbuf, m.ibuf = vbuf, ibuf

	id := gpucore.MeshID(d.newID())
	d.meshes[id] = m
	return id, nil
}

// WriteVertices implements gpucore.Device.
func (d *Device) WriteVertices(id gpucore.MeshID, vertices []gpucore.Vertex) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	m, ok := d.meshes[id]
	if !ok {
		return fmt.Errorf("%w: mesh %d", gpucore.ErrUnknownResource, id)
	}
	if len(vertices) != len(m.vertices) {
		return fmt.Errorf("%w: mesh %q expects %d vertices, got %d",
			gpucore.ErrInvalidCommand, m.desc.Label, len(m.vertices), len(vertices))
	}
	copy(m.vertices, vertices)
	d.queue.WriteBuffer(m.vbuf, 0, encodeVertices(vertices))
	return nil
}

// DestroyMesh implements gpucore.Device.
func (d *Device) DestroyMesh(id gpucore.MeshID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.meshes[id]; ok {
		d.device.DestroyBuffer(m.vbuf)
		d.device.DestroyBuffer(m.ibuf)
		delete(d.meshes, id)
	}
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
	buf, err := d.createBuffer("readback", uint64(size)*4,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &readback{size: size, buf: buf}
	return id, nil
}

// ReadBuffer implements gpucore.Device.
func (d *Device) ReadBuffer(id gpucore.BufferID, dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	rb, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if len(dst) > rb.size {
		return fmt.Errorf("%w: read %d floats from buffer of %d", gpucore.ErrInvalidCommand, len(dst), rb.size)
	}
	raw := make([]byte, len(dst)*4)
	if err := d.queue.ReadBuffer(rb.buf, 0, raw); err != nil {
		return fmt.Errorf("wgpu: read buffer: %w", err)
	}
	decodeFloats(raw, dst)
	return nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rb, ok := d.buffers[id]; ok {
		d.device.DestroyBuffer(rb.buf)
		delete(d.buffers, id)
	}
}

// CreateFence implements gpucore.Device.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	f, err := d.device.CreateFence()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create fence: %w", err)
	}
	id := gpucore.FenceID(d.newID())
	d.fences[id] = &fence{hal: f}
	return id, nil
}

// DestroyFence implements gpucore.Device.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[id]; ok {
		d.retire(f, ^uint64(0))
		d.device.DestroyFence(f.hal)
		delete(d.fences, id)
	}
}

// Submit implements gpucore.Device. The command list is encoded into a
// single command buffer with one compute pass per kernel.
func (d *Device) Submit(cmds []gpucore.Command, fenceID gpucore.FenceID, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	f, ok := d.fences[fenceID]
	if !ok {
		return fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fenceID)
	}

	s, err := d.beginSubmission()
	if err != nil {
		return err
	}
	for i, cmd := range cmds {
		if err := s.encode(cmd); err != nil {
			s.abort()
			return fmt.Errorf("wgpu: command %d (%s): %w", i, gpucore.CommandName(cmd), err)
		}
	}
	cmdBuf, err := s.encoder.EndEncoding()
	if err != nil {
		s.release()
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, f.hal, value); err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		s.release()
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	f.pending = append(f.pending, inflight{
		value:    value,
		cmdBuf:   cmdBuf,
		uniforms: s.uniforms,
		groups:   s.groups,
	})
	slogger().Debug("wgpu: submitted", "commands", len(cmds), "passes", s.passes, "value", value)
	return nil
}

// Wait implements gpucore.Device.
func (d *Device) Wait(fenceID gpucore.FenceID, value uint64, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[fenceID]
	device := d.device
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: fence %d", gpucore.ErrUnknownResource, fenceID)
	}

	done, err := device.Wait(f.hal, value, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: wait: %w", err)
	}
	if !done {
		return false, nil
	}
	d.mu.Lock()
	d.retire(f, value)
	d.mu.Unlock()
	return true, nil
}

// retire frees the transient resources of submissions up to value.
// Caller must hold d.mu.
func (d *Device) retire(f *fence, value uint64) {
	keep := f.pending[:0]
	for _, p := range f.pending {
		if p.value > value {
			keep = append(keep, p)
			continue
		}
		d.device.FreeCommandBuffer(p.cmdBuf)
		d.freeTransient(p.uniforms, p.groups)
	}
	f.pending = keep
}

func (d *Device) freeTransient(uniforms []hal.Buffer, groups []hal.BindGroup) {
	for _, bg := range groups {
		d.device.DestroyBindGroup(bg)
	}
	for _, ub := range uniforms {
		d.device.DestroyBuffer(ub)
	}
}

// Close implements gpucore.Device.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, f := range d.fences {
		d.retire(f, ^uint64(0))
		d.device.DestroyFence(f.hal)
		delete(d.fences, id)
	}
	for id, tex := range d.textures {
		d.device.DestroyBuffer(tex.buf)
		delete(d.textures, id)
	}
	for id, m := range d.meshes {
		d.device.DestroyBuffer(m.vbuf)
		d.device.DestroyBuffer(m.ibuf)
		delete(d.meshes, id)
	}
	for id, rb := range d.buffers {
		d.device.DestroyBuffer(rb.buf)
		delete(d.buffers, id)
	}
	d.kernels.destroy(d.device)
	d.releaseDevice()
	slogger().Debug("wgpu: device closed")
}

// levelLocked returns a texture that has the given level.
// Caller must hold d.mu.
func (d *Device) levelLocked(id gpucore.TextureID, level int) (*texture, error) {
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpucore.ErrUnknownResource, id)
	}
	if level < 0 || level >= tex.layout.levels() {
		return nil, fmt.Errorf("%w: texture %q has no level %d", gpucore.ErrInvalidCommand, tex.desc.Label, level)
	}
	return tex, nil
}

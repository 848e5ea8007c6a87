//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// kernel is a compiled compute pipeline with its layouts.
type kernel struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

type kernelSet [numKernels]kernel

func (ks *kernelSet) create(dev hal.Device) error {
	for id := range numKernels {
		def := kernelDefs[id]
		k := &ks[id]

		spirv, err := compileSPIRV(def.source)
		if err != nil {
			return fmt.Errorf("%s: %w", def.name, err)
		}
		shader, err := dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  def.name,
			Source: hal.ShaderSource{SPIRV: spirv},
		})
		if err != nil {
			return fmt.Errorf("%s shader: %w", def.name, err)
		}
		k.shader = shader

		entries := []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}}
		for i, typ := range def.bindings {
			entries = append(entries, gputypes.BindGroupLayoutEntry{
				Binding:    uint32(i + 1),
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: typ},
			})
		}
		bindLayout, err := dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   def.name + "_bind_layout",
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("%s bind layout: %w", def.name, err)
		}
		k.bindLayout = bindLayout

		pipeLayout, err := dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            def.name + "_pipe_layout",
			BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
		})
		if err != nil {
			return fmt.Errorf("%s pipeline layout: %w", def.name, err)
		}
		k.pipeLayout = pipeLayout

		pipeline, err := dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   def.name,
			Layout:  pipeLayout,
			Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
		})
		if err != nil {
			return fmt.Errorf("%s pipeline: %w", def.name, err)
		}
		k.pipeline = pipeline
	}
	return nil
}

func (ks *kernelSet) destroy(dev hal.Device) {
	if dev == nil {
		return
	}
	for id := range numKernels {
		k := &ks[id]
		if k.pipeline != nil {
			dev.DestroyComputePipeline(k.pipeline)
		}
		if k.pipeLayout != nil {
			dev.DestroyPipelineLayout(k.pipeLayout)
		}
		if k.bindLayout != nil {
			dev.DestroyBindGroupLayout(k.bindLayout)
		}
		if k.shader != nil {
			dev.DestroyShaderModule(k.shader)
		}
		*k = kernel{}
	}
}

// binding is a storage buffer range bound after the Params uniform.
type binding struct {
	buf  hal.Buffer
	size uint64
}

// submission encodes one command list. It owns the per-pass uniform
// buffers and bind groups until the fence signals.
type submission struct {
	d        *Device
	encoder  hal.CommandEncoder
	uniforms []hal.Buffer
	groups   []hal.BindGroup
	passes   int
}

// beginSubmission starts a command encoder. Caller must hold d.mu.
func (d *Device) beginSubmission() (*submission, error) {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "aligner_encoder"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("aligner"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	return &submission{d: d, encoder: encoder}, nil
}

// abort ends a failed encoding and frees everything it created.
func (s *submission) abort() {
	if cmdBuf, err := s.encoder.EndEncoding(); err == nil && cmdBuf != nil {
		s.d.device.FreeCommandBuffer(cmdBuf)
	}
	s.release()
}

func (s *submission) release() {
	s.d.freeTransient(s.uniforms, s.groups)
	s.uniforms, s.groups = nil, nil
}

// dispatch records one compute pass of kernel k.
func (s *submission) dispatch(k kernelID, p params, bindings []binding, x, y, z uint32) error {
	if x == 0 || y == 0 || z == 0 {
		return nil
	}
	dev := s.d.device
	ub, err := dev.CreateBuffer(&hal.BufferDescriptor{
		Label: kernelDefs[k].name + "_params",
		Size:  paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	s.uniforms = append(s.uniforms, ub)
	s.d.queue.WriteBuffer(ub, 0, p.encode())

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: paramsSize}},
	}
	for i, b := range bindings {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 1),
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.size},
		})
	}
	bg, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   kernelDefs[k].name + "_bind",
		Layout:  s.d.kernels[k].bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	s.groups = append(s.groups, bg)

	pass := s.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: kernelDefs[k].name})
	pass.SetPipeline(s.d.kernels[k].pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(x, y, z)
	pass.End()
	s.passes++
	return nil
}

func (s *submission) encode(cmd gpucore.Command) error {
	switch c := cmd.(type) {
	case gpucore.ClearTexture:
		return s.clear(c.Texture, c.Level)
	case gpucore.DrawGrid:
		return s.drawGrid(c)
	case gpucore.Difference:
		return s.difference(c)
	case gpucore.Downsample:
		return s.downsample(c)
	case gpucore.Barrier:
		// Every kernel runs in its own compute pass, which already orders
		// storage writes before later reads.
		_, err := s.d.levelLocked(c.Texture, c.Level)
		return err
	case gpucore.CopyTextureToBuffer:
		return s.copyToBuffer(c)
	default:
		return fmt.Errorf("%w: %T", gpucore.ErrInvalidCommand, cmd)
	}
}

func (s *submission) clear(id gpucore.TextureID, level int) error {
	tex, err := s.d.levelLocked(id, level)
	if err != nil {
		return err
	}
	l := tex.layout
	w, h := l.widths[level], l.heights[level]
	p := params{
		dstW: uint32(w), dstH: uint32(h),
		dstOff: uint32(l.offsets[level]), dstCh: uint32(l.channels),
	}
	return s.dispatch(kernelClear, p, []binding{{tex.buf, l.bytes()}},
		groups(w), groups(h), uint32(l.channels))
}

func (s *submission) drawGrid(c gpucore.DrawGrid) error {
	m, ok := s.d.meshes[c.Mesh]
	if !ok {
		return fmt.Errorf("%w: mesh %d", gpucore.ErrUnknownResource, c.Mesh)
	}
	src, err := s.d.levelLocked(c.Source, c.SourceLevel)
	if err != nil {
		return err
	}
	dst, err := s.d.levelLocked(c.Target, 0)
	if err != nil {
		return err
	}
	if src.desc.Format != gpucore.TextureFormatRGBA32Float || dst.desc.Format != gpucore.TextureFormatRGBA32Float {
		return fmt.Errorf("%w: draw_grid needs RGBA32Float source and target", gpucore.ErrUnsupportedFormat)
	}
	w, h := dst.layout.widths[0], dst.layout.heights[0]
	extW, extH := triangleExtent(m.vertices, m.desc.Indices, w, h)
	if extW == 0 || extH == 0 {
		return nil
	}
	triCount := len(m.desc.Indices) / 3
	bindings := []binding{
		{m.vbuf, uint64(len(m.vertices)) * gpucore.VertexSize},
		{m.ibuf, uint64(len(m.desc.Indices)) * 4},
		{src.buf, src.layout.bytes()},
		{dst.buf, dst.layout.bytes()},
	}
	// One extra pixel of slack absorbs rounding differences between the
	// host and shader bounding boxes.
	gx, gy := groups(extW+1), groups(extH+1)
	for base := 0; base < triCount; base += maxDispatchZ {
		p := params{
			srcW:     uint32(src.layout.widths[c.SourceLevel]),
			srcH:     uint32(src.layout.heights[c.SourceLevel]),
			srcOff:   uint32(src.layout.offsets[c.SourceLevel]),
			srcCh:    4,
			dstW:     uint32(w),
			dstH:     uint32(h),
			dstCh:    4,
			triCount: uint32(triCount),
			mulA:     c.SourceMul,
			triBase:  uint32(base),
		}
		if err := s.dispatch(kernelDrawGrid, p, bindings, gx, gy, uint32(min(maxDispatchZ, triCount-base))); err != nil {
			return err
		}
	}
	return nil
}

func (s *submission) difference(c gpucore.Difference) error {
	warped, err := s.d.levelLocked(c.Warped, 0)
	if err != nil {
		return err
	}
	target, err := s.d.levelLocked(c.Target, c.TargetLevel)
	if err != nil {
		return err
	}
	dst, err := s.d.levelLocked(c.Dst, 0)
	if err != nil {
		return err
	}
	if warped.layout.channels != 4 || target.layout.channels != 4 || dst.layout.channels != 1 {
		return fmt.Errorf("%w: difference needs RGBA inputs and a single-channel output", gpucore.ErrUnsupportedFormat)
	}
	ww, wh := warped.layout.widths[0], warped.layout.heights[0]
	dw, dh := dst.layout.widths[0], dst.layout.heights[0]
	if c.Width < 1 || c.Height < 1 || c.Width > ww || c.Height > wh || c.Width > dw || c.Height > dh {
		return fmt.Errorf("%w: difference region %dx%d does not fit warped %dx%d / canvas %dx%d",
			gpucore.ErrInvalidCommand, c.Width, c.Height, ww, wh, dw, dh)
	}
	p := params{
		srcW:    uint32(target.layout.widths[c.TargetLevel]),
		srcH:    uint32(target.layout.heights[c.TargetLevel]),
		srcOff:  uint32(target.layout.offsets[c.TargetLevel]),
		srcCh:   4,
		dstW:    uint32(dw),
		dstH:    uint32(dh),
		dstCh:   1,
		regionW: uint32(c.Width),
		regionH: uint32(c.Height),
		auxW:    uint32(ww),
		mulA:    c.WarpedMul,
		mulB:    c.TargetMul,
	}
	bindings := []binding{
		{warped.buf, warped.layout.bytes()},
		{target.buf, target.layout.bytes()},
		{dst.buf, dst.layout.bytes()},
	}
	return s.dispatch(kernelDifference, p, bindings, groups(c.Width), groups(c.Height), 1)
}

func (s *submission) downsample(c gpucore.Downsample) error {
	tex, err := s.d.levelLocked(c.Texture, c.Level)
	if err != nil {
		return err
	}
	if c.Level < 1 {
		return fmt.Errorf("%w: downsample into level %d", gpucore.ErrInvalidCommand, c.Level)
	}
	if !tex.desc.Format.Filterable() {
		return fmt.Errorf("%w: %s", gpucore.ErrUnsupportedFormat, tex.desc.Format)
	}
	l := tex.layout
	dw, dh := l.widths[c.Level], l.heights[c.Level]
	p := params{
		srcW:   uint32(l.widths[c.Level-1]),
		srcH:   uint32(l.heights[c.Level-1]),
		srcOff: uint32(l.offsets[c.Level-1]),
		srcCh:  uint32(l.channels),
		dstW:   uint32(dw),
		dstH:   uint32(dh),
		dstOff: uint32(l.offsets[c.Level]),
		dstCh:  uint32(l.channels),
	}
	return s.dispatch(kernelDownsample, p, []binding{{tex.buf, l.bytes()}},
		groups(dw), groups(dh), uint32(l.channels))
}

func (s *submission) copyToBuffer(c gpucore.CopyTextureToBuffer) error {
	tex, err := s.d.levelLocked(c.Texture, c.Level)
	if err != nil {
		return err
	}
	rb, ok := s.d.buffers[c.Buffer]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.Buffer)
	}
	n := tex.layout.floats(c.Level)
	if c.Offset < 0 || c.Offset+n > rb.size {
		return fmt.Errorf("%w: copy of %d floats at offset %d into buffer of %d",
			gpucore.ErrInvalidCommand, n, c.Offset, rb.size)
	}
	s.encoder.CopyBufferToBuffer(tex.buf, rb.buf, []hal.BufferCopy{{
		SrcOffset: uint64(tex.layout.offsets[c.Level]) * 4,
		DstOffset: uint64(c.Offset) * 4,
		Size:      uint64(n) * 4,
	}})
	return nil
}

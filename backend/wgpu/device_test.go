//go:build !nogpu

package wgpu

import (
	"errors"
	"math"
	"testing"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// openDevice returns a GPU device or skips when no adapter is available.
func openDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Skipf("no GPU device: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func submitAndWait(t *testing.T, d *Device, cmds ...gpucore.Command) {
	t.Helper()
	q := gpucore.NewQueue(d)
	f, err := q.NewFence()
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer f.Destroy()
	enc := gpucore.NewCommandEncoder("test")
	for _, c := range cmds {
		enc.Record(c)
	}
	if err := q.SubmitAndWait(enc, f); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
}

func readLevel(t *testing.T, d *Device, tex gpucore.TextureID, level, n int) []float32 {
	t.Helper()
	buf, err := d.CreateReadbackBuffer(n)
	if err != nil {
		t.Fatalf("CreateReadbackBuffer: %v", err)
	}
	defer d.DestroyBuffer(buf)
	submitAndWait(t, d, gpucore.CopyTextureToBuffer{Texture: tex, Level: level, Buffer: buf})
	out := make([]float32, n)
	if err := d.ReadBuffer(buf, out); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	return out
}

func TestDeviceIdentityDraw(t *testing.T) {
	d := openDevice(t)
	const w, h = 8, 8

	pix := make([]float32, w*h*4)
	for i := range pix {
		pix[i] = float32(i%17) / 16
	}
	desc := gpucore.TextureDesc{Label: "src", Width: w, Height: h, Format: gpucore.TextureFormatRGBA32Float}
	src, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	desc.Label = "dst"
	dst, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	if err := d.WriteTexture(src, 0, pix); err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}

	m, err := d.CreateMesh(gpucore.MeshDesc{Label: "quad", VertexCount: 4, Indices: []uint32{0, 1, 2, 0, 2, 3}})
	if err != nil {
		t.Fatalf("CreateMesh: %v", err)
	}
	corners := []gpucore.Vertex{
		{WarpedX: 0, WarpedY: 0, OrigX: 0, OrigY: 0},
		{WarpedX: 1, WarpedY: 0, OrigX: 1, OrigY: 0},
		{WarpedX: 1, WarpedY: 1, OrigX: 1, OrigY: 1},
		{WarpedX: 0, WarpedY: 1, OrigX: 0, OrigY: 1},
	}
	if err := d.WriteVertices(m, corners); err != nil {
		t.Fatalf("WriteVertices: %v", err)
	}

	submitAndWait(t, d, gpucore.DrawGrid{Mesh: m, Source: src, SourceMul: 1, Target: dst})
	got := readLevel(t, d, dst, 0, len(pix))
	for i := range pix {
		if math.Abs(float64(got[i]-pix[i])) > 1e-4 {
			t.Fatalf("texel value %d = %v, want %v", i, got[i], pix[i])
		}
	}
}

func TestDeviceDownsampleMatchesMean(t *testing.T) {
	d := openDevice(t)
	const w, h = 4, 4
	tex, err := d.CreateTexture(gpucore.TextureDesc{
		Label: "r", Width: w, Height: h, Format: gpucore.TextureFormatR32Float,
		MipLevels: gpucore.FullMipLevels(w, h),
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	pix := make([]float32, w*h)
	var sum float32
	for i := range pix {
		pix[i] = float32(i)
		sum += pix[i]
	}
	if err := d.WriteTexture(tex, 0, pix); err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}
	submitAndWait(t, d,
		gpucore.Downsample{Texture: tex, Level: 1},
		gpucore.Barrier{Texture: tex, Level: 1},
		gpucore.Downsample{Texture: tex, Level: 2},
	)
	got := readLevel(t, d, tex, 2, 1)
	if want := sum / float32(len(pix)); math.Abs(float64(got[0]-want)) > 1e-4 {
		t.Errorf("1x1 level = %v, want %v", got[0], want)
	}
}

func TestDeviceRejectsUnsupportedDownsample(t *testing.T) {
	d := openDevice(t)
	tex, err := d.CreateTexture(gpucore.TextureDesc{
		Label: "u", Width: 4, Height: 4, Format: gpucore.TextureFormatR32Uint, MipLevels: 2,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	fence, err := d.CreateFence()
	if err != nil {
		t.Fatalf("CreateFence: %v", err)
	}
	defer d.DestroyFence(fence)

	err = d.Submit([]gpucore.Command{gpucore.Downsample{Texture: tex, Level: 1}}, fence, 1)
	if !errors.Is(err, gpucore.ErrUnsupportedFormat) {
		t.Errorf("Submit error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDeviceBufferLimit(t *testing.T) {
	d := openDevice(t)
	d.maxBufferSize = 1024
	_, err := d.CreateTexture(gpucore.TextureDesc{
		Label: "big", Width: 64, Height: 64, Format: gpucore.TextureFormatRGBA32Float,
	})
	if !errors.Is(err, gpucore.ErrInvalidDescriptor) {
		t.Errorf("CreateTexture error = %v, want ErrInvalidDescriptor", err)
	}
}

package cpu

import (
	"fmt"
	"math"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
	"github.com/bean-mhm/img-aligner-sub001/internal/image"
	"github.com/bean-mhm/img-aligner-sub001/internal/raster"
)

// logEpsilon keeps the log difference finite for black pixels.
const logEpsilon = 1e-4

func (d *Device) execute(cmd gpucore.Command) error {
	switch c := cmd.(type) {
	case gpucore.ClearTexture:
		return d.clear(c)
	case gpucore.DrawGrid:
		return d.drawGrid(c)
	case gpucore.Difference:
		return d.difference(c)
	case gpucore.Downsample:
		return d.downsample(c)
	case gpucore.Barrier:
		// Commands already execute in order with a join after each kernel.
		_, _, err := d.level(c.Texture, c.Level)
		return err
	case gpucore.CopyTextureToBuffer:
		return d.copyToBuffer(c)
	default:
		return fmt.Errorf("%w: %T", gpucore.ErrInvalidCommand, cmd)
	}
}

func (d *Device) clear(c gpucore.ClearTexture) error {
	_, plane, err := d.level(c.Texture, c.Level)
	if err != nil {
		return err
	}
	d.pool.ParallelFor(plane.Height(), plane.ClearRows)
	return nil
}

func (d *Device) drawGrid(c gpucore.DrawGrid) error {
	d.mu.RLock()
	m, ok := d.meshes[c.Mesh]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: mesh %d", gpucore.ErrUnknownResource, c.Mesh)
	}
	srcTex, src, err := d.level(c.Source, c.SourceLevel)
	if err != nil {
		return err
	}
	dstTex, dst, err := d.level(c.Target, 0)
	if err != nil {
		return err
	}
	if srcTex.desc.Format != gpucore.TextureFormatRGBA32Float || dstTex.desc.Format != gpucore.TextureFormatRGBA32Float {
		return fmt.Errorf("%w: draw_grid needs RGBA32Float source and target", gpucore.ErrUnsupportedFormat)
	}

	w, h := dst.Bounds()
	tris := prepareTriangles(m, w, h)
	mul := c.SourceMul

	d.pool.ParallelFor(h, func(y0, y1 int) {
		var sample [4]float32
		for i := range tris {
			t := &tris[i]
			t.tri.Rasterize(w, y0, y1, func(x, y int, b raster.Barycentric) {
				u := b.Interpolate(t.u[0], t.u[1], t.u[2])
				v := b.Interpolate(t.v[0], t.v[1], t.v[2])
				image.SampleBilinearMirror(src, float64(u), float64(v), sample[:])
				px := dst.Texel(x, y)
				for ch := range 4 {
					px[ch] = sample[ch] * mul
				}
			})
		}
	})
	return nil
}

// gridTriangle is a triangle in target pixel space with its sampling
// coordinates per corner.
type gridTriangle struct {
	tri  raster.Triangle
	u, v [3]float32
}

func prepareTriangles(m *mesh, w, h int) []gridTriangle {
	idx := m.desc.Indices
	tris := make([]gridTriangle, 0, len(idx)/3)
	for i := 0; i+2 < len(idx); i += 3 {
		a, b, c := m.vertices[idx[i]], m.vertices[idx[i+1]], m.vertices[idx[i+2]]
		tri, ok := raster.NewTriangle(
			toPixel(a, w, h), toPixel(b, w, h), toPixel(c, w, h),
		)
		if !ok {
			continue
		}
		tris = append(tris, gridTriangle{
			tri: tri,
			u:   [3]float32{a.OrigX, b.OrigX, c.OrigX},
			v:   [3]float32{a.OrigY, b.OrigY, c.OrigY},
		})
	}
	return tris
}

func toPixel(v gpucore.Vertex, w, h int) raster.Point {
	return raster.Point{X: float64(v.WarpedX) * float64(w), Y: float64(v.WarpedY) * float64(h)}
}

func (d *Device) difference(c gpucore.Difference) error {
	wTex, warped, err := d.level(c.Warped, 0)
	if err != nil {
		return err
	}
	tTex, target, err := d.level(c.Target, c.TargetLevel)
	if err != nil {
		return err
	}
	dTex, dst, err := d.level(c.Dst, 0)
	if err != nil {
		return err
	}
	if wTex.desc.Format.Channels() != 4 || tTex.desc.Format.Channels() != 4 || dTex.desc.Format.Channels() != 1 {
		return fmt.Errorf("%w: difference needs RGBA inputs and a single-channel output", gpucore.ErrUnsupportedFormat)
	}
	if c.Width < 1 || c.Height < 1 || c.Width > warped.Width() || c.Height > warped.Height() ||
		c.Width > dst.Width() || c.Height > dst.Height() {
		return fmt.Errorf("%w: difference region %dx%d does not fit warped %dx%d / canvas %dx%d",
			gpucore.ErrInvalidCommand, c.Width, c.Height, warped.Width(), warped.Height(), dst.Width(), dst.Height())
	}

	d.pool.ParallelFor(c.Height, func(y0, y1 int) {
		var t [4]float32
		for y := y0; y < y1; y++ {
			row := dst.Row(y)
			v := (float64(y) + 0.5) / float64(c.Height)
			for x := range c.Width {
				wp := warped.Texel(x, y)
				image.SampleBilinearMirror(target, (float64(x)+0.5)/float64(c.Width), v, t[:])
				lw := image.Luminance(wp[0], wp[1], wp[2]) * c.WarpedMul
				lt := image.Luminance(t[0], t[1], t[2]) * c.TargetMul
				row[x] = logDifference(lw, lt)
			}
		}
	})
	return nil
}

// logDifference returns |ln(max(eps, a)) - ln(max(eps, b))|.
func logDifference(a, b float32) float32 {
	la := math.Log(float64(max(logEpsilon, a)))
	lb := math.Log(float64(max(logEpsilon, b)))
	return float32(math.Abs(la - lb))
}

func (d *Device) downsample(c gpucore.Downsample) error {
	tex, dst, err := d.level(c.Texture, c.Level)
	if err != nil {
		return err
	}
	if c.Level < 1 {
		return fmt.Errorf("%w: downsample into level %d", gpucore.ErrInvalidCommand, c.Level)
	}
	if !tex.desc.Format.Filterable() {
		return fmt.Errorf("%w: %s", gpucore.ErrUnsupportedFormat, tex.desc.Format)
	}
	src := tex.chain.Level(c.Level - 1)
	d.pool.ParallelFor(dst.Height(), func(y0, y1 int) {
		image.DownsampleRows(dst, src, y0, y1)
	})
	return nil
}

func (d *Device) copyToBuffer(c gpucore.CopyTextureToBuffer) error {
	_, plane, err := d.level(c.Texture, c.Level)
	if err != nil {
		return err
	}
	d.mu.RLock()
	buf, ok := d.buffers[c.Buffer]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, c.Buffer)
	}
	n := len(plane.Pix())
	if c.Offset < 0 || c.Offset+n > len(buf) {
		return fmt.Errorf("%w: copy of %d floats at offset %d into buffer of %d",
			gpucore.ErrInvalidCommand, n, c.Offset, len(buf))
	}
	copy(buf[c.Offset:], plane.Pix())
	return nil
}

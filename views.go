package aligner

import (
	"fmt"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// ViewKind selects one of the images an engine can show.
type ViewKind int

const (
	ViewBase ViewKind = iota
	ViewTarget
	ViewWarped
	ViewWarpedHires
	ViewDifference
	ViewCost
	numViews
)

var viewNames = [numViews]string{
	ViewBase:        "base",
	ViewTarget:      "target",
	ViewWarped:      "warped",
	ViewWarpedHires: "warped (full resolution)",
	ViewDifference:  "difference",
	ViewCost:        "cost",
}

// String implements fmt.Stringer.
func (k ViewKind) String() string {
	if k < 0 || k >= numViews {
		return fmt.Sprintf("ViewKind(%d)", int(k))
	}
	return viewNames[k]
}

// ImageView describes an engine image for display. The texture belongs to
// the engine and is only valid until Close.
type ImageView struct {
	Name          string
	Width         int
	Height        int
	SingleChannel bool
	Texture       gpucore.TextureID
	Level         int
}

// Channels returns the number of float32 values per pixel.
func (v ImageView) Channels() int {
	if v.SingleChannel {
		return 1
	}
	return 4
}

// View returns the metadata of an image.
func (e *Engine) View(kind ViewKind) (ImageView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return ImageView{}, err
	}
	return e.viewLocked(kind)
}

func (e *Engine) viewLocked(kind ViewKind) (ImageView, error) {
	v := ImageView{Name: kind.String()}
	switch kind {
	case ViewBase:
		v.Texture, v.Width, v.Height = e.base, e.imgW, e.imgH
	case ViewTarget:
		v.Texture, v.Width, v.Height = e.target, e.imgW, e.imgH
	case ViewWarped:
		v.Texture, v.Width, v.Height = e.warped, e.workW, e.workH
	case ViewWarpedHires:
		v.Texture, v.Width, v.Height = e.hires, e.imgW, e.imgH
	case ViewDifference:
		v.Texture, v.Width, v.Height, v.SingleChannel = e.diff, e.side, e.side, true
	case ViewCost:
		v.Texture, v.Width, v.Height, v.SingleChannel = e.diff, e.costW, e.costH, true
		v.Level = e.costLevel
	default:
		return ImageView{}, fmt.Errorf("%w: view kind %d", ErrInvalidArgument, int(kind))
	}
	return v, nil
}

// ReadView reads an image back to the host, re-rendering it first if the
// last trial was rejected. Pixels are row-major, top-to-bottom, with
// View(kind).Channels() values each.
func (e *Engine) ReadView(kind ViewKind) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	v, err := e.viewLocked(kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case ViewWarped, ViewDifference, ViewCost:
		if err := e.refreshLocked(); err != nil {
			return nil, err
		}
	case ViewWarpedHires:
		if err := e.renderHiresLocked(); err != nil {
			return nil, err
		}
	}
	return e.readLocked(v)
}

// RefreshViews re-renders the working-resolution views from the committed
// grid if a rejected trial left them stale.
func (e *Engine) RefreshViews() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return err
	}
	return e.refreshLocked()
}

func (e *Engine) refreshLocked() error {
	if !e.viewsStale {
		return nil
	}
	if err := e.device.WriteVertices(e.mesh, e.grid.vertices); err != nil {
		return deviceError("upload grid", err)
	}
	e.recordWarp(e.warped, e.sourceLevel)
	e.recordDifference()
	if err := e.reducer.Record(e.enc, e.diff, e.diffDesc); err != nil {
		e.enc.Reset()
		return err
	}
	if err := e.submit("refresh views"); err != nil {
		return err
	}
	e.viewsStale = false
	return nil
}

// RenderFullResolution draws the base image through the committed grid at
// the original resolution and returns RGBA float32 pixels, row-major,
// top-to-bottom.
func (e *Engine) RenderFullResolution() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.renderHiresLocked(); err != nil {
		return nil, err
	}
	v, _ := e.viewLocked(ViewWarpedHires)
	return e.readLocked(v)
}

func (e *Engine) renderHiresLocked() error {
	if !e.hiresStale {
		return nil
	}
	if err := e.device.WriteVertices(e.mesh, e.grid.vertices); err != nil {
		return deviceError("upload grid", err)
	}
	e.recordWarp(e.hires, 0)
	if err := e.submit("render full resolution"); err != nil {
		return err
	}
	e.hiresStale = false
	return nil
}

// readLocked copies a view into a temporary readback buffer.
func (e *Engine) readLocked(v ImageView) ([]float32, error) {
	n := v.Width * v.Height * v.Channels()
	buf, err := e.device.CreateReadbackBuffer(n)
	if err != nil {
		return nil, deviceError("create readback buffer", err)
	}
	defer e.device.DestroyBuffer(buf)

	e.enc.Record(gpucore.CopyTextureToBuffer{Texture: v.Texture, Level: v.Level, Buffer: buf})
	if err := e.submit("read " + v.Name); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	if err := e.device.ReadBuffer(buf, out); err != nil {
		return nil, deviceError("read "+v.Name, err)
	}
	return out, nil
}

// GridVertices returns a copy of the grid vertices for previews.
func (e *Engine) GridVertices() []gpucore.Vertex {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid.Vertices()
}

// GridIndices returns a copy of the grid triangle indices.
func (e *Engine) GridIndices() []uint32 {
	return append([]uint32(nil), e.grid.Indices()...)
}

package aligner

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ajroetker/go-highway/hwy/contrib/vec"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// Engine aligns one base image to one target image.
//
// An Engine exclusively owns its device resources: the mipmapped base and
// target images, the working-resolution warped image, the full-resolution
// warped image, the difference canvas, the grid mesh and two readback
// buffers. They are created by NewEngine and destroyed together by Close.
//
// Thread safety: methods may be called from any goroutine but are
// serialized by an internal mutex; one optimization step always completes
// before the next starts.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	logger    *slog.Logger
	stateHook func(State)

	queue   *gpucore.Queue
	device  gpucore.Device
	fence   *gpucore.Fence
	enc     *gpucore.CommandEncoder
	reducer *PyramidReducer

	imgW, imgH   int
	workW, workH int
	side         int
	sourceLevel  int
	costLevel    int
	costW, costH int

	imageDesc gpucore.TextureDesc
	diffDesc  gpucore.TextureDesc

	base, target  gpucore.TextureID
	warped, hires gpucore.TextureID
	diff          gpucore.TextureID
	mesh          gpucore.MeshID
	avgBuf        gpucore.BufferID
	costBuf       gpucore.BufferID

	grid      *Grid
	transform Transform2D
	best      Cost
	hasBest   bool
	state     State
	rng       *rand.Rand

	viewsStale  bool
	hiresStale  bool
	costScratch []float32
	region      []float32
	evaluations int
	closed      bool
}

// NewEngine uploads the images, builds the grid and evaluates the initial
// cost. All submissions go through queue, which may be shared with other
// engines on the same device.
//
// On failure every resource created so far is released.
func NewEngine(queue *gpucore.Queue, imgs Images, opts ...Option) (*Engine, error) {
	if queue == nil {
		return nil, fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := imgs.Validate(); err != nil {
		return nil, err
	}
	grid, err := NewGrid(imgs.Width, imgs.Height, o.cfg.GridResolution, o.cfg.GridPadding)
	if err != nil {
		return nil, err
	}

	workW, workH := workingSize(imgs.Width, imgs.Height, o.cfg.WorkingArea)
	side := upperPowerOf2(max(workW, workH))
	e := &Engine{
		cfg:       o.cfg,
		logger:    o.logger,
		stateHook: o.stateHook,
		queue:     queue,
		device:    queue.Device(),
		enc:       gpucore.NewCommandEncoder("aligner"),
		reducer:   NewPyramidReducer(queue.Device()),
		imgW:      imgs.Width,
		imgH:      imgs.Height,
		workW:     workW,
		workH:     workH,
		side:      side,
		costLevel: CostLevel(workW, workH, side, o.cfg.CostArea),
		grid:      grid,
		transform: IdentityTransform(),
		rng:       rand.New(rand.NewPCG(o.cfg.Seed, o.cfg.Seed^0x9e3779b97f4a7c15)),
	}
	e.imageDesc = gpucore.TextureDesc{
		Width: imgs.Width, Height: imgs.Height,
		Format:    gpucore.TextureFormatRGBA32Float,
		MipLevels: gpucore.FullMipLevels(imgs.Width, imgs.Height),
	}
	e.diffDesc = gpucore.TextureDesc{
		Label: "difference", Width: side, Height: side,
		Format:    gpucore.TextureFormatR32Float,
		MipLevels: gpucore.FullMipLevels(side, side),
	}
	ratio := max(float64(imgs.Width)/float64(workW), float64(imgs.Height)/float64(workH))
	e.sourceLevel = min(roundLog2(ratio), e.imageDesc.Levels()-1)
	e.costW, e.costH = gpucore.LevelSize(side, side, e.costLevel)

	if err := e.init(imgs); err != nil {
		e.release()
		return nil, err
	}
	trackDevice(e.device)

	e.mu.Lock()
	cost, err := e.evaluateLocked()
	e.setState(StateIdle)
	e.mu.Unlock()
	if err != nil {
		e.Close()
		return nil, err
	}

	e.log().Info("aligner: engine ready",
		"device", e.device.Name(),
		"image", fmt.Sprintf("%dx%d", e.imgW, e.imgH),
		"working", fmt.Sprintf("%dx%d", e.workW, e.workH),
		"canvas", e.side,
		"grid", fmt.Sprintf("%dx%d", grid.gridW, grid.gridH),
		"padded", fmt.Sprintf("%dx%d", grid.paddedW, grid.paddedH),
		"source_level", e.sourceLevel,
		"cost_level", e.costLevel,
		"cost", cost.AvgDiff)
	return e, nil
}

func (e *Engine) init(imgs Images) error {
	var err error
	if e.fence, err = e.queue.NewFence(); err != nil {
		return deviceError("create fence", err)
	}

	desc := e.imageDesc
	desc.Label = "base"
	if e.base, err = e.device.CreateTexture(desc); err != nil {
		return deviceError("create base image", err)
	}
	desc.Label = "target"
	if e.target, err = e.device.CreateTexture(desc); err != nil {
		return deviceError("create target image", err)
	}
	if e.warped, err = e.device.CreateTexture(gpucore.TextureDesc{
		Label: "warped", Width: e.workW, Height: e.workH, Format: gpucore.TextureFormatRGBA32Float,
	}); err != nil {
		return deviceError("create warped image", err)
	}
	if e.hires, err = e.device.CreateTexture(gpucore.TextureDesc{
		Label: "warped_hires", Width: e.imgW, Height: e.imgH, Format: gpucore.TextureFormatRGBA32Float,
	}); err != nil {
		return deviceError("create full resolution image", err)
	}
	if e.diff, err = e.device.CreateTexture(e.diffDesc); err != nil {
		return deviceError("create difference canvas", err)
	}
	if e.mesh, err = e.device.CreateMesh(gpucore.MeshDesc{
		Label: "grid", VertexCount: e.grid.VertexCount(), Indices: e.grid.Indices(),
	}); err != nil {
		return deviceError("create grid mesh", err)
	}
	if e.avgBuf, err = e.device.CreateReadbackBuffer(1); err != nil {
		return deviceError("create average buffer", err)
	}
	if e.costBuf, err = e.device.CreateReadbackBuffer(e.costW * e.costH); err != nil {
		return deviceError("create cost buffer", err)
	}
	e.costScratch = make([]float32, e.costW*e.costH)

	if err := e.device.WriteTexture(e.base, 0, imgs.Base); err != nil {
		return deviceError("upload base image", err)
	}
	if err := e.device.WriteTexture(e.target, 0, imgs.Target); err != nil {
		return deviceError("upload target image", err)
	}
	if err := e.reducer.Record(e.enc, e.base, e.imageDesc); err != nil {
		e.enc.Reset()
		return err
	}
	if err := e.reducer.Record(e.enc, e.target, e.imageDesc); err != nil {
		e.enc.Reset()
		return err
	}
	return e.submit("generate image pyramids")
}

// release destroys every resource that was created.
func (e *Engine) release() {
	d := e.device
	for _, id := range []gpucore.TextureID{e.base, e.target, e.warped, e.hires, e.diff} {
		if id != gpucore.InvalidID {
			d.DestroyTexture(id)
		}
	}
	if e.mesh != gpucore.InvalidID {
		d.DestroyMesh(e.mesh)
	}
	for _, id := range []gpucore.BufferID{e.avgBuf, e.costBuf} {
		if id != gpucore.InvalidID {
			d.DestroyBuffer(id)
		}
	}
	if e.fence != nil {
		e.fence.Destroy()
	}
	e.base, e.target, e.warped, e.hires, e.diff = 0, 0, 0, 0, 0
	e.mesh, e.avgBuf, e.costBuf = 0, 0, 0
}

// Close releases every device resource. Calls after Close fail with
// ErrPreconditionViolation. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.release()
	untrackDevice(e.device)
	e.log().Debug("aligner: engine closed", "evaluations", e.evaluations)
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return Logger()
}

// usable fails once the engine is closed. Caller must hold e.mu.
func (e *Engine) usable() error {
	if e.closed {
		return fmt.Errorf("%w: engine is closed", ErrPreconditionViolation)
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.state = s
	if e.stateHook != nil {
		e.stateHook(s)
	}
}

// submit sends the recorded commands and waits for them.
func (e *Engine) submit(op string) error {
	return deviceError(op, e.queue.SubmitAndWait(e.enc, e.fence))
}

// recordWarp clears dst and draws the base image through the grid into it.
func (e *Engine) recordWarp(dst gpucore.TextureID, sourceLevel int) {
	e.enc.Record(gpucore.ClearTexture{Texture: dst, Level: 0})
	e.enc.Record(gpucore.DrawGrid{
		Mesh:        e.mesh,
		Source:      e.base,
		SourceLevel: sourceLevel,
		SourceMul:   1,
		Target:      dst,
	})
	e.enc.Record(gpucore.Barrier{Texture: dst, Level: 0})
}

// recordDifference clears the difference canvas and writes the working
// region into it. The padding outside the region stays zero.
func (e *Engine) recordDifference() {
	e.enc.Record(gpucore.ClearTexture{Texture: e.diff, Level: 0})
	e.enc.Record(gpucore.Difference{
		Warped:      e.warped,
		Target:      e.target,
		TargetLevel: e.sourceLevel,
		Dst:         e.diff,
		WarpedMul:   e.cfg.BaseMul,
		TargetMul:   e.cfg.TargetMul,
		Width:       e.workW,
		Height:      e.workH,
	})
	e.enc.Record(gpucore.Barrier{Texture: e.diff, Level: 0})
}

// evaluateLocked runs the warp, difference and cost stages for the current
// grid. The first successful evaluation becomes the best cost.
// Caller must hold e.mu.
func (e *Engine) evaluateLocked() (Cost, error) {
	start := time.Now()
	e.setState(StateEvaluating)

	if err := e.device.WriteVertices(e.mesh, e.grid.vertices); err != nil {
		return Cost{}, deviceError("upload grid", err)
	}
	e.recordWarp(e.warped, e.sourceLevel)
	e.recordDifference()
	if err := e.reducer.Record(e.enc, e.diff, e.diffDesc); err != nil {
		e.enc.Reset()
		return Cost{}, err
	}
	e.enc.Record(gpucore.CopyTextureToBuffer{Texture: e.diff, Level: e.diffDesc.Levels() - 1, Buffer: e.avgBuf})
	e.enc.Record(gpucore.CopyTextureToBuffer{Texture: e.diff, Level: e.costLevel, Buffer: e.costBuf})
	if err := e.submit("evaluate"); err != nil {
		return Cost{}, err
	}

	var avg [1]float32
	if err := e.device.ReadBuffer(e.avgBuf, avg[:]); err != nil {
		return Cost{}, deviceError("read average", err)
	}
	if err := e.device.ReadBuffer(e.costBuf, e.costScratch); err != nil {
		return Cost{}, deviceError("read cost level", err)
	}
	cost := Cost{
		AvgDiff:      float64(avg[0]) * float64(e.side*e.side) / float64(e.workW*e.workH),
		MaxLocalDiff: float64(e.maxLocal()),
	}

	e.evaluations++
	e.viewsStale = false
	e.hiresStale = true
	if !e.hasBest {
		e.best = cost
		e.hasBest = true
	}
	e.log().Debug("aligner: evaluated", "avg", cost.AvgDiff, "max_local", cost.MaxLocalDiff,
		"elapsed", time.Since(start))
	return cost, nil
}

// maxLocal returns the largest regional mean of the cost level inside the
// region footprint.
func (e *Engine) maxLocal() float32 {
	s := 1 << e.costLevel
	rw, rh := regionFootprint(e.workW, e.workH, e.costLevel)
	rw, rh = min(rw, e.costW), min(rh, e.costH)
	e.region = e.region[:0]
	for y := range rh {
		e.region = append(e.region, e.costScratch[y*e.costW:y*e.costW+rw]...)
	}
	// Texels on the right and bottom rows of the footprint average in
	// canvas padding. Rescale them to the mean over their covered pixels.
	for y := range rh {
		cy := min(s, e.workH-y*s)
		for x := range rw {
			if cx := min(s, e.workW-x*s); cx < s || cy < s {
				e.region[y*rw+x] *= float32(s*s) / float32(cx*cy)
			}
		}
	}
	return vec.BaseMax(e.region)
}

// Evaluate runs the three stages on the current grid and returns the cost.
// The first evaluation of an engine also records the best cost.
func (e *Engine) Evaluate() (Cost, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return Cost{}, err
	}
	cost, err := e.evaluateLocked()
	e.setState(StateIdle)
	return cost, err
}

// BestCost returns the cost of the committed grid.
func (e *Engine) BestCost() Cost {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.best
}

// Transform returns the last adopted global transform.
func (e *Engine) Transform() Transform2D {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transform
}

// State returns the optimizer state. It is StateIdle between calls.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// ImageSize returns the original image size.
func (e *Engine) ImageSize() (int, int) { return e.imgW, e.imgH }

// WorkingSize returns the size of the working-resolution images.
func (e *Engine) WorkingSize() (int, int) { return e.workW, e.workH }

// CanvasSize returns the side of the square difference canvas.
func (e *Engine) CanvasSize() int { return e.side }

// CostLevel returns the mip level of the canvas used for regional maxima.
func (e *Engine) CostLevel() int { return e.costLevel }

// SourceLevel returns the mip level of the base and target images sampled
// at working resolution.
func (e *Engine) SourceLevel() int { return e.sourceLevel }

// Evaluations returns the number of completed evaluations.
func (e *Engine) Evaluations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluations
}

// GridSize returns the unpadded and padded grid cell counts.
func (e *Engine) GridSize() (w, h, paddedW, paddedH int) {
	w, h = e.grid.Size()
	paddedW, paddedH = e.grid.PaddedSize()
	return w, h, paddedW, paddedH
}

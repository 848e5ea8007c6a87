package aligner

import (
	"errors"
	"math"
	"testing"

	"github.com/bean-mhm/img-aligner-sub001/backend/cpu"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

func TestEngineIdenticalConstantImages(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 40, 24, constant(0.5), constant(0.5), WithSeed(3))

	if c := e.BestCost(); c.AvgDiff != 0 || c.MaxLocalDiff != 0 {
		t.Fatalf("initial cost = %v, want zero", c)
	}
	before := e.GridVertices()
	for i := range 20 {
		ok, err := e.OptimizeWarp(0.02)
		if err != nil {
			t.Fatalf("OptimizeWarp #%d: %v", i, err)
		}
		if ok {
			t.Fatalf("OptimizeWarp #%d accepted a candidate on a zero cost", i)
		}
	}
	sameVertices(t, e.GridVertices(), before)
	if c := e.BestCost(); c.AvgDiff != 0 {
		t.Errorf("best cost = %v after rejected trials", c)
	}
}

func TestEngineConstantRatio(t *testing.T) {
	tests := []struct {
		name         string
		base, target float64
		baseMul      float32
		want         float64
	}{
		{"four times brighter target", 0.125, 0.5, 1, math.Log(4)},
		{"darker target", 0.75, 0.25, 1, math.Log(3)},
		{"exposure matched", 0.125, 0.5, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			// 48x20 leaves most of the 64x64 canvas outside the region.
			e := newTestEngine(t, q, 48, 20, constant(tt.base), constant(tt.target),
				WithMultipliers(tt.baseMul, 1))
			if got := e.CanvasSize(); got != 64 {
				t.Fatalf("CanvasSize = %d, want 64", got)
			}
			c := e.BestCost()
			if math.Abs(c.AvgDiff-tt.want) > 1e-5 {
				t.Errorf("AvgDiff = %v, want %v", c.AvgDiff, tt.want)
			}
			if math.Abs(c.MaxLocalDiff-tt.want) > 1e-5 {
				t.Errorf("MaxLocalDiff = %v, want %v", c.MaxLocalDiff, tt.want)
			}
		})
	}
}

func TestEngineGeometry(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 64, 32, waves, waves, WithWorkingArea(16*8), WithGridResolution(4))

	if w, h := e.ImageSize(); w != 64 || h != 32 {
		t.Errorf("ImageSize = %dx%d", w, h)
	}
	if w, h := e.WorkingSize(); w != 16 || h != 8 {
		t.Errorf("WorkingSize = %dx%d, want 16x8", w, h)
	}
	if got := e.SourceLevel(); got != 2 {
		t.Errorf("SourceLevel = %d, want 2", got)
	}
	if got := e.CanvasSize(); got != 16 {
		t.Errorf("CanvasSize = %d, want 16", got)
	}
	if got, want := e.CostLevel(), CostLevel(16, 8, 16, DefaultCostArea); got != want {
		t.Errorf("CostLevel = %d, want %d", got, want)
	}
	gw, gh, pw, ph := e.GridSize()
	if gw != 8 || gh != 4 || pw <= gw || ph <= gh {
		t.Errorf("GridSize = %d %d %d %d", gw, gh, pw, ph)
	}
	if got := len(e.GridIndices()); got != pw*ph*6 {
		t.Errorf("len(GridIndices) = %d, want %d", got, pw*ph*6)
	}
	if got := e.Evaluations(); got != 1 {
		t.Errorf("Evaluations = %d, want 1", got)
	}
}

func TestEngineRejectedTrialRestoresGrid(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 48, 32, waves, shifted(waves, 0.03), WithSeed(11))

	var accepted, rejected int
	for i := range 40 {
		before := e.GridVertices()
		best := e.BestCost()
		ok, err := e.OptimizeWarp(0.02)
		if err != nil {
			t.Fatalf("OptimizeWarp #%d: %v", i, err)
		}
		if ok {
			accepted++
			if !(e.BestCost().AvgDiff < best.AvgDiff) {
				t.Fatalf("accepted cost %v not below %v", e.BestCost(), best)
			}
			continue
		}
		rejected++
		sameVertices(t, e.GridVertices(), before)
		if e.BestCost() != best {
			t.Fatalf("best cost changed on rejection: %v -> %v", best, e.BestCost())
		}
	}
	if rejected == 0 {
		t.Fatal("no rejected trial to check")
	}

	c, err := e.Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if c.AvgDiff != e.BestCost().AvgDiff {
		t.Errorf("re-evaluated committed grid = %v, want %v", c, e.BestCost())
	}
	t.Logf("accepted %d, rejected %d", accepted, rejected)
}

func TestEngineSeededDeterminism(t *testing.T) {
	run := func() ([]bool, Cost, []float32) {
		q := newTestQueue(t)
		e := newTestEngine(t, q, 40, 30, waves, shifted(waves, 0.02), WithSeed(7))
		var seq []bool
		for range 15 {
			ok, err := e.OptimizeWarp(0.01)
			if err != nil {
				t.Fatal(err)
			}
			seq = append(seq, ok)
		}
		var xs []float32
		for _, v := range e.GridVertices() {
			xs = append(xs, v.WarpedX, v.WarpedY)
		}
		return seq, e.BestCost(), xs
	}

	seqA, costA, gridA := run()
	seqB, costB, gridB := run()
	for i := range seqA {
		if seqA[i] != seqB[i] {
			t.Fatalf("decision %d differs: %v vs %v", i, seqA, seqB)
		}
	}
	if costA != costB {
		t.Errorf("cost %v vs %v", costA, costB)
	}
	for i := range gridA {
		if math.Float32bits(gridA[i]) != math.Float32bits(gridB[i]) {
			t.Fatalf("grid differs at %d", i)
		}
	}
}

func TestEngineTransformRecoversShift(t *testing.T) {
	const shift = 0.04
	q := newTestQueue(t)
	e := newTestEngine(t, q, 64, 48, waves, shifted(waves, shift), WithSeed(5), WithGridResolution(6))

	initial := e.BestCost()
	tr := e.Transform()
	for range 300 {
		cand, ok, err := e.OptimizeTransform(tr, 0, 0, 0.01)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			tr = cand
		}
	}
	if got := e.Transform(); got != tr {
		t.Errorf("Transform = %v, want %v", got, tr)
	}
	final := e.BestCost()
	if !(final.AvgDiff < 0.5*initial.AvgDiff) {
		t.Errorf("cost %v -> %v, want at least halved", initial.AvgDiff, final.AvgDiff)
	}
	if tr.OffsetX < shift/2 || tr.OffsetX > 1.5*shift {
		t.Errorf("OffsetX = %v, want near %v", tr.OffsetX, shift)
	}
	if tr.ScaleX != 1 || tr.ScaleY != 1 || tr.Rotation != 0 {
		t.Errorf("unjittered parameters changed: %v", tr)
	}
}

func TestEngineStateTransitions(t *testing.T) {
	q := newTestQueue(t)
	var states []State
	e := newTestEngine(t, q, 16, 16, constant(0.5), constant(0.5),
		WithStateHook(func(s State) { states = append(states, s) }))

	if e.State() != StateIdle {
		t.Fatalf("State = %v after NewEngine", e.State())
	}
	states = nil
	if _, err := e.OptimizeWarp(0.01); err != nil {
		t.Fatal(err)
	}
	want := []State{StateProposingGaussianBump, StateEvaluating, StateRolledBack, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}

	states = nil
	if _, _, err := e.OptimizeTransform(IdentityTransform(), 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if states[0] != StateProposingTransformJitter || states[len(states)-1] != StateIdle {
		t.Errorf("transform states = %v", states)
	}
}

func TestEngineClosed(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 16, 16, waves, waves)
	e.Close()
	e.Close()

	checks := map[string]error{}
	_, checks["OptimizeWarp"] = e.OptimizeWarp(0.01)
	_, _, checks["OptimizeTransform"] = e.OptimizeTransform(IdentityTransform(), 0.01, 0.1, 0.01)
	_, checks["Evaluate"] = e.Evaluate()
	_, checks["View"] = e.View(ViewBase)
	_, checks["ReadView"] = e.ReadView(ViewWarped)
	_, checks["RenderFullResolution"] = e.RenderFullResolution()
	checks["RefreshViews"] = e.RefreshViews()
	for name, err := range checks {
		if !errors.Is(err, ErrPreconditionViolation) {
			t.Errorf("%s after Close: err = %v, want ErrPreconditionViolation", name, err)
		}
	}
}

func TestNewEngineInvalid(t *testing.T) {
	q := newTestQueue(t)
	good := grayImage(8, 8, waves)
	tests := []struct {
		name string
		imgs Images
		opts []Option
	}{
		{"zero size", Images{Width: 0, Height: 8, Base: good, Target: good}, nil},
		{"short base", Images{Width: 8, Height: 8, Base: good[:10], Target: good}, nil},
		{"short target", Images{Width: 8, Height: 8, Base: good, Target: good[:10]}, nil},
		{"zero grid resolution", Images{Width: 8, Height: 8, Base: good, Target: good}, []Option{WithGridResolution(0)}},
		{"zero working area", Images{Width: 8, Height: 8, Base: good, Target: good}, []Option{WithWorkingArea(0)}},
		{"negative multiplier", Images{Width: 8, Height: 8, Base: good, Target: good}, []Option{WithMultipliers(-1, 1)}},
		{"negative guard", Images{Width: 8, Height: 8, Base: good, Target: good}, []Option{WithLocalMaxGuard(-0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(q, tt.imgs, tt.opts...)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
			if e != nil {
				t.Error("engine returned with error")
			}
		})
	}

	if _, err := NewEngine(nil, Images{Width: 8, Height: 8, Base: good, Target: good}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil queue: err = %v", err)
	}
}

func TestOptimizeInvalidArguments(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 16, 16, waves, waves)
	for _, s := range []float64{-0.1, math.NaN(), math.Inf(1)} {
		if _, err := e.OptimizeWarp(s); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("OptimizeWarp(%v): err = %v", s, err)
		}
	}
	if _, _, err := e.OptimizeTransform(IdentityTransform(), 0, -1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("OptimizeTransform with negative jitter: err = %v", err)
	}
	if got := e.Evaluations(); got != 1 {
		t.Errorf("invalid calls ran %d evaluations", got-1)
	}
}

func TestEngineViews(t *testing.T) {
	q := newTestQueue(t)
	e := newTestEngine(t, q, 32, 24, waves, waves, WithGridResolution(4))
	base := grayImage(32, 24, waves)

	for k := ViewBase; k < numViews; k++ {
		v, err := e.View(k)
		if err != nil {
			t.Fatalf("View(%v): %v", k, err)
		}
		pix, err := e.ReadView(k)
		if err != nil {
			t.Fatalf("ReadView(%v): %v", k, err)
		}
		if got, want := len(pix), v.Width*v.Height*v.Channels(); got != want {
			t.Errorf("ReadView(%v) returned %d values, want %d", k, got, want)
		}
	}
	if _, err := e.View(numViews); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("View(numViews): err = %v", err)
	}

	hires, err := e.RenderFullResolution()
	if err != nil {
		t.Fatal(err)
	}
	for i := range base {
		if math.Abs(float64(hires[i]-base[i])) > 1e-3 {
			t.Fatalf("identity render differs at %d: %v vs %v", i, hires[i], base[i])
		}
	}

	diff, err := e.ReadView(ViewDifference)
	if err != nil {
		t.Fatal(err)
	}
	for i, d := range diff {
		if d > 1e-3 {
			t.Fatalf("difference of identical images is %v at %d", d, i)
		}
	}
}

func TestPixelsBytes(t *testing.T) {
	in := []float32{0, 1.5, -2, float32(math.Inf(1))}
	out, err := PixelsFromBytes(PixelsToBytes(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := PixelsFromBytes(make([]byte, 5)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("odd length: err = %v", err)
	}
}

// A difference confined to the last two columns lands in cost-level texels
// that are mostly canvas padding. Their regional mean must still be the
// mean over the pixels they cover.
func TestEngineMaxLocalAtRegionEdge(t *testing.T) {
	edge := func(u, v float64) float64 {
		if u >= 0.96 {
			return 0.125
		}
		return 0.5
	}
	q := newTestQueue(t)
	e := newTestEngine(t, q, 50, 20, constant(0.5), edge)

	if got := e.CostLevel(); got != 3 {
		t.Fatalf("CostLevel = %d, want 3", got)
	}
	c := e.BestCost()
	if want := math.Log(4); math.Abs(c.MaxLocalDiff-want) > 1e-4 {
		t.Errorf("MaxLocalDiff = %v, want %v", c.MaxLocalDiff, want)
	}
	if want := 40 * math.Log(4) / (50 * 20); math.Abs(c.AvgDiff-want) > 1e-5 {
		t.Errorf("AvgDiff = %v, want %v", c.AvgDiff, want)
	}
}

// commandLog records the commands of every submission.
type commandLog struct {
	gpucore.Device
	cmds []gpucore.Command
}

func (d *commandLog) Submit(cmds []gpucore.Command, fence gpucore.FenceID, value uint64) error {
	d.cmds = append(d.cmds, cmds...)
	return d.Device.Submit(cmds, fence, value)
}

func TestEngineClearsBeforeDrawing(t *testing.T) {
	dev := cpu.New(cpu.WithWorkers(2))
	t.Cleanup(dev.Close)
	rec := &commandLog{Device: dev}
	e := newTestEngine(t, gpucore.NewQueue(rec), 24, 16, waves, shifted(waves, 0.02))

	rec.cmds = nil
	if _, err := e.OptimizeWarp(0.01); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RenderFullResolution(); err != nil {
		t.Fatal(err)
	}

	var draws, diffs int
	for i, c := range rec.cmds {
		var dst gpucore.TextureID
		switch c := c.(type) {
		case gpucore.DrawGrid:
			dst = c.Target
			draws++
		case gpucore.Difference:
			dst = c.Dst
			diffs++
		default:
			continue
		}
		if i == 0 {
			t.Fatalf("%s recorded first", gpucore.CommandName(c))
		}
		if cl, ok := rec.cmds[i-1].(gpucore.ClearTexture); !ok || cl.Texture != dst || cl.Level != 0 {
			t.Errorf("command %d (%s) is preceded by %s, want a clear of its output",
				i, gpucore.CommandName(c), gpucore.CommandName(rec.cmds[i-1]))
		}
	}
	if draws < 2 || diffs < 1 {
		t.Errorf("recorded %d draws and %d differences", draws, diffs)
	}
}

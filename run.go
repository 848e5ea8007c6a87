package aligner

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stop reasons reported in RunStats.StopReason.
const (
	StopManual        = "manually stopped"
	StopLowChange     = "low change in cost"
	StopMaxIterations = "reached maximum iterations"
	StopMaxRuntime    = "reached maximum run time"
)

// DefaultChangeWindow is the number of iterations the cost change is
// measured over.
const DefaultChangeWindow = 200

// RunParams controls Engine.Run.
type RunParams struct {
	// WarpStrength is the initial maximum bump magnitude.
	WarpStrength float64
	// WarpStrengthDecay shrinks the strength by this fraction per iteration.
	WarpStrengthDecay float64
	// MinWarpStrength is the floor of the decayed strength.
	MinWarpStrength float64

	// MinChangeInCost stops the run when the cost improved by less than
	// this over the last ChangeWindow iterations. 0 disables the check.
	MinChangeInCost float64
	ChangeWindow    int

	// MaxIterations and MaxRuntime bound the warp phase; 0 means unbounded.
	MaxIterations int
	MaxRuntime    time.Duration

	// TransformIterations global transform trials run before warping,
	// with the given jitters.
	TransformIterations int
	ScaleJitter         float64
	RotationJitter      float64
	OffsetJitter        float64

	// Progress, if set, is called after every warp iteration.
	Progress func(Progress)
}

// Progress is a snapshot of a running optimization.
type Progress struct {
	Iteration    int
	Good         int
	Cost         Cost
	WarpStrength float64
	Elapsed      time.Duration
}

// DefaultRunParams returns the parameters used by the command line tool.
func DefaultRunParams() RunParams {
	return RunParams{
		WarpStrength:      0.00015,
		WarpStrengthDecay: 0.001,
		MinWarpStrength:   0.0001,
		MinChangeInCost:   0.000005,
		ChangeWindow:      DefaultChangeWindow,
		ScaleJitter:       0.002,
		RotationJitter:    0.1,
		OffsetJitter:      0.002,
	}
}

func (p RunParams) validate(ctx context.Context) error {
	for _, v := range [...]float64{
		p.WarpStrength, p.WarpStrengthDecay, p.MinWarpStrength, p.MinChangeInCost,
		p.ScaleJitter, p.RotationJitter, p.OffsetJitter,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: run parameter %v", ErrInvalidArgument, v)
		}
	}
	if p.WarpStrengthDecay > 1 {
		return fmt.Errorf("%w: warp strength decay %v > 1", ErrInvalidArgument, p.WarpStrengthDecay)
	}
	if p.ChangeWindow < 0 || p.MaxIterations < 0 || p.MaxRuntime < 0 || p.TransformIterations < 0 {
		return fmt.Errorf("%w: negative run limit", ErrInvalidArgument)
	}
	if p.MinChangeInCost == 0 && p.MaxIterations == 0 && p.MaxRuntime == 0 && ctx.Done() == nil {
		return fmt.Errorf("%w: run has no stop condition", ErrInvalidArgument)
	}
	return nil
}

// RunStats summarizes a run.
type RunStats struct {
	StopReason          string
	Iterations          int
	GoodIterations      int
	TransformIterations int
	GoodTransforms      int
	Transform           Transform2D
	InitialCost         Cost
	FinalCost           Cost
	FinalWarpStrength   float64
	CostHistory         []float64
	Elapsed             time.Duration
	MeanImprovement     float64
	ImprovementStdDev   float64
}

// Run optimizes until a stop condition is met: the transform phase runs
// first, then warp iterations with a decaying strength. Cancellation is
// checked between iterations and reported as StopManual, not as an error.
// When the run ends the working views are re-rendered from the committed
// grid.
func (e *Engine) Run(ctx context.Context, p RunParams) (RunStats, error) {
	if err := p.validate(ctx); err != nil {
		return RunStats{}, err
	}
	window := p.ChangeWindow
	if window == 0 {
		window = DefaultChangeWindow
	}

	start := time.Now()
	stats := RunStats{InitialCost: e.BestCost()}
	t := e.Transform()
	for range p.TransformIterations {
		if ctx.Err() != nil {
			stats.StopReason = StopManual
			break
		}
		cand, ok, err := e.OptimizeTransform(t, p.ScaleJitter, p.RotationJitter, p.OffsetJitter)
		if err != nil {
			return stats, err
		}
		stats.TransformIterations++
		if ok {
			t = cand
			stats.GoodTransforms++
		}
	}
	stats.Transform = t

	strength := p.WarpStrength
	history := []float64{e.BestCost().AvgDiff}
	var improvements []float64
	for stats.StopReason == "" {
		switch {
		case ctx.Err() != nil:
			stats.StopReason = StopManual
			continue
		case p.MaxIterations > 0 && stats.Iterations >= p.MaxIterations:
			stats.StopReason = StopMaxIterations
			continue
		case p.MaxRuntime > 0 && time.Since(start) >= p.MaxRuntime:
			stats.StopReason = StopMaxRuntime
			continue
		}

		prev := history[len(history)-1]
		ok, err := e.OptimizeWarp(strength)
		if err != nil {
			stats.CostHistory = history
			return stats, err
		}
		stats.Iterations++
		cur := e.BestCost()
		if ok {
			stats.GoodIterations++
			improvements = append(improvements, prev-cur.AvgDiff)
		}
		history = append(history, cur.AvgDiff)
		strength = max(p.MinWarpStrength, strength*(1-p.WarpStrengthDecay))

		if p.Progress != nil {
			p.Progress(Progress{
				Iteration:    stats.Iterations,
				Good:         stats.GoodIterations,
				Cost:         cur,
				WarpStrength: strength,
				Elapsed:      time.Since(start),
			})
		}
		if p.MinChangeInCost > 0 && len(history) > window {
			if history[len(history)-1-window]-cur.AvgDiff < p.MinChangeInCost {
				stats.StopReason = StopLowChange
			}
		}
	}

	if err := e.RefreshViews(); err != nil {
		return stats, err
	}
	stats.FinalCost = e.BestCost()
	stats.FinalWarpStrength = strength
	stats.CostHistory = history
	stats.Elapsed = time.Since(start)
	switch len(improvements) {
	case 0:
	case 1:
		stats.MeanImprovement = improvements[0]
	default:
		stats.MeanImprovement, stats.ImprovementStdDev = stat.MeanStdDev(improvements, nil)
	}

	e.log().Info("aligner: run finished",
		"reason", stats.StopReason,
		"iterations", stats.Iterations,
		"good", stats.GoodIterations,
		"cost", stats.FinalCost.AvgDiff,
		"elapsed", stats.Elapsed)
	return stats, nil
}

package aligner

import (
	"fmt"
	"math"
)

// State is the optimizer state of an engine.
type State int

const (
	// StateIdle means no optimization step is in progress.
	StateIdle State = iota
	// StateProposingGaussianBump means a local warp is being applied.
	StateProposingGaussianBump
	// StateProposingTransformJitter means a global transform is being tried.
	StateProposingTransformJitter
	// StateEvaluating means the stages are running for a candidate.
	StateEvaluating
	// StateCommitted means the last candidate was kept.
	StateCommitted
	// StateRolledBack means the last candidate was discarded and the grid
	// restored.
	StateRolledBack
)

var stateNames = [...]string{
	StateIdle:                     "idle",
	StateProposingGaussianBump:    "proposing gaussian bump",
	StateProposingTransformJitter: "proposing transform jitter",
	StateEvaluating:               "evaluating",
	StateCommitted:                "committed",
	StateRolledBack:               "rolled back",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Gaussian bump radius range, in normalized image units.
const (
	minBumpRadius = 0.05
	maxBumpRadius = 0.5
)

// OptimizeWarp tries one random local deformation: a gaussian bump with a
// random center, radius, direction and a magnitude of up to strength. The
// change is kept if it lowers the cost; otherwise the grid is restored
// exactly. A rejected trial is reported as false, not as an error.
func (e *Engine) OptimizeWarp(strength float64) (bool, error) {
	if math.IsNaN(strength) || math.IsInf(strength, 0) || strength < 0 {
		return false, fmt.Errorf("%w: warp strength %v", ErrInvalidArgument, strength)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return false, err
	}
	defer e.setState(StateIdle)

	snap := e.grid.Snapshot()
	e.setState(StateProposingGaussianBump)
	minX, minY, maxX, maxY := e.grid.OrigBounds()
	cx := minX + e.rng.Float64()*(maxX-minX)
	cy := minY + e.rng.Float64()*(maxY-minY)
	radius := minBumpRadius + e.rng.Float64()*(maxBumpRadius-minBumpRadius)
	dirY, dirX := math.Sincos(e.rng.Float64() * 2 * math.Pi)
	magnitude := strength * e.rng.Float64()
	e.grid.Displace(cx, cy, radius, dirX, dirY, magnitude)

	return e.decide(snap, "warp")
}

// OptimizeTransform tries one random global transform around base: each
// scale axis is jittered by up to scaleJitter, the rotation by up to
// rotationJitter degrees and each offset axis by up to offsetJitter. The
// grid is regenerated from its orig positions through the candidate.
//
// On improvement the candidate is adopted and returned with true;
// otherwise the grid is restored exactly and base is returned with false.
func (e *Engine) OptimizeTransform(base Transform2D, scaleJitter, rotationJitter, offsetJitter float64) (Transform2D, bool, error) {
	for _, j := range [...]float64{scaleJitter, rotationJitter, offsetJitter} {
		if math.IsNaN(j) || math.IsInf(j, 0) || j < 0 {
			return base, false, fmt.Errorf("%w: transform jitter %v", ErrInvalidArgument, j)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(); err != nil {
		return base, false, err
	}
	defer e.setState(StateIdle)

	snap := e.grid.Snapshot()
	e.setState(StateProposingTransformJitter)
	cand := base
	cand.ScaleX += e.jitter(scaleJitter)
	cand.ScaleY += e.jitter(scaleJitter)
	cand.Rotation += e.jitter(rotationJitter)
	cand.OffsetX += e.jitter(offsetJitter)
	cand.OffsetY += e.jitter(offsetJitter)
	e.grid.Regenerate(cand)

	ok, err := e.decide(snap, "transform")
	if err != nil || !ok {
		return base, false, err
	}
	e.transform = cand
	return cand, true, nil
}

// jitter returns a uniform value in [-j, j).
func (e *Engine) jitter(j float64) float64 {
	return (2*e.rng.Float64() - 1) * j
}

// decide evaluates the proposed grid and either commits it or restores
// snap. Caller must hold e.mu.
func (e *Engine) decide(snap GridSnapshot, kind string) (bool, error) {
	cost, err := e.evaluateLocked()
	if err != nil {
		e.rollback(snap)
		return false, err
	}
	if cost.Better(e.best, e.cfg.LocalMaxGuard) {
		prev := e.best
		e.best = cost
		e.setState(StateCommitted)
		e.log().Debug("aligner: accepted", "kind", kind, "avg", cost.AvgDiff, "prev", prev.AvgDiff)
		return true, nil
	}
	e.rollback(snap)
	e.log().Debug("aligner: rejected", "kind", kind, "avg", cost.AvgDiff, "best", e.best.AvgDiff)
	return false, nil
}

// rollback restores the grid. The working views now show the rejected
// candidate and are re-rendered on the next read.
func (e *Engine) rollback(snap GridSnapshot) {
	// Snapshots always come from e.grid, so Restore cannot fail.
	_ = e.grid.Restore(snap)
	e.viewsStale = true
	e.setState(StateRolledBack)
}

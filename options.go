package aligner

import (
	"fmt"
	"log/slog"
	"math"
)

// Defaults used by DefaultConfig.
const (
	DefaultWorkingArea    = 800 * 800
	DefaultGridResolution = 12
	DefaultGridPadding    = 0.25
	DefaultCostArea       = 60
)

// Config holds the engine settings.
type Config struct {
	// WorkingArea is the pixel budget of the working-resolution images.
	// The image aspect ratio is preserved and images are never upscaled.
	WorkingArea int

	// GridResolution is the number of grid cells along the smaller image
	// axis. The larger axis gets proportionally more.
	GridResolution int

	// GridPadding adds a border of cells around the grid, as a fraction of
	// the larger grid axis per side. Negative values are treated as 0.
	GridPadding float64

	// CostArea is the largest number of texels allowed in the region
	// footprint of the cost level.
	CostArea int

	// Seed seeds the optimizer's random number generator.
	Seed uint64

	// BaseMul and TargetMul scale the luminance of each image before the
	// difference is taken (exposure matching).
	BaseMul   float32
	TargetMul float32

	// LocalMaxGuard, when > 0, rejects candidates whose largest regional
	// difference grows by more than this fraction.
	LocalMaxGuard float64
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		WorkingArea:    DefaultWorkingArea,
		GridResolution: DefaultGridResolution,
		GridPadding:    DefaultGridPadding,
		CostArea:       DefaultCostArea,
		BaseMul:        1,
		TargetMul:      1,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.WorkingArea < 1:
		return fmt.Errorf("%w: working area %d", ErrInvalidArgument, c.WorkingArea)
	case c.GridResolution < 1:
		return fmt.Errorf("%w: grid resolution %d", ErrInvalidArgument, c.GridResolution)
	case math.IsNaN(c.GridPadding) || math.IsInf(c.GridPadding, 0):
		return fmt.Errorf("%w: grid padding %v", ErrInvalidArgument, c.GridPadding)
	case c.CostArea < 1:
		return fmt.Errorf("%w: cost area %d", ErrInvalidArgument, c.CostArea)
	case !(c.BaseMul > 0) || !(c.TargetMul > 0):
		return fmt.Errorf("%w: multipliers must be positive (base %v, target %v)",
			ErrInvalidArgument, c.BaseMul, c.TargetMul)
	case c.LocalMaxGuard < 0 || math.IsNaN(c.LocalMaxGuard):
		return fmt.Errorf("%w: local max guard %v", ErrInvalidArgument, c.LocalMaxGuard)
	}
	return nil
}

// Option configures an Engine during creation.
//
// Example:
//
//	eng, err := aligner.NewEngine(queue, imgs,
//	    aligner.WithGridResolution(16),
//	    aligner.WithSeed(42),
//	)
type Option func(*engineOptions)

type engineOptions struct {
	cfg       Config
	logger    *slog.Logger
	stateHook func(State)
}

func defaultEngineOptions() engineOptions {
	return engineOptions{cfg: DefaultConfig()}
}

// WithConfig replaces every setting at once.
func WithConfig(c Config) Option {
	return func(o *engineOptions) { o.cfg = c }
}

// WithWorkingArea sets the pixel budget of the working-resolution images.
func WithWorkingArea(pixels int) Option {
	return func(o *engineOptions) { o.cfg.WorkingArea = pixels }
}

// WithGridResolution sets the number of cells along the smaller axis.
func WithGridResolution(cells int) Option {
	return func(o *engineOptions) { o.cfg.GridResolution = cells }
}

// WithGridPadding sets the grid padding fraction.
func WithGridPadding(p float64) Option {
	return func(o *engineOptions) { o.cfg.GridPadding = p }
}

// WithCostArea sets the texel budget of the cost level footprint.
func WithCostArea(texels int) Option {
	return func(o *engineOptions) { o.cfg.CostArea = texels }
}

// WithSeed seeds the optimizer.
func WithSeed(seed uint64) Option {
	return func(o *engineOptions) { o.cfg.Seed = seed }
}

// WithMultipliers sets the base and target luminance multipliers.
func WithMultipliers(base, target float32) Option {
	return func(o *engineOptions) {
		o.cfg.BaseMul = base
		o.cfg.TargetMul = target
	}
}

// WithLocalMaxGuard enables the regional maximum guard of the comparator.
func WithLocalMaxGuard(g float64) Option {
	return func(o *engineOptions) { o.cfg.LocalMaxGuard = g }
}

// WithLogger gives the engine its own logger instead of the package one.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithStateHook registers a function called on every optimizer state
// transition. It runs with the engine lock held and must not call back
// into the engine.
func WithStateHook(fn func(State)) Option {
	return func(o *engineOptions) { o.stateHook = fn }
}

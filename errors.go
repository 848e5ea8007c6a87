package aligner

import (
	"errors"
	"fmt"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// Errors returned by the aligner. Use errors.Is to test for them; every
// error is wrapped with context about the failing operation.
//
// A rejected optimization trial is not an error: OptimizeWarp and
// OptimizeTransform report it through their boolean result.
var (
	// ErrInvalidArgument reports bad dimensions, pixel data, options or
	// parameters.
	ErrInvalidArgument = errors.New("aligner: invalid argument")

	// ErrUnsupportedFormat reports a texture format the device cannot
	// minify with a linear filter.
	ErrUnsupportedFormat = errors.New("aligner: unsupported format")

	// ErrPreconditionViolation reports use of a closed engine or of
	// device resources that are gone.
	ErrPreconditionViolation = errors.New("aligner: precondition violation")
)

// deviceError maps a gpucore error onto the aligner taxonomy. Errors with
// no aligner equivalent (fence timeouts, driver failures) are wrapped as is.
func deviceError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gpucore.ErrUnsupportedFormat):
		return fmt.Errorf("%w: %s: %w", ErrUnsupportedFormat, op, err)
	case errors.Is(err, gpucore.ErrInvalidDescriptor):
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, op, err)
	case errors.Is(err, gpucore.ErrDeviceClosed),
		errors.Is(err, gpucore.ErrUnknownResource),
		errors.Is(err, gpucore.ErrInvalidCommand):
		return fmt.Errorf("%w: %s: %w", ErrPreconditionViolation, op, err)
	default:
		return fmt.Errorf("aligner: %s: %w", op, err)
	}
}

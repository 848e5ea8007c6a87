package gpucore

import "errors"

// Device errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")

	// ErrInvalidDescriptor is returned for malformed texture or mesh descriptors.
	ErrInvalidDescriptor = errors.New("gpucore: invalid descriptor")

	// ErrInvalidCommand is returned when a recorded command references
	// levels, sizes or formats that do not fit its resources.
	ErrInvalidCommand = errors.New("gpucore: invalid command")

	// ErrUnsupportedFormat is returned when an operation requires a
	// capability the texture format lacks.
	ErrUnsupportedFormat = errors.New("gpucore: unsupported format")

	// ErrDeviceClosed is returned by every operation after Close.
	ErrDeviceClosed = errors.New("gpucore: device closed")

	// ErrFenceTimeout is returned when a fence is not signaled in time.
	ErrFenceTimeout = errors.New("gpucore: fence wait timed out")
)

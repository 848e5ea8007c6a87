package backend

import (
	"errors"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or cannot open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// BackendCPU is the name of the software device (backend/cpu).
	BackendCPU = "cpu"
	// BackendWGPU is the name of the Pure Go GPU device (backend/wgpu).
	BackendWGPU = "wgpu"
)

// Factory opens a new device. A factory returns an error wrapping
// ErrBackendNotAvailable when the backend cannot run on this machine.
type Factory func() (gpucore.Device, error)

package backend

import "github.com/bean-mhm/img-aligner-sub001/gpucore"

// Opened is a device together with how it was selected.
type Opened struct {
	// Name is the backend that opened the device.
	Name string

	// Device is the opened device. The caller owns it and must Close it.
	Device gpucore.Device

	// Skipped lists errors from higher-priority backends that failed.
	Skipped []error
}

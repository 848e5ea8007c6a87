//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/bean-mhm/img-aligner-sub001/backend"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

func init() {
	backend.Register(backend.BackendWGPU, func() (gpucore.Device, error) {
		d, err := New()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBackendNotAvailable, err)
		}
		return d, nil
	})
}

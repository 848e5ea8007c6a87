package cpu

import (
	"github.com/bean-mhm/img-aligner-sub001/backend"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

func init() {
	backend.Register(backend.BackendCPU, func() (gpucore.Device, error) {
		return New(), nil
	})
}

// Package backend selects the device that executes aligner command lists.
//
// Device packages register a factory from an init() function:
//
//	import (
//		_ "github.com/bean-mhm/img-aligner-sub001/backend/cpu"
//		_ "github.com/bean-mhm/img-aligner-sub001/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use OpenDefault to get the best available device, or Open to request a
// specific backend by name:
//
//	opened, err := backend.OpenDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer opened.Device.Close()
//	queue := gpucore.NewQueue(opened.Device)
//
// # Available Backends
//
// - "cpu": software device on a go-highway worker pool (always available)
// - "wgpu": WGSL compute kernels on gogpu/wgpu HAL (Vulkan)
package backend

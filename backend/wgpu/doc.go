// Package wgpu implements gpucore.Device on top of the Pure Go WebGPU HAL
// (github.com/gogpu/wgpu/hal) with WGSL compute kernels.
//
// Kernels are written in WGSL and compiled to SPIR-V with naga at device
// creation. Textures are stored as storage buffers holding every mip level
// back to back, so all kernels address texels directly and the same
// bilinear, mirrored-repeat sampling code runs on every level. Each recorded
// command becomes its own compute pass; pass boundaries order storage
// writes, which is how Barrier commands are honored.
//
// The backend registers itself under the name "wgpu". Opening a device
// fails with backend.ErrBackendNotAvailable when no Vulkan adapter is
// present, letting callers fall back to the software device.
//
// Build with -tags nogpu to exclude the HAL-backed device entirely.
package wgpu

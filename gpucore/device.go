package gpucore

import "time"

// Device abstracts over the backends that execute aligner command lists.
//
// Implementations must be safe for concurrent use: several engines may
// create, write and destroy their own resources from different goroutines.
// Submission ordering across engines is the job of [Queue].
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and are never reused
type Device interface {
	// Name returns the backend identifier (e.g., "cpu", "wgpu").
	Name() string

	// SupportsLinearFilter reports whether textures of the format can be
	// minified with a linear 2x2 filter.
	SupportsLinearFilter(format TextureFormat) bool

	// CreateTexture allocates a texture with all of its mip levels
	// zero-initialized.
	CreateTexture(desc TextureDesc) (TextureID, error)

	// WriteTexture uploads one mip level. data must hold exactly
	// levelW*levelH*channels values.
	WriteTexture(id TextureID, level int, data []float32) error

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// CreateMesh allocates vertex storage and uploads the immutable indices.
	CreateMesh(desc MeshDesc) (MeshID, error)

	// WriteVertices replaces every vertex of a mesh.
	WriteVertices(id MeshID, vertices []Vertex) error

	// DestroyMesh releases a mesh.
	DestroyMesh(id MeshID)

	// CreateReadbackBuffer allocates a host-readable buffer of size floats.
	CreateReadbackBuffer(size int) (BufferID, error)

	// ReadBuffer copies the first len(dst) floats of a readback buffer.
	// It must only be called after the submission writing the buffer has
	// been waited on.
	ReadBuffer(id BufferID, dst []float32) error

	// DestroyBuffer releases a readback buffer.
	DestroyBuffer(id BufferID)

	// CreateFence creates a timeline fence starting at value 0.
	CreateFence() (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(id FenceID)

	// Submit executes cmds in order and signals fence with value once
	// every command has completed.
	Submit(cmds []Command, fence FenceID, value uint64) error

	// Wait blocks until fence reaches value or timeout elapses.
	// It returns false without an error on timeout.
	Wait(fence FenceID, value uint64, timeout time.Duration) (bool, error)

	// Close releases every resource owned by the device.
	Close()
}

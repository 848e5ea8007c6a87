// Package gpucore provides the backend-agnostic device abstraction used by
// the aligner pipeline.
//
// The aligner never talks to a graphics API directly. It records
// [Command] values into a [CommandEncoder] and hands them to a [Queue],
// which serializes submission across every engine sharing the same
// [Device] and blocks on a per-engine [Fence] until the work is complete.
//
//	               +------------------+
//	               |  aligner.Engine  |
//	               | (warp/diff/cost) |
//	               +--------+---------+
//	                        |  CommandEncoder
//	               +--------v---------+
//	               |  gpucore.Queue   |  mutex around submit + wait
//	               +--------+---------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|   backend/cpu   |          |  backend/wgpu   |
//	| (worker pool)   |          | (hal compute)   |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// Resources are referenced by opaque IDs ([TextureID], [MeshID],
// [BufferID], [FenceID]). A device maps IDs to backend resources and
// must be safe for concurrent use. Destroying a resource that is referenced
// by an in-flight submission is undefined behavior; the queue never
// returns before the submission's fence is signaled, so callers that
// destroy after SubmitAndWait are always safe.
//
// # Textures
//
// A texture is a 2D float image with a fixed number of mip levels. Level i
// has size max(1, w>>i) x max(1, h>>i). Channel data is interleaved,
// row-major, top-to-bottom.
package gpucore

// Package aligner aligns a base image to a target image by deforming a
// coarse control grid until the warped base matches the target.
//
// # Overview
//
// An [Engine] owns the images and the deformation [Grid] and evaluates a
// candidate grid in three stages that run on a [gpucore.Device]:
//
//  1. warp: the base image is drawn through the grid triangles into a
//     working-resolution image
//  2. difference: the absolute log-luminance difference against the target
//     is written into a square power-of-two canvas
//  3. cost: a 2x2 box-filter pyramid reduces the canvas to its mean and to
//     a coarse level of per-region maxima
//
// The optimizer proposes a random change, evaluates it and keeps it only if
// the [Cost] improves; otherwise the grid is restored exactly.
//
// # Quick Start
//
//	dev := cpu.New()
//	defer dev.Close()
//	queue := gpucore.NewQueue(dev)
//
//	eng, err := aligner.NewEngine(queue, aligner.Images{
//	    Width: w, Height: h, Base: base, Target: target,
//	}, aligner.WithSeed(1))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	stats, err := eng.Run(ctx, aligner.DefaultRunParams())
//	pixels, err := eng.RenderFullResolution()
//
// # Backends
//
// The software device (backend/cpu) runs everywhere and is deterministic.
// The GPU device (backend/wgpu) runs the same kernels as WGSL compute
// shaders. Both register with the backend package; backend.OpenDefault
// picks the best available one.
//
// # Concurrency
//
// Engine methods may be called from several goroutines; an internal mutex
// serializes them, so one trial always completes before the next starts. Several engines may share one [gpucore.Queue], which
// serializes their submissions. [AlignBatch] runs one engine per worker.
package aligner

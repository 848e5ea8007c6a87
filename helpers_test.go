package aligner

import (
	"math"
	"testing"

	"github.com/bean-mhm/img-aligner-sub001/backend/cpu"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

func newTestQueue(t *testing.T) *gpucore.Queue {
	t.Helper()
	dev := cpu.New(cpu.WithWorkers(2))
	t.Cleanup(dev.Close)
	return gpucore.NewQueue(dev)
}

// grayImage fills a w x h RGBA image with f evaluated at normalized pixel
// centers.
func grayImage(w, h int, f func(u, v float64) float64) []float32 {
	pix := make([]float32, w*h*4)
	for y := range h {
		for x := range w {
			g := float32(f((float64(x)+0.5)/float64(w), (float64(y)+0.5)/float64(h)))
			copy(pix[(y*w+x)*4:], []float32{g, g, g, 1})
		}
	}
	return pix
}

func constant(c float64) func(u, v float64) float64 {
	return func(float64, float64) float64 { return c }
}

// waves is a smooth, strictly positive pattern.
func waves(u, v float64) float64 {
	return 0.5 + 0.3*math.Sin(2*math.Pi*(1.5*u+0.5*v))*math.Cos(2*math.Pi*v)
}

// shifted returns f moved right by d.
func shifted(f func(u, v float64) float64, d float64) func(u, v float64) float64 {
	return func(u, v float64) float64 { return f(u-d, v) }
}

func newTestEngine(t *testing.T, q *gpucore.Queue, w, h int, base, target func(u, v float64) float64, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(q, Images{
		Width: w, Height: h,
		Base:   grayImage(w, h, base),
		Target: grayImage(w, h, target),
	}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func sameVertices(t *testing.T, got, want []gpucore.Vertex) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d vertices, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Float32bits(got[i].WarpedX) != math.Float32bits(want[i].WarpedX) ||
			math.Float32bits(got[i].WarpedY) != math.Float32bits(want[i].WarpedY) {
			t.Fatalf("vertex %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

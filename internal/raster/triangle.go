// Package raster rasterizes the triangles of a deformation grid.
//
// Coverage is decided per pixel center with edge functions, inclusive on
// every edge, so two triangles sharing an edge never leave a gap between
// them. Callers that draw overlapping triangles in a fixed order get a
// deterministic "last triangle wins" result.
package raster

import "math"

// Point represents a 2D point in pixel space.
type Point struct {
	X, Y float64
}

// coverageEpsilon widens the inclusive barycentric test so shared edges
// stay watertight under rounding.
const coverageEpsilon = 1e-9

// Barycentric holds the interpolation weights of the three corners.
type Barycentric [3]float32

// Interpolate blends one attribute given per corner.
func (b Barycentric) Interpolate(a0, a1, a2 float32) float32 {
	return b[0]*a0 + b[1]*a1 + b[2]*a2
}

// Triangle is a triangle prepared for rasterization.
type Triangle struct {
	p    [3]Point
	area float64 // twice the signed area

	minX, minY int // first covered pixel candidates
	maxX, maxY int // last covered pixel candidates (inclusive)
}

// NewTriangle prepares a triangle. It returns false for degenerate
// triangles (zero area or non-finite corners), which cover no pixels.
func NewTriangle(p0, p1, p2 Point) (Triangle, bool) {
	for _, p := range [3]Point{p0, p1, p2} {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return Triangle{}, false
		}
	}
	area := edge(p0, p1, p2)
	if area == 0 {
		return Triangle{}, false
	}

	minFX := min(p0.X, p1.X, p2.X)
	maxFX := max(p0.X, p1.X, p2.X)
	minFY := min(p0.Y, p1.Y, p2.Y)
	maxFY := max(p0.Y, p1.Y, p2.Y)

	// Pixel x is covered at center x+0.5.
	return Triangle{
		p:    [3]Point{p0, p1, p2},
		area: area,
		minX: int(math.Ceil(minFX - 0.5)),
		maxX: int(math.Floor(maxFX - 0.5)),
		minY: int(math.Ceil(minFY - 0.5)),
		maxY: int(math.Floor(maxFY - 0.5)),
	}, true
}

// Bounds returns the inclusive pixel bounding box of candidate pixels.
func (t *Triangle) Bounds() (minX, minY, maxX, maxY int) {
	return t.minX, t.minY, t.maxX, t.maxY
}

// Rasterize calls fn for every pixel in columns [0, width) and rows
// [y0, y1) whose center lies inside the triangle or on its boundary.
// Pixels are visited row by row, left to right.
func (t *Triangle) Rasterize(width, y0, y1 int, fn func(x, y int, b Barycentric)) {
	ys := max(t.minY, y0)
	ye := min(t.maxY, y1-1)
	xs := max(t.minX, 0)
	xe := min(t.maxX, width-1)
	if ys > ye || xs > xe {
		return
	}

	inv := 1 / t.area
	eps := -coverageEpsilon
	for y := ys; y <= ye; y++ {
		py := float64(y) + 0.5
		for x := xs; x <= xe; x++ {
			p := Point{X: float64(x) + 0.5, Y: py}
			w0 := edge(t.p[1], t.p[2], p) * inv
			w1 := edge(t.p[2], t.p[0], p) * inv
			w2 := edge(t.p[0], t.p[1], p) * inv
			if w0 < eps || w1 < eps || w2 < eps {
				continue
			}
			fn(x, y, Barycentric{float32(w0), float32(w1), float32(w2)})
		}
	}
}

// edge returns twice the signed area of triangle (a, b, p).
func edge(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

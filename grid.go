package aligner

import (
	"fmt"
	"math"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// Grid is the deformable control grid.
//
// Vertices are stored row by row, (paddedW+1) x (paddedH+1) of them. Orig
// positions are normalized over the unpadded grid, so padding vertices lie
// below 0 or above 1; they never change after creation. Warped positions
// are what the optimizer moves.
type Grid struct {
	gridW, gridH     int
	paddedW, paddedH int
	padX, padY       int
	vertices         []gpucore.Vertex
	indices          []uint32
}

// GridSnapshot is an exact copy of a grid's warped positions.
type GridSnapshot struct {
	paddedW, paddedH int
	warped           [][2]float32
}

// NewGrid builds a grid for an imgW x imgH image with smallestAxisRes
// cells along the smaller axis and the given padding fraction.
func NewGrid(imgW, imgH, smallestAxisRes int, padding float64) (*Grid, error) {
	if imgW < 1 || imgH < 1 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidArgument, imgW, imgH)
	}
	if smallestAxisRes < 1 {
		return nil, fmt.Errorf("%w: grid resolution %d", ErrInvalidArgument, smallestAxisRes)
	}
	if math.IsNaN(padding) || math.IsInf(padding, 0) {
		return nil, fmt.Errorf("%w: grid padding %v", ErrInvalidArgument, padding)
	}

	aspect := float64(max(imgW, imgH)) / float64(min(imgW, imgH))
	long := int(math.Ceil(float64(smallestAxisRes) * aspect))
	g := &Grid{gridW: long, gridH: smallestAxisRes}
	if imgW < imgH {
		g.gridW, g.gridH = smallestAxisRes, long
	}

	padding = max(padding, 0)
	border := 2 * padding * float64(max(g.gridW, g.gridH))
	g.paddedW = paddedRes(g.gridW, border)
	g.paddedH = paddedRes(g.gridH, border)
	g.padX = (g.paddedW - g.gridW) / 2
	g.padY = (g.paddedH - g.gridH) / 2

	cols, rows := g.paddedW+1, g.paddedH+1
	g.vertices = make([]gpucore.Vertex, cols*rows)
	for y := range rows {
		oy := float32(float64(y-g.padY) / float64(g.gridH))
		for x := range cols {
			ox := float32(float64(x-g.padX) / float64(g.gridW))
			g.vertices[y*cols+x] = gpucore.Vertex{WarpedX: ox, WarpedY: oy, OrigX: ox, OrigY: oy}
		}
	}

	g.indices = make([]uint32, 0, g.paddedW*g.paddedH*6)
	for y := range g.paddedH {
		for x := range g.paddedW {
			bl := uint32(y*cols + x)
			br := bl + 1
			tl := uint32((y+1)*cols + x)
			tr := tl + 1
			g.indices = append(g.indices, bl, br, tr, bl, tr, tl)
		}
	}
	return g, nil
}

// paddedRes adds border cells, rounding up so the added count is even.
func paddedRes(res int, border float64) int {
	p := int(math.Ceil(float64(res) + border))
	if (p-res)%2 != 0 {
		p++
	}
	return p
}

// Size returns the unpadded cell counts.
func (g *Grid) Size() (int, int) { return g.gridW, g.gridH }

// PaddedSize returns the cell counts including padding.
func (g *Grid) PaddedSize() (int, int) { return g.paddedW, g.paddedH }

// Padding returns the number of padding cells on each side.
func (g *Grid) Padding() (int, int) { return g.padX, g.padY }

// VertexCount returns the number of vertices.
func (g *Grid) VertexCount() int { return len(g.vertices) }

// Vertices returns a copy of the vertices.
func (g *Grid) Vertices() []gpucore.Vertex {
	return append([]gpucore.Vertex(nil), g.vertices...)
}

// Vertex returns the vertex at column x, row y.
func (g *Grid) Vertex(x, y int) gpucore.Vertex {
	return g.vertices[y*(g.paddedW+1)+x]
}

// Indices returns the triangle indices. The slice must not be modified.
func (g *Grid) Indices() []uint32 { return g.indices }

// OrigBounds returns the orig-space rectangle covered by the padded grid.
func (g *Grid) OrigBounds() (minX, minY, maxX, maxY float64) {
	first := g.vertices[0]
	last := g.vertices[len(g.vertices)-1]
	return float64(first.OrigX), float64(first.OrigY), float64(last.OrigX), float64(last.OrigY)
}

// Regenerate sets every warped position to t applied to the orig position.
func (g *Grid) Regenerate(t Transform2D) {
	for i := range g.vertices {
		v := &g.vertices[i]
		x, y := t.Apply(float64(v.OrigX), float64(v.OrigY))
		v.WarpedX, v.WarpedY = float32(x), float32(y)
	}
}

// Displace moves every vertex along (dirX, dirY) by magnitude scaled with
// a gaussian falloff of its orig distance to (cx, cy).
func (g *Grid) Displace(cx, cy, radius, dirX, dirY, magnitude float64) {
	if !(radius > 0) {
		return
	}
	inv := 1 / radius
	for i := range g.vertices {
		v := &g.vertices[i]
		dx := (float64(v.OrigX) - cx) * inv
		dy := (float64(v.OrigY) - cy) * inv
		w := magnitude * math.Exp(-0.5*(dx*dx+dy*dy))
		v.WarpedX = float32(float64(v.WarpedX) + dirX*w)
		v.WarpedY = float32(float64(v.WarpedY) + dirY*w)
	}
}

// Snapshot captures the warped positions.
func (g *Grid) Snapshot() GridSnapshot {
	s := GridSnapshot{paddedW: g.paddedW, paddedH: g.paddedH, warped: make([][2]float32, len(g.vertices))}
	for i, v := range g.vertices {
		s.warped[i] = [2]float32{v.WarpedX, v.WarpedY}
	}
	return s
}

// Restore puts back warped positions captured by Snapshot.
func (g *Grid) Restore(s GridSnapshot) error {
	if s.paddedW != g.paddedW || s.paddedH != g.paddedH || len(s.warped) != len(g.vertices) {
		return fmt.Errorf("%w: snapshot of a %dx%d grid restored into %dx%d",
			ErrInvalidArgument, s.paddedW, s.paddedH, g.paddedW, g.paddedH)
	}
	for i, w := range s.warped {
		g.vertices[i].WarpedX, g.vertices[i].WarpedY = w[0], w[1]
	}
	return nil
}

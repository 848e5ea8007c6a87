package aligner

import (
	"fmt"
	"math"
)

// Transform2D is a similarity-like transform in normalized image space:
// scale, then rotate (degrees), then offset. Scaling and rotation pivot on
// the image center (0.5, 0.5).
type Transform2D struct {
	ScaleX, ScaleY   float64
	Rotation         float64
	OffsetX, OffsetY float64
}

// IdentityTransform returns the transform that leaves points unchanged.
func IdentityTransform() Transform2D {
	return Transform2D{ScaleX: 1, ScaleY: 1}
}

// IsIdentity reports whether t leaves points unchanged.
func (t Transform2D) IsIdentity() bool {
	return t == IdentityTransform()
}

// Apply maps a normalized point.
func (t Transform2D) Apply(x, y float64) (float64, float64) {
	x = (x - 0.5) * t.ScaleX
	y = (y - 0.5) * t.ScaleY
	s, c := math.Sincos(t.Rotation * math.Pi / 180)
	rx := c*x + s*y
	ry := -s*x + c*y
	return rx + 0.5 + t.OffsetX, ry + 0.5 + t.OffsetY
}

// String implements fmt.Stringer.
func (t Transform2D) String() string {
	return fmt.Sprintf("scale(%.5g, %.5g) rotation %.5g° offset(%.5g, %.5g)",
		t.ScaleX, t.ScaleY, t.Rotation, t.OffsetX, t.OffsetY)
}

package image

import "math"

// Luminance weights (Rec. 709).
const (
	LumR = 0.2126
	LumG = 0.7152
	LumB = 0.0722
)

// Luminance returns the Rec. 709 luminance of a linear RGB color.
func Luminance(r, g, b float32) float32 {
	return LumR*r + LumG*g + LumB*b
}

// MirrorIndex maps any integer texel index into [0, n) with
// mirrored-repeat addressing: ... 2 1 0 | 0 1 2 ... n-1 | n-1 n-2 ...
func MirrorIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - 1 - m
	}
	return m
}

// SampleBilinearMirror performs bilinear interpolation at normalized
// coordinates (u, v) with mirrored-repeat addressing and writes one value
// per channel into out. (0,0) is the top-left corner of the plane and (1,1)
// the bottom-right corner; texel centers sit at half-integer pixel
// coordinates.
func SampleBilinearMirror(p *Plane, u, v float64, out []float32) {
	w, h := p.Bounds()

	// Convert normalized coords to continuous pixel coords
	fx := u*float64(w) - 0.5
	fy := v*float64(h) - 0.5

	fx0 := math.Floor(fx)
	fy0 := math.Floor(fy)
	tx := float32(fx - fx0)
	ty := float32(fy - fy0)

	x0 := int(fx0)
	y0 := int(fy0)
	x1 := MirrorIndex(x0+1, w)
	y1 := MirrorIndex(y0+1, h)
	x0 = MirrorIndex(x0, w)
	y0 = MirrorIndex(y0, h)

	t00 := p.Texel(x0, y0)
	t10 := p.Texel(x1, y0)
	t01 := p.Texel(x0, y1)
	t11 := p.Texel(x1, y1)

	for c := range out {
		top := t00[c] + (t10[c]-t00[c])*tx
		bottom := t01[c] + (t11[c]-t01[c])*tx
		out[c] = top + (bottom-top)*ty
	}
}

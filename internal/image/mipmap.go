package image

// MipmapChain holds a plane and its successively halved versions.
//
// Level i+1 is max(1, floor(w_i/2)) x max(1, floor(h_i/2)), and every texel
// averages the 2x2 block at twice its coordinates. On an odd axis the last
// source row or column is not read; on a 1-texel axis the single texel is
// used twice. For power-of-two squares the last level therefore equals the
// exact mean of level 0.
type MipmapChain struct {
	levels []*Plane // Level 0 = original size
}

// NewMipmapChain allocates numLevels levels for a base of the given size.
// Level contents are zero.
func NewMipmapChain(width, height, channels, numLevels int) (*MipmapChain, error) {
	if numLevels < 1 {
		return nil, ErrInvalidDimensions
	}
	chain := &MipmapChain{levels: make([]*Plane, numLevels)}
	for i := range numLevels {
		p, err := NewPlane(max(1, width>>i), max(1, height>>i), channels)
		if err != nil {
			return nil, err
		}
		chain.levels[i] = p
	}
	return chain, nil
}

// GenerateMipmaps builds every level above 0 from the level below.
func (m *MipmapChain) GenerateMipmaps() {
	for i := 1; i < len(m.levels); i++ {
		dst := m.levels[i]
		DownsampleRows(dst, m.levels[i-1], 0, dst.Height())
	}
}

// DownsampleRows writes rows [y0, y1) of dst from src with a 2x2 box filter.
// dst must be the next mip level of src. Splitting the rows between workers
// gives identical results to a single call.
func DownsampleRows(dst, src *Plane, y0, y1 int) {
	srcW, srcH := src.Bounds()
	dstW := dst.Width()
	ch := src.Channels()

	for dy := y0; dy < y1; dy++ {
		sy0 := min(dy*2, srcH-1)
		sy1 := min(dy*2+1, srcH-1)
		row0 := src.Row(sy0)
		row1 := src.Row(sy1)
		out := dst.Row(dy)
		for dx := range dstW {
			sx0 := min(dx*2, srcW-1) * ch
			sx1 := min(dx*2+1, srcW-1) * ch
			o := dx * ch
			for c := range ch {
				out[o+c] = (row0[sx0+c] + row0[sx1+c] + row1[sx0+c] + row1[sx1+c]) * 0.25
			}
		}
	}
}

// Level returns the plane at the specified level.
// Level 0 is the original image. Returns nil if level is out of range.
func (m *MipmapChain) Level(n int) *Plane {
	if m == nil || n < 0 || n >= len(m.levels) {
		return nil
	}
	return m.levels[n]
}

// NumLevels returns the total number of levels in the chain.
// Returns 0 if the chain is nil.
func (m *MipmapChain) NumLevels() int {
	if m == nil {
		return 0
	}
	return len(m.levels)
}

package aligner

import (
	"math"
	"math/bits"
)

// upperPowerOf2 returns the smallest power of two >= n (1 for n <= 1).
func upperPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// roundLog2 returns log2(x) rounded to the nearest integer, 0 for x <= 1.
func roundLog2(x float64) int {
	if !(x > 1) {
		return 0
	}
	return int(math.Round(math.Log2(x)))
}

// workingSize scales w x h down to at most area pixels, keeping the aspect
// ratio. Images within the budget keep their size.
func workingSize(w, h, area int) (int, int) {
	if w*h <= area {
		return w, h
	}
	s := math.Sqrt(float64(area) / float64(w*h))
	ww := max(1, int(math.Floor(float64(w)*s)))
	wh := max(1, int(math.Floor(float64(h)*s)))
	return ww, wh
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

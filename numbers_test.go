package aligner

import (
	"math"
	"testing"
)

func TestUpperPowerOf2(t *testing.T) {
	tests := []struct{ n, want int }{
		{-1, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {800, 1024}, {1024, 1024}, {1025, 2048},
	}
	for _, tt := range tests {
		if got := upperPowerOf2(tt.n); got != tt.want {
			t.Errorf("upperPowerOf2(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestRoundLog2(t *testing.T) {
	tests := []struct {
		x    float64
		want int
	}{
		{0, 0}, {1, 0}, {1.3, 0}, {1.5, 1}, {2, 1}, {2.9, 2}, {4, 2}, {6, 3}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := roundLog2(tt.x); got != tt.want {
			t.Errorf("roundLog2(%v) = %d, want %d", tt.x, got, tt.want)
		}
	}
}

func TestWorkingSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h, area   int
		wantW, wantH int
	}{
		{"within budget", 640, 480, 800 * 800, 640, 480},
		{"exact budget", 800, 800, 800 * 800, 800, 800},
		{"square downscale", 1600, 1600, 800 * 800, 800, 800},
		{"landscape downscale", 4000, 2000, 2000000, 2000, 1000},
		{"tiny budget", 64, 16, 4, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := workingSize(tt.w, tt.h, tt.area)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("workingSize = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
			if w*h > max(tt.area, 1) {
				t.Errorf("%dx%d exceeds area %d", w, h, tt.area)
			}
		})
	}
}

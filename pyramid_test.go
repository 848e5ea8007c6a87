package aligner

import (
	"errors"
	"testing"

	"github.com/bean-mhm/img-aligner-sub001/backend/cpu"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

func TestCostLevel(t *testing.T) {
	tests := []struct {
		name                     string
		workW, workH, side, area int
		want                     int
	}{
		{"single texel", 1, 1, 1, 60, 0},
		{"region already small", 8, 6, 8, 60, 0},
		{"non power of two", 48, 20, 64, 60, 2},
		{"large landscape", 800, 600, 1024, 60, 7},
		{"area one reaches last level", 64, 64, 64, 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CostLevel(tt.workW, tt.workH, tt.side, tt.area); got != tt.want {
				t.Errorf("CostLevel = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPyramidReducerRecord(t *testing.T) {
	dev := cpu.New()
	defer dev.Close()
	r := NewPyramidReducer(dev)
	enc := gpucore.NewCommandEncoder("test")

	desc := gpucore.TextureDesc{Width: 8, Height: 4, Format: gpucore.TextureFormatR32Float, MipLevels: 4}
	if err := r.Record(enc, 1, desc); err != nil {
		t.Fatal(err)
	}
	// One downsample and one barrier per level above 0.
	if got := enc.Len(); got != 6 {
		t.Errorf("recorded %d commands, want 6", got)
	}

	desc.Format = gpucore.TextureFormatR32Uint
	if err := r.Record(enc, 1, desc); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("R32Uint: err = %v, want ErrUnsupportedFormat", err)
	}
}

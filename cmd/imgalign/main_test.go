package main

import (
	"strings"
	"testing"

	aligner "github.com/bean-mhm/img-aligner-sub001"
)

func TestChainTarget(t *testing.T) {
	pair := func(w, h int) aligner.Images {
		return aligner.Images{
			Width: w, Height: h,
			Base:   make([]float32, w*h*4),
			Target: make([]float32, w*h*4),
		}
	}
	prevPix := make([]float32, 4*3*4)
	prevPix[0] = 7

	tests := []struct {
		name    string
		imgs    aligner.Images
		prev    *chainLink
		wantErr []string
		chained bool
	}{
		{"first pair", pair(4, 3), nil, nil, false},
		{"same size", pair(4, 3), &chainLink{name: "a.png", width: 4, height: 3, pixels: prevPix}, nil, true},
		{"wider pair", pair(5, 3), &chainLink{name: "a.png", width: 4, height: 3, pixels: prevPix},
			[]string{"b.png", "5x3", "a.png", "4x3"}, false},
		// Same pixel count, different shape.
		{"transposed pair", pair(3, 4), &chainLink{name: "a.png", width: 4, height: 3, pixels: prevPix},
			[]string{"3x4", "4x3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chainTarget("b.png", tt.imgs, tt.prev)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatal("expected an error")
				}
				for _, s := range tt.wantErr {
					if !strings.Contains(err.Error(), s) {
						t.Errorf("error %q does not mention %q", err, s)
					}
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if chained := len(got.Target) > 0 && got.Target[0] == 7; chained != tt.chained {
				t.Errorf("target chained = %v, want %v", chained, tt.chained)
			}
		})
	}
}

package gpucore

import (
	"errors"
	"testing"
)

func TestFullMipLevels(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{3, 3, 2},
		{4, 4, 3},
		{1000, 600, 10},
		{1024, 1024, 11},
		{0, 5, 3},
	}
	for _, tt := range tests {
		if got := FullMipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("FullMipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestLevelSizeReachesOne(t *testing.T) {
	desc := TextureDesc{Width: 300, Height: 7, Format: TextureFormatR32Float}
	desc.MipLevels = FullMipLevels(desc.Width, desc.Height)
	w, h := desc.LevelSize(desc.Levels() - 1)
	if w != 1 || h != 1 {
		t.Errorf("last level = %dx%d, want 1x1", w, h)
	}
	if err := desc.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTextureDescValidate(t *testing.T) {
	tests := []struct {
		name string
		desc TextureDesc
	}{
		{"zero width", TextureDesc{Width: 0, Height: 4, Format: TextureFormatR32Float}},
		{"no format", TextureDesc{Width: 4, Height: 4}},
		{"too many levels", TextureDesc{Width: 4, Height: 4, Format: TextureFormatR32Float, MipLevels: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.desc.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Validate = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}

func TestMeshDescValidate(t *testing.T) {
	ok := MeshDesc{VertexCount: 4, Indices: []uint32{0, 1, 2, 0, 2, 3}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid mesh: %v", err)
	}
	bad := []MeshDesc{
		{VertexCount: 4, Indices: []uint32{0, 1}},
		{VertexCount: 4, Indices: []uint32{0, 1, 4}},
		{VertexCount: 2, Indices: []uint32{0, 1, 1}},
	}
	for i, d := range bad {
		if err := d.Validate(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("case %d: Validate = %v, want ErrInvalidDescriptor", i, err)
		}
	}
}

func TestFormatCapabilities(t *testing.T) {
	tests := []struct {
		f          TextureFormat
		channels   int
		filterable bool
	}{
		{TextureFormatRGBA32Float, 4, true},
		{TextureFormatR32Float, 1, true},
		{TextureFormatR32Uint, 1, false},
		{TextureFormat(99), 0, false},
	}
	for _, tt := range tests {
		if got := tt.f.Channels(); got != tt.channels {
			t.Errorf("%s.Channels() = %d, want %d", tt.f, got, tt.channels)
		}
		if got := tt.f.Filterable(); got != tt.filterable {
			t.Errorf("%s.Filterable() = %v, want %v", tt.f, got, tt.filterable)
		}
	}
}

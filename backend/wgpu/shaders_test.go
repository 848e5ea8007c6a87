package wgpu

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"
)

// TestKernelShadersCompile checks that every kernel compiles to SPIR-V.
func TestKernelShadersCompile(t *testing.T) {
	for id := range numKernels {
		def := kernelDefs[id]
		t.Run(def.name, func(t *testing.T) {
			if def.source == "" {
				t.Fatal("shader source is empty")
			}
			spirv, err := naga.Compile(def.source)
			if err != nil {
				msg := err.Error()
				if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
					t.Skipf("naga feature not yet implemented: %v", err)
				}
				t.Fatalf("compile %s: %v", def.name, err)
			}
			if len(spirv) < 4 {
				t.Fatal("SPIR-V too short")
			}
			magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
			if magic != 0x07230203 {
				t.Errorf("invalid SPIR-V magic: 0x%08X, want 0x07230203", magic)
			}
		})
	}
}

// TestKernelShadersShareParams guards the uniform layout: every kernel
// must declare the same Params struct that params.encode writes.
func TestKernelShadersShareParams(t *testing.T) {
	fields := []string{
		"src_w: u32", "src_h: u32", "src_off: u32", "src_ch: u32",
		"dst_w: u32", "dst_h: u32", "dst_off: u32", "dst_ch: u32",
		"region_w: u32", "region_h: u32", "aux_w: u32", "tri_count: u32",
		"mul_a: f32", "mul_b: f32", "tri_base: u32", "_pad: u32",
	}
	for id := range numKernels {
		src := kernelDefs[id].source
		last := -1
		for _, f := range fields {
			i := strings.Index(src, f)
			if i < 0 {
				t.Errorf("%s: missing field %q", kernelDefs[id].name, f)
				continue
			}
			if i < last {
				t.Errorf("%s: field %q out of order", kernelDefs[id].name, f)
			}
			last = i
		}
	}
}

func TestKernelBindingsMatchShaders(t *testing.T) {
	for id := range numKernels {
		def := kernelDefs[id]
		got := strings.Count(def.source, "@binding(")
		if want := len(def.bindings) + 1; got != want {
			t.Errorf("%s: shader declares %d bindings, pipeline layout has %d", def.name, got, want)
		}
	}
}

func TestCompileSPIRVWords(t *testing.T) {
	words, err := compileSPIRV(clearShaderWGSL)
	if err != nil {
		if strings.Contains(err.Error(), "not yet implemented") {
			t.Skipf("naga feature not yet implemented: %v", err)
		}
		t.Fatalf("compileSPIRV: %v", err)
	}
	if len(words) == 0 || words[0] != 0x07230203 {
		t.Fatalf("got %d words, want SPIR-V magic first", len(words))
	}
}

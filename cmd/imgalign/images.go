package main

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	// Decoders registered with image.Decode, used by imgio.Open.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	aligner "github.com/bean-mhm/img-aligner-sub001"
)

// loadLinear opens an sRGB image file and returns its size and its pixels
// as linear RGBA float32.
func loadLinear(path string) (int, int, []float32, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("open %s: %w", path, err)
	}
	w, h, pix := toLinear(img)
	return w, h, pix, nil
}

// toLinear converts a decoded sRGB image to linear RGBA float32.
func toLinear(img image.Image) (int, int, []float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]float32, w*h*4)
	for y := range h {
		for x := range w {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			r, g, bl := colorful.Color{
				R: float64(c.R) / 0xffff,
				G: float64(c.G) / 0xffff,
				B: float64(c.B) / 0xffff,
			}.LinearRgb()
			o := (y*w + x) * 4
			pix[o] = float32(r)
			pix[o+1] = float32(g)
			pix[o+2] = float32(bl)
			pix[o+3] = float32(c.A) / 0xffff
		}
	}
	return w, h, pix
}

// fromLinear converts linear RGBA float32 back to a 16-bit sRGB image.
// Values outside [0, 1] are clamped.
func fromLinear(w, h int, pix []float32) *image.NRGBA64 {
	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			o := (y*w + x) * 4
			c := colorful.LinearRgb(float64(pix[o]), float64(pix[o+1]), float64(pix[o+2])).Clamped()
			a := min(max(pix[o+3], 0), 1)
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: uint16(c.R*0xffff + 0.5),
				G: uint16(c.G*0xffff + 0.5),
				B: uint16(c.B*0xffff + 0.5),
				A: uint16(a*0xffff + 0.5),
			})
		}
	}
	return img
}

// saveLinear writes linear RGBA pixels. The format follows the file
// extension: .f32 keeps the raw float data, .tif/.tiff is 16-bit, and
// .png, .jpg and .bmp go through imgio.
func saveLinear(path string, w, h int, pix []float32) error {
	if strings.EqualFold(filepath.Ext(path), ".f32") {
		return os.WriteFile(path, aligner.PixelsToBytes(pix), 0o644)
	}
	return saveImage(path, fromLinear(w, h, pix))
}

func saveImage(path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
			f.Close()
			return fmt.Errorf("encode %s: %w", path, err)
		}
		return f.Close()
	case ".png":
		return imgio.Save(path, img, imgio.PNGEncoder())
	case ".jpg", ".jpeg":
		return imgio.Save(path, img, imgio.JPEGEncoder(95))
	case ".bmp":
		return imgio.Save(path, img, imgio.BMPEncoder())
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
}

// differenceMap crops the working region out of the difference canvas,
// normalizes it to its maximum and scales it up to w x h.
func differenceMap(canvas []float32, side, workW, workH, w, h int) image.Image {
	var peak float32
	for y := range workH {
		for _, d := range canvas[y*side : y*side+workW] {
			peak = max(peak, d)
		}
	}
	small := image.NewGray16(image.Rect(0, 0, workW, workH))
	if peak > 0 {
		for y := range workH {
			for x, d := range canvas[y*side : y*side+workW] {
				small.SetGray16(x, y, color.Gray16{Y: uint16(d / peak * 0xffff)})
			}
		}
	}
	if workW == w && workH == h {
		return small
	}
	return transform.Resize(small, w, h, transform.Linear)
}

// alignedPath returns where the warped version of base is written in batch
// mode: next to base, or in dir when set, with suffix added to the stem.
func alignedPath(base, dir, suffix, ext string) string {
	if ext == "" {
		ext = filepath.Ext(base)
	}
	stem := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if dir == "" {
		dir = filepath.Dir(base)
	}
	return filepath.Join(dir, stem+suffix+ext)
}

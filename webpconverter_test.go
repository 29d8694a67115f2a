package webpconverter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/webp-converter/pkg/compositor"
	"github.com/menta2k/webp-converter/pkg/session"
	"github.com/menta2k/webp-converter/pkg/types"
)

// createTestImage creates a simple test image with a bright center
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeWebP(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid WebP: %v", err)
	}
	return img
}

func alpha(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a >> 8
}

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
	if c.processor == nil || c.prober == nil || c.cropper == nil || c.compositor == nil {
		t.Error("converter component is nil")
	}
}

func TestNewWithConfig(t *testing.T) {
	c, err := NewWithConfig(Config{
		DefaultQuality: 0.7,
		Compositor:     compositor.Config{Resample: "linear"},
	})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	if c.processor.DefaultQuality() != 0.7 {
		t.Errorf("Expected default quality 0.7, got %v", c.processor.DefaultQuality())
	}

	if _, err := NewWithConfig(Config{Compositor: compositor.Config{Resample: "sinc"}}); err == nil {
		t.Error("Expected error for unknown resample filter")
	}
}

func TestProbe(t *testing.T) {
	c := New()
	d, err := c.Probe(context.Background(), encodePNG(t, createTestImage(800, 600)))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if d != (types.Dimensions{Width: 800, Height: 600}) {
		t.Errorf("Expected 800x600, got %s", d)
	}

	if _, err := c.Probe(context.Background(), []byte("plain text")); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for non-image data, got %v", err)
	}
}

func TestConvertSquareFromLandscape(t *testing.T) {
	c := New()
	out, err := c.ConvertBytes(context.Background(), encodePNG(t, createTestImage(800, 600)), ConvertOptions{
		Width:  400,
		Height: 400,
		Mask:   types.NoMask(),
	})
	if err != nil {
		t.Fatalf("ConvertBytes failed: %v", err)
	}
	if out.MimeType != "image/webp" || out.Size != len(out.Data) {
		t.Errorf("Unexpected output metadata %+v", out)
	}

	img := decodeWebP(t, out.Data)
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 400 {
		t.Fatalf("Expected 400x400, got %v", img.Bounds())
	}
	for _, p := range [][2]int{{0, 0}, {399, 0}, {0, 399}, {399, 399}, {200, 200}} {
		if a := alpha(img, p[0], p[1]); a != 255 {
			t.Errorf("pixel %v should be opaque, alpha %d", p, a)
		}
	}
}

func TestConvertCircle(t *testing.T) {
	c := New()
	out, err := c.ConvertBytes(context.Background(), encodePNG(t, createTestImage(1000, 500)), ConvertOptions{
		Width:   300,
		Height:  300,
		Mask:    types.Circle(),
		Quality: 0.9,
	})
	if err != nil {
		t.Fatalf("ConvertBytes failed: %v", err)
	}

	img := decodeWebP(t, out.Data)
	for _, p := range [][2]int{{0, 0}, {299, 0}, {0, 299}, {299, 299}} {
		if a := alpha(img, p[0], p[1]); a > 8 {
			t.Errorf("corner %v should be transparent, alpha %d", p, a)
		}
	}
	if a := alpha(img, 150, 150); a < 247 {
		t.Errorf("center should be opaque, alpha %d", a)
	}
}

func TestConvertWithCrop(t *testing.T) {
	c := New()
	region := types.CropRegion{X: 10, Y: 10, Width: 50, Height: 50, Unit: types.UnitPercent}
	out, err := c.ConvertBytes(context.Background(), encodePNG(t, createTestImage(800, 600)), ConvertOptions{Crop: &region})
	if err != nil {
		t.Fatalf("ConvertBytes failed: %v", err)
	}
	if out.Width != 400 || out.Height != 300 {
		t.Errorf("Expected natural crop size 400x300, got %dx%d", out.Width, out.Height)
	}
}

func TestConvertWithAspect(t *testing.T) {
	c := New()
	source := types.NewRaster(createTestImage(800, 600), "png")

	out, err := c.ConvertImage(context.Background(), source, ConvertOptions{Aspect: 1})
	if err != nil {
		t.Fatalf("ConvertImage failed: %v", err)
	}
	if out.Width != 540 || out.Height != 540 {
		t.Errorf("Expected the centered 540x540 crop, got %dx%d", out.Width, out.Height)
	}
}

func TestConvertTallScreenshot(t *testing.T) {
	c := New()
	source := types.NewRaster(image.NewNRGBA(image.Rect(0, 0, 1080, 40000)), "png")

	out, err := c.ConvertImage(context.Background(), source, ConvertOptions{Width: 1080, Height: 1080})
	if err != nil {
		t.Fatalf("ConvertImage failed: %v", err)
	}
	if out.Width != 1080 || out.Height != 1080 {
		t.Errorf("Expected 1080x1080, got %dx%d", out.Width, out.Height)
	}
}

func TestConvertOptionsTarget(t *testing.T) {
	source := types.Dimensions{Width: 800, Height: 600}
	tests := []struct {
		name string
		opts ConvertOptions
		want types.Dimensions
	}{
		{"natural", ConvertOptions{}, source},
		{"width only", ConvertOptions{Width: 400}, types.Dimensions{Width: 400, Height: 300}},
		{"height only", ConvertOptions{Height: 150}, types.Dimensions{Width: 200, Height: 150}},
		{"both", ConvertOptions{Width: 10, Height: 90}, types.Dimensions{Width: 10, Height: 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.Target(source); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvertErrors(t *testing.T) {
	c := New()
	ctx := context.Background()
	data := encodePNG(t, createTestImage(100, 100))

	if _, err := c.ConvertBytes(ctx, data, ConvertOptions{Width: -5, Height: 10}); !errors.Is(err, types.ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension, got %v", err)
	}

	outside := types.CropRegion{X: 50, Y: 50, Width: 80, Height: 10, Unit: types.UnitPixel}
	if _, err := c.ConvertBytes(ctx, data, ConvertOptions{Crop: &outside}); !errors.Is(err, types.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds, got %v", err)
	}

	if _, err := c.ConvertBytes(ctx, data[:40], ConvertOptions{}); !errors.Is(err, types.ErrDecode) {
		t.Errorf("Expected ErrDecode for truncated data, got %v", err)
	}

	if _, err := c.Convert(ctx, types.ConversionRequest{Target: types.Dimensions{Width: 1, Height: 1}}); !errors.Is(err, types.ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}

	src := types.NewRaster(createTestImage(10, 10), "png")
	huge := types.ConversionRequest{Source: src, Target: types.Dimensions{Width: 40000, Height: 10}}
	if _, err := c.Convert(ctx, huge); !errors.Is(err, types.ErrRenderingBackendUnavailable) {
		t.Errorf("Expected ErrRenderingBackendUnavailable, got %v", err)
	}
}

func TestProcessImageFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "photo.png")
	if err := os.WriteFile(input, encodePNG(t, createTestImage(120, 80)), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := New().ProcessImageFile(context.Background(), input, ConvertOptions{Width: 60, Mask: types.RoundedRect(10)})
	if err != nil {
		t.Fatalf("ProcessImageFile failed: %v", err)
	}
	if out.Width != 60 || out.Height != 40 {
		t.Errorf("Expected 60x40, got %dx%d", out.Width, out.Height)
	}

	if _, err := New().ProcessImageFile(context.Background(), filepath.Join(dir, "missing.png"), ConvertOptions{}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSessionWithConverter(t *testing.T) {
	c := New()
	ctx := context.Background()
	s := c.NewSession(session.DefaultOptions())
	defer s.Close()

	if _, err := s.LoadSource(ctx, "holiday.png", encodePNG(t, createTestImage(800, 600))); err != nil {
		t.Fatalf("LoadSource failed: %v", err)
	}
	out, err := s.SetDimensions(ctx, types.Dimensions{Width: 400, Height: 400})
	if err != nil {
		t.Fatalf("SetDimensions failed: %v", err)
	}
	if !out.Applied {
		t.Fatal("Expected conversion to apply")
	}

	h := s.Current()
	if h.Name != "holiday.webp" {
		t.Errorf("Expected holiday.webp, got %s", h.Name)
	}
	img := decodeWebP(t, h.Bytes())
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 400 {
		t.Errorf("Expected 400x400 output, got %v", img.Bounds())
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected version %s, got %s", Version, GetVersion())
	}
}

func BenchmarkConvert(b *testing.B) {
	c := New()
	src := types.NewRaster(createTestImage(800, 600), "png")
	req := types.ConversionRequest{Source: src, Target: types.Dimensions{Width: 256, Height: 256}, Mask: types.Circle()}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Convert(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

package probe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/webp-converter/pkg/types"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Fill with a gradient pattern
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}

	return img
}

func encodePNG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, createTestImage(width, height), imaging.PNG); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	p := New()

	dims, err := p.Probe(context.Background(), encodePNG(t, 400, 300))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if dims != (types.Dimensions{Width: 400, Height: 300}) {
		t.Errorf("Expected 400x300, got %s", dims)
	}
}

func TestProbeRejectsNonImage(t *testing.T) {
	p := New()

	_, err := p.Probe(context.Background(), []byte("just some text, definitely not pixels"))
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestProbeMaxInputBytes(t *testing.T) {
	data := encodePNG(t, 50, 50)
	p := NewWithConfig(nil, Config{MaxInputBytes: int64(len(data) - 1)})

	if _, err := p.Probe(context.Background(), data); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for oversized input, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, encodePNG(t, 32, 16), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New()
	raster, err := p.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if raster.Width() != 32 || raster.Height() != 16 {
		t.Errorf("Expected 32x16, got %s", raster.Dimensions())
	}

	if _, err := p.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadFromReader(t *testing.T) {
	p := New()
	raster, err := p.LoadFromReader(context.Background(), bytes.NewReader(encodePNG(t, 7, 9)))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	if raster.Width() != 7 || raster.Height() != 9 {
		t.Errorf("Expected 7x9, got %s", raster.Dimensions())
	}
}

func TestGetImageInfo(t *testing.T) {
	info := GetImageInfo(types.NewRaster(createTestImage(400, 300), "png"))

	if info.Width != 400 {
		t.Errorf("Expected width 400, got %d", info.Width)
	}
	if info.Height != 300 {
		t.Errorf("Expected height 300, got %d", info.Height)
	}
	expectedRatio := float64(400) / float64(300)
	if info.AspectRatio != expectedRatio {
		t.Errorf("Expected aspect ratio %f, got %f", expectedRatio, info.AspectRatio)
	}
	if info.Area != 120000 {
		t.Errorf("Expected area 120000, got %d", info.Area)
	}
	if info.Format != "png" {
		t.Errorf("Expected format png, got %s", info.Format)
	}
}

func BenchmarkProbe(b *testing.B) {
	p := New()
	data := encodePNG(b, 1920, 1080)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Probe(ctx, data); err != nil {
			b.Fatal(err)
		}
	}
}

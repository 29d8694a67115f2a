package processing

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/webp-converter/pkg/types"
)

// createTestImage creates a simple gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}
	return img
}

func encodeTestImage(t *testing.T, img image.Image, format imaging.Format) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	p := NewProcessor()

	png := encodeTestImage(t, createTestImage(10, 10), imaging.PNG)
	if mime, err := p.Sniff(png); err != nil || mime != "image/png" {
		t.Errorf("png: got %q, %v", mime, err)
	}

	jpg := encodeTestImage(t, createTestImage(10, 10), imaging.JPEG)
	if mime, err := p.Sniff(jpg); err != nil || mime != "image/jpeg" {
		t.Errorf("jpeg: got %q, %v", mime, err)
	}

	tif := encodeTestImage(t, createTestImage(10, 10), imaging.TIFF)
	if _, err := p.Sniff(tif); err != nil {
		t.Errorf("tiff should be accepted: %v", err)
	}

	invalid := [][]byte{
		nil,
		[]byte("hello, world"),
		[]byte("<html><body>nope</body></html>"),
	}
	for _, data := range invalid {
		if _, err := p.Sniff(data); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("%q: expected ErrInvalidInput, got %v", data, err)
		}
	}
}

func TestDecode(t *testing.T) {
	p := NewProcessor()
	data := encodeTestImage(t, createTestImage(80, 60), imaging.PNG)

	raster, err := p.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if raster.Width() != 80 || raster.Height() != 60 {
		t.Errorf("dimensions: got %s, want 80x60", raster.Dimensions())
	}
	if raster.Format != "png" {
		t.Errorf("format: got %q, want png", raster.Format)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	p := NewProcessor()
	data := encodeTestImage(t, createTestImage(80, 60), imaging.PNG)

	// valid signature, truncated body
	_, err := p.Decode(context.Background(), data[:40])
	if !errors.Is(err, types.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeCancelled(t *testing.T) {
	p := NewProcessor()
	data := encodeTestImage(t, createTestImage(8, 8), imaging.PNG)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Decode(ctx, data); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEncodeWebP(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(64, 48)

	enc, err := p.Encode(context.Background(), img, types.DefaultQuality)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if enc.Size != len(enc.Data) || enc.Size == 0 {
		t.Errorf("size %d does not match %d bytes", enc.Size, len(enc.Data))
	}
	if enc.MimeType != OutputMimeType {
		t.Errorf("mime: got %q", enc.MimeType)
	}
	if enc.Width != 64 || enc.Height != 48 {
		t.Errorf("dimensions: got %dx%d", enc.Width, enc.Height)
	}

	// the output must decode back through the same pipeline
	raster, err := p.Decode(context.Background(), enc.Data)
	if err != nil {
		t.Fatalf("decode of encoded output failed: %v", err)
	}
	if raster.Width() != 64 || raster.Height() != 48 {
		t.Errorf("round trip dimensions: got %s", raster.Dimensions())
	}
}

func TestEncodeQualityAffectsSize(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(256, 256)

	low, err := p.Encode(context.Background(), img, 0.1)
	if err != nil {
		t.Fatalf("Encode low failed: %v", err)
	}
	high, err := p.Encode(context.Background(), img, 1.0)
	if err != nil {
		t.Fatalf("Encode high failed: %v", err)
	}
	if low.Size >= high.Size {
		t.Errorf("expected quality 0.1 (%d bytes) to be smaller than 1.0 (%d bytes)", low.Size, high.Size)
	}
}

func TestNormalizeQuality(t *testing.T) {
	p := NewProcessor()
	tests := map[float64]float64{
		0.5:  0.5,
		1:    1,
		0:    types.DefaultQuality,
		-1:   types.DefaultQuality,
		1.01: types.DefaultQuality,
	}
	for in, want := range tests {
		if got := p.NormalizeQuality(in); got != want {
			t.Errorf("NormalizeQuality(%v) = %v, want %v", in, got, want)
		}
	}

	if q := NewProcessorWithQuality(0.5).NormalizeQuality(7); q != 0.5 {
		t.Errorf("custom default not used: %v", q)
	}
	if q := NewProcessorWithQuality(3).DefaultQuality(); q != types.DefaultQuality {
		t.Errorf("invalid custom default should fall back: %v", q)
	}
}

func TestEncodeNil(t *testing.T) {
	p := NewProcessor()
	if _, err := p.Encode(context.Background(), nil, 0.9); !errors.Is(err, types.ErrEncode) {
		t.Errorf("expected ErrEncode, got %v", err)
	}
}

func BenchmarkEncode(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(512, 512)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Encode(ctx, img, types.DefaultQuality); err != nil {
			b.Fatal(err)
		}
	}
}

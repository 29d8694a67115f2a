package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/webp-converter/pkg/types"
)

// OutputMimeType is the content type produced by Encode
const OutputMimeType = "image/webp"

// Processor handles byte level decode and encode operations
type Processor struct {
	defaultQuality float64
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{defaultQuality: types.DefaultQuality}
}

// NewProcessorWithQuality creates a processor whose fallback quality is q
func NewProcessorWithQuality(q float64) *Processor {
	if q <= 0 || q > 1 {
		q = types.DefaultQuality
	}
	return &Processor{defaultQuality: q}
}

// DefaultQuality returns the quality used for out-of-range requests
func (p *Processor) DefaultQuality() float64 {
	return p.defaultQuality
}

// Sniff validates that data looks like an image and returns its MIME type.
// Non-image data is rejected with ErrInvalidInput before any decode happens.
func (p *Processor) Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty input", types.ErrInvalidInput)
	}

	contentType := http.DetectContentType(data)
	if strings.HasPrefix(contentType, "image/") {
		return contentType, nil
	}

	// Formats the content sniffer does not know (e.g. TIFF) are still
	// accepted when a registered decoder claims the header.
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return "image/" + format, nil
	}

	return "", fmt.Errorf("%w: content type %s is not an image", types.ErrInvalidInput, contentType)
}

// Decode sniffs and decodes data into a raster, honouring EXIF orientation
func (p *Processor) Decode(ctx context.Context, data []byte) (*types.Raster, error) {
	mimeType, err := p.Sniff(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := p.decodeImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrDecode, mimeType, err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", types.ErrDecode, b.Dx(), b.Dy())
	}

	return types.NewRaster(img, strings.TrimPrefix(mimeType, "image/")), nil
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	// Registered decoders, with orientation applied the way browsers do
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	// Extended WebP features the pure Go decoder does not handle
	if webpImg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return webpImg, nil
	}

	if errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("unknown or unsupported format")
	}
	return nil, err
}

// NormalizeQuality maps q into (0,1]; anything else yields the default
func (p *Processor) NormalizeQuality(q float64) float64 {
	if q <= 0 || q > 1 {
		return p.defaultQuality
	}
	return q
}

// Encode serializes img as lossy WebP at the given quality in (0,1]
func (p *Processor) Encode(ctx context.Context, img image.Image, quality float64) (*types.EncodedImage, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", types.ErrEncode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := p.NormalizeQuality(quality)

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: false, Quality: float32(q * 100)}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncode, err)
	}

	b := img.Bounds()
	return &types.EncodedImage{
		Data:     buf.Bytes(),
		Size:     buf.Len(),
		MimeType: OutputMimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

// Package webpconverter converts raster images into WebP at a chosen size,
// optionally cropped and clipped to a rounded rectangle or circle.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		webpconverter "github.com/menta2k/webp-converter"
//		"github.com/menta2k/webp-converter/pkg/types"
//	)
//
//	func main() {
//		conv := webpconverter.New()
//
//		out, err := conv.ProcessImageFile(context.Background(), "photo.jpg", webpconverter.ConvertOptions{
//			Width:   300,
//			Height:  300,
//			Mask:    types.Circle(),
//			Quality: 0.9,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := os.WriteFile("photo.webp", out.Data, 0644); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package wires four stages together:
//
// 1. Probe (pkg/probe): sniffs and decodes the input and reports its natural size
// 2. Cropper (pkg/cropper): turns drawn regions into exact source pixels
// 3. Compositor (pkg/compositor): cover-fits the source onto the target canvas and applies the mask
// 4. Processing (pkg/processing): encodes the canvas as lossy WebP
//
// Interactive editing, where every parameter change triggers a new
// conversion and only the newest result may become visible, is handled by
// pkg/session on top of a Converter.
package webpconverter

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/webp-converter/pkg/compositor"
	"github.com/menta2k/webp-converter/pkg/cropper"
	"github.com/menta2k/webp-converter/pkg/probe"
	"github.com/menta2k/webp-converter/pkg/processing"
	"github.com/menta2k/webp-converter/pkg/session"
	"github.com/menta2k/webp-converter/pkg/types"
)

// Version of the converter library
const Version = "1.0.0"

// Converter provides a high-level interface for probing, cropping,
// compositing and encoding
type Converter struct {
	processor  *processing.Processor
	prober     *probe.Prober
	cropper    *cropper.Planner
	compositor *compositor.Compositor
}

var _ session.Engine = (*Converter)(nil)

// New creates a new Converter with default configuration
func New() *Converter {
	processor := processing.NewProcessor()
	return &Converter{
		processor:  processor,
		prober:     probe.NewWithConfig(processor, probe.Config{}),
		cropper:    cropper.New(),
		compositor: compositor.New(),
	}
}

// Config collects the per-stage configuration
type Config struct {
	DefaultQuality float64
	Probe          probe.Config
	Crop           cropper.CropConfig
	Compositor     compositor.Config
}

// NewWithConfig creates a new Converter with custom configuration
func NewWithConfig(config Config) (*Converter, error) {
	comp, err := compositor.NewWithConfig(config.Compositor)
	if err != nil {
		return nil, fmt.Errorf("invalid compositor config: %w", err)
	}
	processor := processing.NewProcessorWithQuality(config.DefaultQuality)
	return &Converter{
		processor:  processor,
		prober:     probe.NewWithConfig(processor, config.Probe),
		cropper:    cropper.NewWithConfig(config.Crop),
		compositor: comp,
	}, nil
}

// Probe returns the natural size of an encoded image
func (c *Converter) Probe(ctx context.Context, data []byte) (types.Dimensions, error) {
	return c.prober.Probe(ctx, data)
}

// Load decodes an encoded image
func (c *Converter) Load(ctx context.Context, data []byte) (*types.Raster, error) {
	return c.prober.Load(ctx, data)
}

// LoadFile decodes the image stored at path
func (c *Converter) LoadFile(ctx context.Context, path string) (*types.Raster, error) {
	return c.prober.LoadFile(ctx, path)
}

// Crop extracts region from source
func (c *Converter) Crop(source *types.Raster, region types.CropRegion) (*types.Raster, types.PixelCropRegion, error) {
	return c.cropper.Crop(source, region)
}

// SuggestCrop returns the initial crop region for source
func (c *Converter) SuggestCrop(source types.Dimensions, aspect float64) types.CropRegion {
	return c.cropper.CenterAspectCrop(source, aspect)
}

// Composite renders source onto a target canvas clipped by mask
func (c *Converter) Composite(ctx context.Context, source image.Image, target types.Dimensions, mask types.MaskShape) (*image.RGBA, error) {
	return c.compositor.Composite(ctx, source, target, mask)
}

// Encode serializes img as WebP
func (c *Converter) Encode(ctx context.Context, img image.Image, quality float64) (*types.EncodedImage, error) {
	return c.processor.Encode(ctx, img, quality)
}

// Convert runs one conversion request: composite, then encode
func (c *Converter) Convert(ctx context.Context, req types.ConversionRequest) (*types.EncodedImage, error) {
	if req.Source == nil || req.Source.Image == nil {
		return nil, types.ErrNoSource
	}

	canvas, err := c.compositor.Composite(ctx, req.Source.Image, req.Target, req.Mask)
	if err != nil {
		return nil, err
	}

	out, err := c.processor.Encode(ctx, canvas, req.Quality)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Uint64("seq", req.Seq).
		Str("source", req.Source.Dimensions().String()).
		Str("target", req.Target.String()).
		Str("mask", req.Mask.String()).
		Int("bytes", out.Size).
		Msg("converted")

	return out, nil
}

// NewSession starts an interactive editing session backed by c
func (c *Converter) NewSession(opts session.Options) *session.Session {
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = c.processor.DefaultQuality()
	}
	return session.New(c, opts)
}

// ConvertOptions describe a one-shot conversion
type ConvertOptions struct {
	// Width and Height of the output. When one is zero it follows the
	// source aspect ratio; when both are zero the source size is kept.
	Width  int
	Height int
	// Crop is applied to the source before scaling
	Crop *types.CropRegion
	// Aspect locks the crop to width/height. Without Crop the largest
	// centered region of that aspect is used.
	Aspect  float64
	Mask    types.MaskShape
	Quality float64
}

// Target resolves the output size for a source of the given size
func (o ConvertOptions) Target(source types.Dimensions) types.Dimensions {
	return source.Fit(o.Width, o.Height)
}

// Region resolves the crop for a source of the given size, or nil for none
func (o ConvertOptions) Region(planner *cropper.Planner, source types.Dimensions) *types.CropRegion {
	switch {
	case o.Crop != nil:
		region := *o.Crop
		if o.Aspect > 0 {
			region.AspectLock = o.Aspect
		}
		return &region
	case o.Aspect > 0:
		region := planner.CenterAspectCrop(source, o.Aspect)
		return &region
	}
	return nil
}

// ConvertImage converts an already decoded raster
func (c *Converter) ConvertImage(ctx context.Context, source *types.Raster, opts ConvertOptions) (*types.EncodedImage, error) {
	if source == nil {
		return nil, types.ErrNoSource
	}
	if region := opts.Region(c.cropper, source.Dimensions()); region != nil {
		cropped, _, err := c.cropper.Crop(source, *region)
		if err != nil {
			return nil, fmt.Errorf("crop failed: %w", err)
		}
		source = cropped
	}

	target := opts.Target(source.Dimensions())
	if err := target.Validate(); err != nil {
		return nil, err
	}

	return c.Convert(ctx, types.ConversionRequest{
		Source:  source,
		Target:  target,
		Mask:    opts.Mask,
		Quality: opts.Quality,
	})
}

// ConvertBytes decodes data and converts it
func (c *Converter) ConvertBytes(ctx context.Context, data []byte, opts ConvertOptions) (*types.EncodedImage, error) {
	source, err := c.Load(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.ConvertImage(ctx, source, opts)
}

// ProcessImageFile is a convenience function that loads, optionally crops,
// and converts the image at inputPath
func (c *Converter) ProcessImageFile(ctx context.Context, inputPath string, opts ConvertOptions) (*types.EncodedImage, error) {
	source, err := c.LoadFile(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", inputPath, err)
	}
	out, err := c.ConvertImage(ctx, source, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", inputPath, err)
	}
	return out, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

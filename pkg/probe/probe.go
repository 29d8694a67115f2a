package probe

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/menta2k/webp-converter/pkg/processing"
	"github.com/menta2k/webp-converter/pkg/types"
)

// Prober reports the natural size of encoded images
type Prober struct {
	processor *processing.Processor
	config    Config
}

// Config holds configuration for the prober
type Config struct {
	// MaxInputBytes rejects larger inputs before decoding. Zero means unlimited.
	MaxInputBytes int64
}

// New creates a new Prober with default configuration
func New() *Prober {
	return &Prober{processor: processing.NewProcessor()}
}

// NewWithConfig creates a new Prober with custom configuration
func NewWithConfig(processor *processing.Processor, config Config) *Prober {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	return &Prober{processor: processor, config: config}
}

// Probe decodes data and returns its natural dimensions
func (p *Prober) Probe(ctx context.Context, data []byte) (types.Dimensions, error) {
	raster, err := p.Load(ctx, data)
	if err != nil {
		return types.Dimensions{}, err
	}
	return raster.Dimensions(), nil
}

// Load validates and decodes data into a raster
func (p *Prober) Load(ctx context.Context, data []byte) (*types.Raster, error) {
	if p.config.MaxInputBytes > 0 && int64(len(data)) > p.config.MaxInputBytes {
		return nil, fmt.Errorf("%w: input is %d bytes (limit %d)", types.ErrInvalidInput, len(data), p.config.MaxInputBytes)
	}
	return p.processor.Decode(ctx, data)
}

// LoadFromReader reads all of r and decodes it
func (p *Prober) LoadFromReader(ctx context.Context, r io.Reader) (*types.Raster, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return p.Load(ctx, data)
}

// LoadFile reads and decodes the file at path
func (p *Prober) LoadFile(ctx context.Context, path string) (*types.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return p.LoadFromReader(ctx, f)
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
	Format      string  `json:"format"`
}

// GetImageInfo returns basic information about a raster
func GetImageInfo(r *types.Raster) ImageInfo {
	d := r.Dimensions()
	return ImageInfo{
		Width:       d.Width,
		Height:      d.Height,
		AspectRatio: d.AspectRatio(),
		Area:        d.Width * d.Height,
		Format:      r.Format,
	}
}

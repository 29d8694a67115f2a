// Package compositor scales a source image to cover a target canvas and clips
// it to a rectangle, rounded rectangle or circle.
package compositor

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/webp-converter/pkg/types"
)

// Browser canvas limits; anything larger cannot be allocated as a surface
const (
	DefaultMaxCanvasSide = 32767
	DefaultMaxCanvasArea = 268435456
)

// Config holds configuration for the compositor
type Config struct {
	Resample      string
	MaxCanvasSide int
	MaxCanvasArea int
}

// Compositor renders masked, cover-fit canvases
type Compositor struct {
	filter imaging.ResampleFilter
	config Config
}

// New creates a new Compositor with default configuration
func New() *Compositor {
	c, _ := NewWithConfig(Config{})
	return c
}

// NewWithConfig creates a new Compositor with custom configuration
func NewWithConfig(config Config) (*Compositor, error) {
	if config.Resample == "" {
		config.Resample = "lanczos"
	}
	if config.MaxCanvasSide <= 0 {
		config.MaxCanvasSide = DefaultMaxCanvasSide
	}
	if config.MaxCanvasArea <= 0 {
		config.MaxCanvasArea = DefaultMaxCanvasArea
	}
	filter, err := ParseFilter(config.Resample)
	if err != nil {
		return nil, err
	}
	return &Compositor{filter: filter, config: config}, nil
}

// ParseFilter maps a resampling filter name to its imaging filter
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom", "bicubic":
		return imaging.CatmullRom, nil
	case "linear", "bilinear":
		return imaging.Linear, nil
	case "box":
		return imaging.Box, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
}

// Placement is where the scaled source lands on the canvas. Offsets are
// negative on the overflowing axis.
type Placement struct {
	DrawWidth  float64
	DrawHeight float64
	OffsetX    float64
	OffsetY    float64
}

// CoverFit scales source so that it covers target completely, matching
// target exactly on one axis and centering the overflow on the other
func CoverFit(source, target types.Dimensions) Placement {
	sourceAspect := float64(source.Width) / float64(source.Height)
	targetAspect := float64(target.Width) / float64(target.Height)

	p := Placement{DrawWidth: float64(target.Width), DrawHeight: float64(target.Height)}
	if sourceAspect > targetAspect {
		p.DrawWidth = float64(target.Height) * sourceAspect
	} else {
		p.DrawHeight = float64(target.Width) / sourceAspect
	}
	p.OffsetX = (float64(target.Width) - p.DrawWidth) / 2
	p.OffsetY = (float64(target.Height) - p.DrawHeight) / 2
	return p
}

// SourceRect returns the part of a source of the given size that lands on
// the canvas, in source pixels. Only the overflowing axis is trimmed.
func (p Placement) SourceRect(source, target types.Dimensions) image.Rectangle {
	scale := p.DrawWidth / float64(source.Width)
	w := min(max(int(math.Round(float64(target.Width)/scale)), 1), source.Width)
	h := min(max(int(math.Round(float64(target.Height)/scale)), 1), source.Height)
	x := (source.Width - w) / 2
	y := (source.Height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Composite draws source cover-fit into a target sized RGBA canvas, clipped
// to mask. Pixels outside the mask are fully transparent; pixels inside carry
// the source content, including any source transparency.
func (c *Compositor) Composite(ctx context.Context, source image.Image, target types.Dimensions, mask types.MaskShape) (*image.RGBA, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: nil source", types.ErrInvalidInput)
	}
	sb := source.Bounds()
	if sb.Empty() {
		return nil, fmt.Errorf("%w: empty source", types.ErrInvalidInput)
	}
	if err := c.checkSurface(target); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// crop to the visible part first so the overflow is never resampled
	src := types.Dimensions{Width: sb.Dx(), Height: sb.Dy()}
	visible := CoverFit(src, target).SourceRect(src, target).Add(sb.Min)
	scaled := imaging.Resize(imaging.Crop(source, visible), target.Width, target.Height, c.filter)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	clip := BuildMask(target, mask)
	draw.DrawMask(canvas, canvas.Bounds(), scaled, image.Point{}, clip, image.Point{}, draw.Src)
	return canvas, nil
}

func (c *Compositor) checkSurface(d types.Dimensions) error {
	if d.Width > c.config.MaxCanvasSide || d.Height > c.config.MaxCanvasSide ||
		int64(d.Width)*int64(d.Height) > int64(c.config.MaxCanvasArea) {
		return fmt.Errorf("%w: %s exceeds canvas limits (side %d, area %d)",
			types.ErrRenderingBackendUnavailable, d, c.config.MaxCanvasSide, c.config.MaxCanvasArea)
	}
	return nil
}

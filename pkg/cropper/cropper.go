package cropper

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/webp-converter/pkg/types"
)

// Planner turns interactively drawn crop regions into exact source pixels
type Planner struct {
	config CropConfig
}

// CropConfig holds configuration for crop planning
type CropConfig struct {
	// Coverage is the share (in percent) of the limiting axis covered by the
	// initial region
	Coverage float64
}

// AspectRatio represents common aspect ratios
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Square     = AspectRatio{1, 1, "square"}
	Portrait   = AspectRatio{3, 4, "portrait"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
	Instagram  = AspectRatio{4, 5, "instagram"}
	Story      = AspectRatio{9, 16, "story"}
)

// CommonAspectRatios returns a list of commonly used aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape, Widescreen, Instagram, Story}
}

// Ratio returns width/height
func (a AspectRatio) Ratio() float64 {
	return float64(a.Width) / float64(a.Height)
}

// ParseAspectRatio accepts a preset name ("square") or "W:H"
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range CommonAspectRatios() {
		if r.Name == s {
			return r, nil
		}
	}
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return AspectRatio{}, fmt.Errorf("%w: unknown aspect ratio %q", types.ErrInvalidInput, s)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return AspectRatio{}, fmt.Errorf("%w: invalid aspect ratio %q", types.ErrInvalidInput, s)
	}
	return AspectRatio{wi, hi, s}, nil
}

// New creates a new Planner with default configuration
func New() *Planner {
	return &Planner{
		config: CropConfig{
			Coverage: 90,
		},
	}
}

// NewWithConfig creates a new Planner with custom configuration
func NewWithConfig(config CropConfig) *Planner {
	if config.Coverage <= 0 || config.Coverage > 100 {
		config.Coverage = 90
	}
	return &Planner{config: config}
}

// DefaultRegion is the free-form initial region, centered and covering
// Coverage percent of each axis
func (p *Planner) DefaultRegion() types.CropRegion {
	c := p.config.Coverage
	return types.CropRegion{
		X:      (100 - c) / 2,
		Y:      (100 - c) / 2,
		Width:  c,
		Height: c,
		Unit:   types.UnitPercent,
	}
}

// CenterAspectCrop returns the largest centered region with the given aspect
// that covers at most Coverage percent of the limiting axis. A non-positive
// aspect yields DefaultRegion.
func (p *Planner) CenterAspectCrop(source types.Dimensions, aspect float64) types.CropRegion {
	if aspect <= 0 || !source.Valid() {
		return p.DefaultRegion()
	}

	c := p.config.Coverage
	w, h := float64(source.Width), float64(source.Height)

	width := math.Min(c, h*aspect*c/w)
	height := width * w / (h * aspect)

	return types.CropRegion{
		X:          (100 - width) / 2,
		Y:          (100 - height) / 2,
		Width:      width,
		Height:     height,
		Unit:       types.UnitPercent,
		AspectLock: aspect,
	}
}

// ScaleFromDisplay converts a pixel region drawn on a scaled preview of
// natural size into natural pixels. Percent regions are size independent and
// returned unchanged.
func ScaleFromDisplay(region types.CropRegion, display, natural types.Dimensions) types.CropRegion {
	if region.Unit != types.UnitPixel || !display.Valid() || !natural.Valid() {
		return region
	}
	scaleX := float64(natural.Width) / float64(display.Width)
	scaleY := float64(natural.Height) / float64(display.Height)

	region.X *= scaleX
	region.Y *= scaleY
	region.Width *= scaleX
	region.Height *= scaleY
	return region
}

// ConstrainAspect enforces region.AspectLock (in source pixels) while keeping
// the region's origin and width, shrinking it when the locked height would
// leave the source.
func (p *Planner) ConstrainAspect(region types.CropRegion, source types.Dimensions) types.CropRegion {
	if region.AspectLock <= 0 || !source.Valid() {
		return region
	}

	sx, sy := 1.0, 1.0
	if region.Unit == types.UnitPercent {
		sx = float64(source.Width) / 100
		sy = float64(source.Height) / 100
	}

	x := clamp(region.X*sx, 0, float64(source.Width))
	y := clamp(region.Y*sy, 0, float64(source.Height))
	width := clamp(region.Width*sx, 0, float64(source.Width)-x)
	height := width / region.AspectLock

	if maxH := float64(source.Height) - y; height > maxH {
		height = maxH
		width = height * region.AspectLock
	}

	region.X = x / sx
	region.Y = y / sy
	region.Width = width / sx
	region.Height = height / sy
	return region
}

// Normalize converts region into exact pixel coordinates of source. Edges are
// rounded independently so that adjacent regions tile without gaps; a side
// that collapses to zero that way falls back to its rounded length.
func (p *Planner) Normalize(region types.CropRegion, source types.Dimensions) (types.PixelCropRegion, error) {
	if err := source.Validate(); err != nil {
		return types.PixelCropRegion{}, err
	}
	for _, v := range []float64{region.X, region.Y, region.Width, region.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.PixelCropRegion{}, fmt.Errorf("%w: non-finite crop value in %s", types.ErrInvalidInput, region)
		}
	}

	sx, sy := 1.0, 1.0
	switch region.Unit {
	case types.UnitPercent, "":
		sx = float64(source.Width) / 100
		sy = float64(source.Height) / 100
	case types.UnitPixel:
	default:
		return types.PixelCropRegion{}, fmt.Errorf("%w: unknown crop unit %q", types.ErrInvalidInput, region.Unit)
	}

	x0, x1 := roundEdges(region.X*sx, region.Width*sx)
	y0, y1 := roundEdges(region.Y*sy, region.Height*sy)
	px := types.PixelCropRegion{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if err := checkBounds(px, source); err != nil {
		return types.PixelCropRegion{}, err
	}
	return px, nil
}

// Extract copies region out of source into a new buffer of exactly
// region.Width x region.Height pixels
func (p *Planner) Extract(source *types.Raster, region types.PixelCropRegion) (*types.Raster, error) {
	if source == nil || source.Image == nil {
		return nil, fmt.Errorf("%w: no source to crop", types.ErrInvalidInput)
	}
	if err := checkBounds(region, source.Dimensions()); err != nil {
		return nil, err
	}

	rect := region.Rect().Add(source.Image.Bounds().Min)
	return types.NewRaster(imaging.Crop(source.Image, rect), source.Format), nil
}

// Crop normalizes region against source and extracts it. A region with an
// aspect lock is validated as drawn, then constrained to its aspect.
func (p *Planner) Crop(source *types.Raster, region types.CropRegion) (*types.Raster, types.PixelCropRegion, error) {
	if source == nil || source.Image == nil {
		return nil, types.PixelCropRegion{}, fmt.Errorf("%w: no source to crop", types.ErrInvalidInput)
	}
	px, err := p.Normalize(region, source.Dimensions())
	if err != nil {
		return nil, types.PixelCropRegion{}, err
	}
	if region.AspectLock > 0 {
		px, err = p.Normalize(p.ConstrainAspect(region, source.Dimensions()), source.Dimensions())
		if err != nil {
			return nil, types.PixelCropRegion{}, err
		}
	}
	out, err := p.Extract(source, px)
	if err != nil {
		return nil, types.PixelCropRegion{}, err
	}
	return out, px, nil
}

func checkBounds(r types.PixelCropRegion, source types.Dimensions) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: zero-area region %dx%d", types.ErrOutOfBounds, r.Width, r.Height)
	}
	if r.X < 0 || r.Y < 0 || r.X+r.Width > source.Width || r.Y+r.Height > source.Height {
		return fmt.Errorf("%w: region (%d,%d)-(%d,%d) outside image bounds %s",
			types.ErrOutOfBounds, r.X, r.Y, r.X+r.Width, r.Y+r.Height, source)
	}
	return nil
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func roundEdges(start, length float64) (int, int) {
	lo, hi := roundInt(start), roundInt(start+length)
	if hi == lo {
		hi = lo + roundInt(length)
	}
	return lo, hi
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

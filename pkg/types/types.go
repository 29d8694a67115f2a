package types

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// DefaultQuality is the WebP quality used when a request carries none
const DefaultQuality = 0.92

// MaxBorderRadius is the upper bound for a user supplied corner radius
const MaxBorderRadius = 100

// Dimensions is a target canvas size in pixels
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Validate returns ErrInvalidDimension for non-positive sides
func (d Dimensions) Validate() error {
	if !d.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimension, d.Width, d.Height)
	}
	return nil
}

// AspectRatio returns width/height, or 0 for an invalid size
func (d Dimensions) AspectRatio() float64 {
	if !d.Valid() {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// WithWidth returns a copy with the given width. When aspect is positive the
// height follows as round(width/aspect).
func (d Dimensions) WithWidth(width int, aspect float64) Dimensions {
	if aspect <= 0 {
		return Dimensions{Width: width, Height: d.Height}
	}
	return Dimensions{Width: width, Height: int(math.Round(float64(width) / aspect))}
}

// WithHeight returns a copy with the given height. When aspect is positive the
// width follows as round(height*aspect).
func (d Dimensions) WithHeight(height int, aspect float64) Dimensions {
	if aspect <= 0 {
		return Dimensions{Width: d.Width, Height: height}
	}
	return Dimensions{Width: int(math.Round(float64(height) * aspect)), Height: height}
}

// Fit resolves a requested size against d. A zero side follows d's aspect
// ratio; when both are zero d is returned unchanged.
func (d Dimensions) Fit(width, height int) Dimensions {
	switch {
	case width == 0 && height == 0:
		return d
	case height == 0:
		return d.WithWidth(width, d.AspectRatio())
	case width == 0:
		return d.WithHeight(height, d.AspectRatio())
	}
	return Dimensions{Width: width, Height: height}
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// CropUnit selects how CropRegion coordinates are interpreted
type CropUnit string

const (
	UnitPercent CropUnit = "%"
	UnitPixel   CropUnit = "px"
)

// ParseCropUnit accepts "%", "percent", "px" and "pixel"
func ParseCropUnit(s string) (CropUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "%", "percent", "":
		return UnitPercent, nil
	case "px", "pixel", "pixels":
		return UnitPixel, nil
	}
	return "", fmt.Errorf("%w: unknown crop unit %q", ErrInvalidInput, s)
}

// CropRegion is a user drawn region, relative to the natural size of the
// source it was drawn against
type CropRegion struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Unit   CropUnit `json:"unit"`
	// AspectLock constrains width/height while the region is resized. Zero means free.
	AspectLock float64 `json:"aspect,omitempty"`
}

// ParseCropRegion parses "x,y,w,h" in the given unit
func ParseCropRegion(s string, unit CropUnit) (CropRegion, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return CropRegion{}, fmt.Errorf("%w: crop must be x,y,w,h, got %q", ErrInvalidInput, s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return CropRegion{}, fmt.Errorf("%w: crop value %q: %v", ErrInvalidInput, p, err)
		}
		vals[i] = v
	}
	return CropRegion{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3], Unit: unit}, nil
}

func (r CropRegion) String() string {
	return fmt.Sprintf("crop(x=%.2f,y=%.2f,w=%.2f,h=%.2f%s)", r.X, r.Y, r.Width, r.Height, r.Unit)
}

// PixelCropRegion is a crop region in exact source pixels
type PixelCropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the region as an image.Rectangle
func (r PixelCropRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Dimensions returns the size of the region
func (r PixelCropRegion) Dimensions() Dimensions {
	return Dimensions{Width: r.Width, Height: r.Height}
}

// MaskKind enumerates the supported clip shapes
type MaskKind int

const (
	MaskNone MaskKind = iota
	MaskRoundedRect
	MaskCircle
)

func (k MaskKind) String() string {
	switch k {
	case MaskRoundedRect:
		return "rounded"
	case MaskCircle:
		return "circle"
	default:
		return "none"
	}
}

// MaskShape is the clip applied to the output canvas. Radius is only
// meaningful for MaskRoundedRect and is always within [0, MaxBorderRadius].
type MaskShape struct {
	Kind   MaskKind `json:"kind"`
	Radius int      `json:"radius,omitempty"`
}

// NoMask keeps the full rectangle
func NoMask() MaskShape { return MaskShape{Kind: MaskNone} }

// Circle clips to the largest centered disk
func Circle() MaskShape { return MaskShape{Kind: MaskCircle} }

// RoundedRect clips to a rectangle with circular corners. The radius is
// clamped to [0, MaxBorderRadius].
func RoundedRect(radius int) MaskShape {
	return MaskShape{Kind: MaskRoundedRect, Radius: ClampRadius(radius)}
}

// MaskFor mirrors the circle checkbox and border radius slider
func MaskFor(circle bool, radius int) MaskShape {
	switch {
	case circle:
		return Circle()
	case radius > 0:
		return RoundedRect(radius)
	default:
		return NoMask()
	}
}

// ClampRadius bounds a user supplied radius to [0, MaxBorderRadius]
func ClampRadius(radius int) int {
	if radius < 0 {
		return 0
	}
	if radius > MaxBorderRadius {
		return MaxBorderRadius
	}
	return radius
}

// EffectiveRadius is the radius used when rasterizing against target: half the
// shorter side for circles, the clamped corner radius (never above half the
// shorter side) for rounded rectangles, zero otherwise.
func (m MaskShape) EffectiveRadius(target Dimensions) float64 {
	half := float64(min(target.Width, target.Height)) / 2
	switch m.Kind {
	case MaskCircle:
		return half
	case MaskRoundedRect:
		return math.Min(float64(ClampRadius(m.Radius)), half)
	default:
		return 0
	}
}

// ParseMask parses "none", "circle", "rounded:<radius>" or a bare radius
func ParseMask(s string) (MaskShape, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "rect":
		return NoMask(), nil
	case "circle":
		return Circle(), nil
	}
	s = strings.TrimPrefix(s, "rounded:")
	r, err := strconv.Atoi(s)
	if err != nil {
		return MaskShape{}, fmt.Errorf("%w: unknown mask %q", ErrInvalidInput, s)
	}
	return RoundedRect(r), nil
}

func (m MaskShape) String() string {
	if m.Kind == MaskRoundedRect {
		return fmt.Sprintf("rounded:%d", m.Radius)
	}
	return m.Kind.String()
}

// Raster is a decoded image. It must not be mutated once published.
type Raster struct {
	Image  image.Image
	Format string
}

// NewRaster wraps a decoded image
func NewRaster(img image.Image, format string) *Raster {
	return &Raster{Image: img, Format: format}
}

// Width returns the natural width
func (r *Raster) Width() int { return r.Image.Bounds().Dx() }

// Height returns the natural height
func (r *Raster) Height() int { return r.Image.Bounds().Dy() }

// Dimensions returns the natural size
func (r *Raster) Dimensions() Dimensions {
	return Dimensions{Width: r.Width(), Height: r.Height()}
}

// ConversionRequest is an immutable snapshot of everything needed to produce
// one output
type ConversionRequest struct {
	Seq     uint64
	Source  *Raster
	Target  Dimensions
	Mask    MaskShape
	Quality float64
}

// EncodedImage is the output byte stream of one conversion
type EncodedImage struct {
	Data     []byte
	Size     int
	MimeType string
	Width    int
	Height   int
}

// Extension returns the file extension for the encoded format, without the dot
func (e EncodedImage) Extension() string {
	if i := strings.LastIndex(e.MimeType, "/"); i >= 0 {
		return e.MimeType[i+1:]
	}
	return "webp"
}

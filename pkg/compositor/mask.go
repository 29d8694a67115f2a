package compositor

import (
	"image"

	"github.com/menta2k/webp-converter/pkg/types"
)

// BuildMask rasterizes the clip path for mask against target. The result
// depends on target only. A pixel is inside when its center is inside the
// path; inside pixels are 255, outside pixels 0.
func BuildMask(target types.Dimensions, mask types.MaskShape) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, target.Width, target.Height))
	w, h := float64(target.Width), float64(target.Height)
	r := mask.EffectiveRadius(target)

	var inside func(px, py float64) bool
	switch {
	case mask.Kind == types.MaskCircle:
		cx, cy := w/2, h/2
		inside = func(px, py float64) bool {
			dx, dy := px-cx, py-cy
			return dx*dx+dy*dy <= r*r
		}
	case mask.Kind == types.MaskRoundedRect && r > 0:
		inside = func(px, py float64) bool {
			return insideRoundedRect(px, py, w, h, r)
		}
	default:
		for i := range m.Pix {
			m.Pix[i] = 0xff
		}
		return m
	}

	for y := 0; y < target.Height; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+target.Width]
		py := float64(y) + 0.5
		for x := range row {
			if inside(float64(x)+0.5, py) {
				row[x] = 0xff
			}
		}
	}
	return m
}

// insideRoundedRect tests a point against a w x h rectangle whose corners
// are quarter circles of radius r
func insideRoundedRect(px, py, w, h, r float64) bool {
	var cx, cy float64
	switch {
	case px < r:
		cx = r
	case px > w-r:
		cx = w - r
	default:
		return true
	}
	switch {
	case py < r:
		cy = r
	case py > h-r:
		cy = h - r
	default:
		return true
	}
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= r*r
}

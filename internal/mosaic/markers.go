package mosaic

import (
	"image"
	"image/color"

	"github.com/paulmach/orb"
)

// MarkerStyle controls how point markers are rasterized.
type MarkerStyle struct {
	Color  color.NRGBA
	Radius int // pixels
}

// DefaultMarkerStyle matches the workshop's red point markers.
func DefaultMarkerStyle() MarkerStyle {
	return MarkerStyle{Color: color.NRGBA{R: 214, G: 40, B: 40, A: 255}, Radius: 6}
}

// RenderMarkers rasterizes points as filled circles onto a transparent
// image with the base raster's dimensions and georeferencing, ready to
// be stacked with CompositeOverlay. Points outside the base box are
// dropped silently.
func RenderMarkers(base *Raster, points []orb.Point, style MarkerStyle) image.Image {
	out := image.NewNRGBA(image.Rect(0, 0, base.Width(), base.Height()))

	for _, p := range points {
		if !base.Box.Contains(p) {
			continue
		}
		cx := int((p.X() - base.Box.Min.X()) / base.Resolution)
		cy := int((base.Box.Max.Y() - p.Y()) / base.Resolution)
		fillCircle(out, cx, cy, style.Radius, style.Color)
	}
	return out
}

func fillCircle(img *image.NRGBA, cx, cy, r int, c color.NRGBA) {
	b := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			x, y := cx+dx, cy+dy
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			img.SetNRGBA(x, y, c)
		}
	}
}

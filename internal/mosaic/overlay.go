package mosaic

import (
	"fmt"
	"image"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

// CompositeOverlay stacks overlay images on a base raster, bottom to top
// in the given order. Any overlay pixel with non-zero alpha replaces the
// accumulated pixel outright; fully transparent pixels leave it
// untouched. This is stacking, not alpha blending, matching the source
// tool's documented behavior. Every overlay must have the base's exact
// pixel dimensions.
func CompositeOverlay(base *Raster, overlays []image.Image) (*Raster, error) {
	w := base.Width()
	h := base.Height()
	for i, overlay := range overlays {
		ob := overlay.Bounds()
		if ob.Dx() != w || ob.Dy() != h {
			return nil, fmt.Errorf("%w: overlay %d is %dx%d, base is %dx%d",
				domain.ErrDimensionMismatch, i, ob.Dx(), ob.Dy(), w, h)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, base.Image.Pix)

	for _, overlay := range overlays {
		src := toNRGBA(overlay)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				px := src.NRGBAAt(x, y)
				if px.A == 0 {
					continue
				}
				out.SetNRGBA(x, y, px)
			}
		}
	}

	return &Raster{Image: out, Box: base.Box, Resolution: base.Resolution}, nil
}

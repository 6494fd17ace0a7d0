package mosaic

import (
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

// resolutionTolerance is the relative difference below which two tile
// resolutions are considered equal.
const resolutionTolerance = 1e-6

// Merge combines same-resolution tiles into one raster covering the
// union of their boxes. Where tiles overlap on shared boundaries the
// first tile in input order wins; pixels are copied, never blended, so
// the result is deterministic for any input order.
func Merge(tiles []*Raster) (*Raster, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w: no tiles to merge", domain.ErrInvalidParameter)
	}

	first := tiles[0]
	union := first.Box.Bound()
	for _, tile := range tiles[1:] {
		if relDiff(tile.Resolution, first.Resolution) > resolutionTolerance {
			return nil, fmt.Errorf("%w: resolution %g differs from %g",
				domain.ErrIncompatibleTiles, tile.Resolution, first.Resolution)
		}
		if tile.Box.CRS != first.Box.CRS {
			return nil, fmt.Errorf("%w: CRS %q differs from %q",
				domain.ErrIncompatibleTiles, tile.Box.CRS, first.Box.CRS)
		}
		union = union.Union(tile.Box.Bound())
	}

	res := first.Resolution
	outW := int(math.Round((union.Max.X() - union.Min.X()) / res))
	outH := int(math.Round((union.Max.Y() - union.Min.Y()) / res))
	out := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	claimed := make([]bool, outW*outH)

	for _, tile := range tiles {
		// Pixel offset of the tile's top-left corner in the output; y
		// grows southward while the CRS y axis grows northward.
		offX := int(math.Round((tile.Box.Min.X() - union.Min.X()) / res))
		offY := int(math.Round((union.Max.Y() - tile.Box.Max.Y()) / res))

		w := tile.Width()
		h := tile.Height()
		for y := 0; y < h; y++ {
			oy := offY + y
			if oy < 0 || oy >= outH {
				continue
			}
			for x := 0; x < w; x++ {
				ox := offX + x
				if ox < 0 || ox >= outW {
					continue
				}
				idx := oy*outW + ox
				if claimed[idx] {
					continue
				}
				claimed[idx] = true
				out.SetNRGBA(ox, oy, tile.Image.NRGBAAt(x, y))
			}
		}
	}

	return &Raster{
		Image: out,
		Box: domain.BoundingBox{
			Min: orb.Point{union.Min.X(), union.Min.Y()},
			Max: orb.Point{union.Max.X(), union.Max.Y()},
			CRS: first.Box.CRS,
		},
		Resolution: res,
	}, nil
}

func relDiff(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}

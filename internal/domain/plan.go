package domain

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/paulmach/orb"
)

// TileSpec is one planned download: a sub-box of the parent region, the
// grid cell it occupies, the service it targets, and the file it lands in.
type TileSpec struct {
	Box        BoundingBox
	Row, Col   int
	Service    string
	Format     string
	Resolution float64 // CRS units per pixel
	Path       string
}

// ID identifies the tile within its plan, e.g. "elevation/r0/c1".
func (s TileSpec) ID() string {
	return fmt.Sprintf("%s/r%d/c%d", s.Service, s.Row, s.Col)
}

// PixelSize returns the tile's raster dimensions at its resolution.
func (s TileSpec) PixelSize() (w, h int) {
	w = int(math.Round(s.Box.Width() / s.Resolution))
	h = int(math.Round(s.Box.Height() / s.Resolution))
	return w, h
}

// TilePlan is an ordered set of TileSpecs whose boxes exactly tile the
// parent box, grouped by service, row-major within a service.
type TilePlan struct {
	Box        BoundingBox
	Resolution float64
	Rows, Cols int
	Tiles      []TileSpec
}

// Plan partitions box into a grid of tiles sized so that no tile exceeds
// maxCellsPerTile pixels at the given resolution, and emits one TileSpec
// per grid cell per service. resolution is in CRS units per pixel.
// Remainder space goes to the last row and column; all other tiles are
// identical, keeping boundaries predictable for the overlap-free merge.
func Plan(box BoundingBox, resolution float64, services []Service, maxCellsPerTile int, outputDir string) (TilePlan, error) {
	if resolution <= 0 {
		return TilePlan{}, fmt.Errorf("%w: resolution must be positive, got %g", ErrInvalidParameter, resolution)
	}
	if maxCellsPerTile <= 0 {
		return TilePlan{}, fmt.Errorf("%w: max cells per tile must be positive, got %d", ErrInvalidParameter, maxCellsPerTile)
	}
	if len(services) == 0 {
		return TilePlan{}, fmt.Errorf("%w: at least one service required", ErrInvalidParameter)
	}
	if err := box.Validate(); err != nil {
		return TilePlan{}, err
	}

	maxTileSide := math.Sqrt(float64(maxCellsPerTile)) * resolution
	cols := int(math.Ceil(box.Width() / maxTileSide))
	rows := int(math.Ceil(box.Height() / maxTileSide))

	tileW := maxTileSide
	tileH := maxTileSide
	if cols == 1 {
		tileW = box.Width()
	}
	if rows == 1 {
		tileH = box.Height()
	}

	plan := TilePlan{
		Box:        box,
		Resolution: resolution,
		Rows:       rows,
		Cols:       cols,
		Tiles:      make([]TileSpec, 0, rows*cols*len(services)),
	}

	for _, svc := range services {
		for r := 0; r < rows; r++ {
			// Row 0 is the northernmost row.
			maxY := box.Max.Y() - float64(r)*tileH
			minY := maxY - tileH
			if r == rows-1 {
				minY = box.Min.Y()
			}
			for c := 0; c < cols; c++ {
				minX := box.Min.X() + float64(c)*tileW
				maxX := minX + tileW
				if c == cols-1 {
					maxX = box.Max.X()
				}
				plan.Tiles = append(plan.Tiles, TileSpec{
					Box: BoundingBox{
						Min: orb.Point{minX, minY},
						Max: orb.Point{maxX, maxY},
						CRS: box.CRS,
					},
					Row:        r,
					Col:        c,
					Service:    svc.Name,
					Format:     svc.Format,
					Resolution: resolution,
					Path:       filepath.Join(outputDir, fmt.Sprintf("%s_r%d_c%d.%s", svc.Name, r, c, svc.FileExt())),
				})
			}
		}
	}
	return plan, nil
}

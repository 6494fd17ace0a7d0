// Package mosaic merges same-resolution raster tiles into contiguous
// rasters and composites overlay images on top of them.
package mosaic

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	// Register decoders so tiles decode through image.Decode regardless
	// of the format the service returned.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

// Raster is a decoded image georeferenced by its bounding box and
// resolution. Read-only after construction.
type Raster struct {
	Image      *image.NRGBA
	Box        domain.BoundingBox
	Resolution float64 // CRS units per pixel
}

// Width returns the raster width in pixels.
func (r *Raster) Width() int { return r.Image.Bounds().Dx() }

// Height returns the raster height in pixels.
func (r *Raster) Height() int { return r.Image.Bounds().Dy() }

// ReadTile decodes a downloaded tile file into a Raster georeferenced by
// its TileSpec.
func ReadTile(spec domain.TileSpec) (*Raster, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open tile %s: %w", spec.ID(), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", spec.ID(), err)
	}
	return &Raster{
		Image:      toNRGBA(img),
		Box:        spec.Box,
		Resolution: spec.Resolution,
	}, nil
}

// WritePNG persists the raster as a PNG file.
func (r *Raster) WritePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mosaic file: %w", err)
	}
	if err := png.Encode(f, r.Image); err != nil {
		f.Close()
		return fmt.Errorf("encode mosaic: %w", err)
	}
	return f.Close()
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	out := image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
